package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/internal/vertex/domain/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeNewItem(t *testing.T) {
	h := newHarness(t)
	inv := h.newInvoice(1, externalCharge("100"))

	items := h.compute(t, inv, false)
	require.Len(t, items, 1)
	tax := items[0]
	assert.Equal(t, billingdomain.ItemTypeTax, tax.Type)
	assert.Equal(t, "8.63", tax.Amount.String())
	assert.Equal(t, "CALIFORNIA STATE TAX", tax.Description)
	assert.Equal(t, inv.ID, tax.InvoiceID)
	assert.Equal(t, inv.Items[0].ID, *tax.LinkedItemID)
	assert.JSONEq(t, `{"taxRate":0.0863}`, tax.ItemDetails)

	calls := h.engine.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, vertexdomain.SaleMessageTypeInvoice, calls[0].SaleMessageType)
	assert.Equal(t, "Acme", calls[0].Seller.Company)
	assert.Equal(t, inv.InvoiceDate, calls[0].PostingDate.Time)

	records := h.records(t, inv.ID)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, taxdomain.ResultCodeSuccess, rec.ResultCode)
	assert.Equal(t, calls[0].DocumentNumber, *rec.DocCode)
	assert.Equal(t, h.account.ID, rec.AccountID)
	assert.Equal(t, h.tenant.TenantID, rec.TenantID)
	assert.Equal(t, "8.63", rec.TotalTax.Decimal.String())
	assert.True(t, rec.CreatedAt.Equal(h.clock.Now()))
	assert.JSONEq(t, `{"`+inv.Items[0].ID.String()+`":[]}`, string(rec.InvoiceItemIDs))
}

func TestComputeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	inv := h.newInvoice(1, externalCharge("100"))

	first := h.compute(t, inv, false)
	require.Len(t, first, 1)
	inv = h.addItems(inv, first...)

	again := h.compute(t, inv, false)
	assert.NotNil(t, again)
	assert.Empty(t, again)
	assert.Len(t, h.engine.calls(), 1)
	assert.Len(t, h.records(t, inv.ID), 1)
}

func TestComputeItemAdjustment(t *testing.T) {
	h := newHarness(t)
	inv := h.newInvoice(1, externalCharge("100"))
	taxed := h.compute(t, inv, false)
	inv = h.addItems(inv, taxed...)

	adjustment := adjustmentFor(inv.Items[0], "-50")
	adjustment.StartDate = date(2024, 1, 20)
	adjustment.EndDate = date(2024, 1, 20)
	inv = h.addItems(inv, adjustment)

	items := h.compute(t, inv, false)
	require.Len(t, items, 1)
	refund := items[0]
	assert.True(t, refund.Amount.LessThanOrEqual(decimal.RequireFromString("-4.31")))
	assert.True(t, refund.Amount.GreaterThanOrEqual(decimal.RequireFromString("-4.32")))
	assert.Equal(t, adjustment.StartDate, refund.StartDate)
	assert.Equal(t, inv.Items[0].ID, *refund.LinkedItemID)

	calls := h.engine.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].DocumentNumber, calls[1].OriginalInvoiceReference)
	assert.Equal(t, -50.0, calls[1].LineItems[0].ExtendedPrice)

	// 50 remains taxed at the engine rate.
	net := sumItems(append(taxed, items...))
	expected := decimal.RequireFromString("50").Mul(h.engine.rate)
	assert.True(t, net.Sub(expected).Abs().LessThanOrEqual(decimal.RequireFromString("0.01")), "net tax %s", net)

	inv = h.addItems(inv, items...)
	assert.Empty(t, h.compute(t, inv, false))
	assert.Len(t, h.engine.calls(), 2)
	assert.Len(t, h.records(t, inv.ID), 2)
}

func TestComputeRepairUsesOriginalInvoiceReference(t *testing.T) {
	h := newHarness(t)
	original := h.newInvoice(1, externalCharge("100"))
	originalTax := h.compute(t, original, false)
	original = h.addItems(original, originalTax...)

	repairing := testInvoice(2, externalCharge("20"))
	repairing.AccountID = h.account.ID
	repairing.InvoiceDate = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	h.billing.PutInvoice(h.tenant, repairing)
	ownTax := h.compute(t, repairing, false)
	require.Len(t, ownTax, 1)
	repairing = h.addItems(repairing, ownTax...)

	repair := adjustmentFor(original.Items[0], "-50")
	repair.Type = billingdomain.ItemTypeRepairAdjustment
	repairing = h.addItems(repairing, repair)

	items := h.compute(t, repairing, false)
	require.Len(t, items, 1)
	assert.Equal(t, repairing.ID, items[0].InvoiceID)
	assert.Equal(t, original.Items[0].ID, *items[0].LinkedItemID)
	assert.Equal(t, "-4.32", items[0].Amount.String())

	calls := h.engine.calls()
	require.Len(t, calls, 3)
	returnDoc := calls[2]
	assert.Equal(t, calls[0].DocumentNumber, returnDoc.OriginalInvoiceReference)
	assert.NotEqual(t, calls[1].DocumentNumber, returnDoc.OriginalInvoiceReference)
	assert.Equal(t, original.InvoiceDate, returnDoc.DocumentDate.Time)
	assert.Equal(t, repairing.InvoiceDate, returnDoc.PostingDate.Time)
	assert.Equal(t, original.Items[0].ID.String(), returnDoc.LineItems[0].LineItemID)

	assert.Len(t, h.records(t, original.ID), 1)
	assert.Len(t, h.records(t, repairing.ID), 2)

	repairing = h.addItems(repairing, items...)
	assert.Empty(t, h.compute(t, repairing, false))
	assert.Len(t, h.engine.calls(), 3)
}

func TestComputeLineWithoutTax(t *testing.T) {
	h := newHarness(t)
	h.engine.respondLine = func(line vertexdomain.LineItem) vertexdomain.SaleResponseLine {
		return vertexdomain.SaleResponseLine{LineItemID: line.LineItemID}
	}
	inv := h.newInvoice(1, externalCharge("100"))

	items, err := h.calc.Compute(context.Background(), h.account, inv, false, nil, h.tenant)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Len(t, h.records(t, inv.ID), 1)
}

func TestComputeMatchesLinesByItemID(t *testing.T) {
	h := newHarness(t)
	h.engine.respondLines = func(lines []vertexdomain.SaleResponseLine) []vertexdomain.SaleResponseLine {
		out := make([]vertexdomain.SaleResponseLine, 0, len(lines)+2)
		for i := len(lines) - 1; i >= 0; i-- {
			out = append(out, lines[i])
		}
		stray := lines[0]
		stray.LineItemID = uuid.NewString()
		garbled := lines[0]
		garbled.LineItemID = "line-1"
		return append(out, stray, garbled)
	}
	inv := h.newInvoice(1, externalCharge("100"), externalCharge("40"), externalCharge("10"))

	items := h.compute(t, inv, false)
	require.Len(t, items, 3)
	byItem := make(map[uuid.UUID]string, len(items))
	for _, item := range items {
		require.NotNil(t, item.LinkedItemID)
		byItem[*item.LinkedItemID] = item.Amount.String()
	}
	assert.Equal(t, map[uuid.UUID]string{
		inv.Items[0].ID: "8.63",
		inv.Items[1].ID: "3.45",
		inv.Items[2].ID: "0.86",
	}, byItem)

	inv = h.addItems(inv, items...)
	assert.Empty(t, h.compute(t, inv, false))
	assert.Len(t, h.engine.calls(), 1)
}

func TestComputeNewItemWithSameInvoiceAdjustment(t *testing.T) {
	h := newHarness(t)
	item := externalCharge("100")
	inv := h.newInvoice(1, item)
	inv = h.addItems(inv, adjustmentFor(inv.Items[0], "-30"))

	items := h.compute(t, inv, false)
	require.Len(t, items, 2)
	assert.Equal(t, "8.63", items[0].Amount.String())
	assert.Equal(t, "-2.59", items[1].Amount.String())

	calls := h.engine.calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].OriginalInvoiceReference)
	assert.Equal(t, calls[0].DocumentNumber, calls[1].OriginalInvoiceReference)

	inv = h.addItems(inv, items...)
	assert.Empty(t, h.compute(t, inv, false))
	assert.Len(t, h.records(t, inv.ID), 2)
}

func TestComputeDryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	inv := h.newInvoice(1, externalCharge("100"))
	inv = h.addItems(inv, adjustmentFor(inv.Items[0], "-30"))

	first := h.compute(t, inv, true)
	require.Len(t, first, 2)
	second := h.compute(t, inv, true)
	require.Len(t, second, 2)

	calls := h.engine.calls()
	require.Len(t, calls, 4)
	for _, call := range calls {
		assert.Equal(t, vertexdomain.SaleMessageTypeQuotation, call.SaleMessageType)
	}
	assert.Equal(t, calls[0].DocumentNumber, calls[1].OriginalInvoiceReference)
	assert.Empty(t, h.records(t, inv.ID))
}

func TestComputeBatchIsolation(t *testing.T) {
	h := newHarness(t)
	original := h.newInvoice(1, externalCharge("100"))
	original = h.addItems(original, h.compute(t, original, false)...)

	current := h.newInvoice(2, externalCharge("40"))
	repair := adjustmentFor(original.Items[0], "-50")
	repair.Type = billingdomain.ItemTypeRepairAdjustment
	current = h.addItems(current, repair)

	h.engine.failCalculate = func(req *vertexdomain.SaleRequest) error {
		if req.OriginalInvoiceReference == "" {
			return &vertexdomain.APIError{Operation: "calculate", StatusCode: 400, Body: `{"errors":[{"detail":"bad address"}]}`}
		}
		return nil
	}

	items, err := h.calc.Compute(context.Background(), h.account, current, false, nil, h.tenant)
	require.Error(t, err)
	assert.Nil(t, items)
	var apiErr *vertexdomain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)

	// Both documents were attempted.
	assert.Len(t, h.engine.calls(), 3)
	records := h.records(t, current.ID)
	require.Len(t, records, 2)
	assert.Equal(t, taxdomain.ResultCodeError, records[0].ResultCode)
	assert.Equal(t, `{"errors":[{"detail":"bad address"}]}`, *records[0].AdditionalData)
	assert.Nil(t, records[0].DocCode)
	assert.Equal(t, taxdomain.ResultCodeSuccess, records[1].ResultCode)

	// The retry re-emits the recorded credit and only sends the sale again.
	h.engine.failCalculate = nil
	items = h.compute(t, current, false)
	require.Len(t, items, 2)
	assert.Equal(t, "-4.32", items[0].Amount.String())
	assert.Equal(t, original.Items[0].ID, *items[0].LinkedItemID)
	assert.Equal(t, current.ID, items[0].InvoiceID)
	assert.Equal(t, "3.45", items[1].Amount.String())
	assert.Len(t, h.engine.calls(), 4)

	current = h.addItems(current, items...)
	assert.Empty(t, h.compute(t, current, false))
	assert.Len(t, h.engine.calls(), 4)
}

func TestComputeTimesEngineOnClock(t *testing.T) {
	h := newHarness(t)
	registry := prometheus.NewRegistry()
	h.calc.metrics = metrics.NewTaxMetricsWithRegistry(registry, metrics.Config{})
	h.engine.failCalculate = func(*vertexdomain.SaleRequest) error {
		h.clock.Advance(1500 * time.Millisecond)
		return nil
	}

	h.compute(t, h.newInvoice(1, externalCharge("100")), false)

	families, err := registry.Gather()
	require.NoError(t, err)
	var sum float64
	for _, family := range families {
		if family.GetName() == "vertextax_engine_request_duration_seconds" {
			sum = family.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	assert.InDelta(t, 1.5, sum, 1e-9)
}

func TestComputeReplaysRecordedItemsWithSameIDs(t *testing.T) {
	h := newHarness(t)
	inv := h.newInvoice(1, externalCharge("100"), externalCharge("20"))

	first := h.compute(t, inv, false)
	require.Len(t, first, 2)

	// Billing dropped the result of the first call.
	replayed := h.compute(t, inv, false)
	require.Len(t, replayed, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, replayed[i].ID)
		assert.True(t, first[i].Amount.Equal(replayed[i].Amount))
	}
	assert.Len(t, h.engine.calls(), 1)

	inv = h.addItems(inv, first[0])
	rest := h.compute(t, inv, false)
	require.Len(t, rest, 1)
	assert.Equal(t, first[1].ID, rest[0].ID)
	assert.Len(t, h.engine.calls(), 1)
}

func TestComputeErrorWithoutPayloadIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.engine.failCalculate = func(*vertexdomain.SaleRequest) error {
		return &vertexdomain.APIError{Operation: "calculate", StatusCode: 503}
	}
	inv := h.newInvoice(1, externalCharge("100"))

	_, err := h.calc.Compute(context.Background(), h.account, inv, false, nil, h.tenant)
	require.Error(t, err)
	assert.Empty(t, h.records(t, inv.ID))
}

func TestComputeDryRunErrorIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.engine.failCalculate = func(*vertexdomain.SaleRequest) error {
		return &vertexdomain.APIError{Operation: "calculate", StatusCode: 400, Body: "bad"}
	}
	inv := h.newInvoice(1, externalCharge("100"))

	_, err := h.calc.Compute(context.Background(), h.account, inv, true, nil, h.tenant)
	require.Error(t, err)
	assert.Empty(t, h.records(t, inv.ID))
}

func TestComputeMissingReference(t *testing.T) {
	h := newHarness(t)
	original := h.newInvoice(1, externalCharge("100"))
	repair := adjustmentFor(original.Items[0], "-50")
	repair.Type = billingdomain.ItemTypeRepairAdjustment
	current := h.newInvoice(2, repair)

	_, err := h.calc.Compute(context.Background(), h.account, current, false, nil, h.tenant)
	require.ErrorIs(t, err, taxdomain.ErrInvalidBatch)
	assert.ErrorIs(t, err, taxdomain.ErrMissingReference)
	assert.Empty(t, h.engine.calls())

	cfg := h.cfg.Get()
	cfg.SkipAnomalousAdjustments = true
	require.NoError(t, h.cfg.Set(cfg))

	items := h.compute(t, current, false)
	assert.Empty(t, items)
	assert.Empty(t, h.engine.calls())
	assert.Empty(t, h.records(t, current.ID))
}

func TestComputeSellerOriginFromConfig(t *testing.T) {
	h := newHarness(t)
	cfg := h.cfg.Get()
	cfg.Seller.City = "Austin"
	cfg.Seller.MainDivision = "TX"
	cfg.Seller.Country = "US"
	require.NoError(t, h.cfg.Set(cfg))

	h.compute(t, h.newInvoice(1, externalCharge("10")), false)
	calls := h.engine.calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Seller.PhysicalOrigin)
	assert.Equal(t, "TX", calls[0].Seller.PhysicalOrigin.MainDivision)
}

func TestComputeEngineNotConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().CalculateTax(gomock.Any(), gomock.Any()).Return(nil, vertexdomain.ErrNotConfigured)

	h := newHarnessWithClient(t, client)
	inv := h.newInvoice(1, externalCharge("100"))

	_, err := h.calc.Compute(context.Background(), h.account, inv, false, nil, h.tenant)
	require.ErrorIs(t, err, vertexdomain.ErrNotConfigured)
	assert.Empty(t, h.records(t, inv.ID))
}

func TestComputeRejectsInvoiceWithoutID(t *testing.T) {
	h := newHarness(t)
	_, err := h.calc.Compute(context.Background(), h.account, billingdomain.Invoice{}, false, nil, h.tenant)
	assert.ErrorIs(t, err, taxdomain.ErrInvalidInvoice)
}

func TestPartitionBatchesOrdersReturnsByInvoice(t *testing.T) {
	current := testInvoice(3, externalCharge("10"))
	var others []billingdomain.Invoice
	for i := 0; i < 5; i++ {
		others = append(others, testInvoice(int64(i), externalCharge("100")))
	}

	entries := []billingdomain.NewItemToTax{{TaxableItem: current.Items[0], Invoice: current}}
	for _, inv := range others {
		entries = append(entries, billingdomain.NewItemToTax{
			TaxableItem:     inv.Items[0],
			AdjustmentItems: []billingdomain.InvoiceItem{adjustmentFor(inv.Items[0], "-1")},
			Invoice:         inv,
			ReturnOnly:      true,
		})
	}

	sales, returns := partitionBatches(current, entries)
	require.NotNil(t, sales)
	assert.Equal(t, current.ID, sales.Invoice.ID)
	assert.Len(t, sales.Items, 1)
	assert.False(t, sales.IsReturn())

	require.Len(t, returns, 5)
	for i := 1; i < len(returns); i++ {
		assert.Less(t, returns[i-1].Invoice.ID.String(), returns[i].Invoice.ID.String())
	}
	for _, batch := range returns {
		assert.True(t, batch.IsReturn())
		assert.Len(t, batch.Adjustments, len(batch.Items))
	}
}

func TestPartitionBatchesWithoutSales(t *testing.T) {
	inv := testInvoice(1, externalCharge("10"))
	sales, returns := partitionBatches(inv, []billingdomain.NewItemToTax{{
		TaxableItem:     inv.Items[0],
		AdjustmentItems: []billingdomain.InvoiceItem{adjustmentFor(inv.Items[0], "-1")},
		Invoice:         inv,
		ReturnOnly:      true,
	}})
	assert.Nil(t, sales)
	require.Len(t, returns, 1)
	assert.Equal(t, []uuid.UUID{inv.Items[0].ID}, keys(returns[0].Adjustments))
}

func keys(m map[uuid.UUID][]billingdomain.InvoiceItem) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
