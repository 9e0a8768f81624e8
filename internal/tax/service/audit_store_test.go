package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAppendSuccessStoresSummary(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	accountID, invoiceID, tenantID := uuid.New(), uuid.New(), uuid.New()
	itemID, adjID := uuid.New(), uuid.New()
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	rec, err := store.AppendSuccess(ctx, accountID, invoiceID,
		taxdomain.ItemAdjustmentIDs{itemID: {adjID}},
		&vertexdomain.SaleResponse{Data: sampleResponseData()}, at, tenantID)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)

	records, err := store.ListSuccessful(ctx, invoiceID, tenantID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0]

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, taxdomain.ResultCodeSuccess, got.ResultCode)
	assert.Equal(t, "1-abcd1234", *got.DocCode)
	assert.Equal(t, "2024-01-15", got.DocDate.Format("2006-01-02"))
	assert.True(t, decimal.RequireFromString("108.63").Equal(got.TotalAmount.Decimal))
	assert.True(t, decimal.RequireFromString("8.63").Equal(got.TotalTax.Decimal))
	assert.True(t, decimal.RequireFromString("10.13").Equal(got.TotalTaxCalculated.Decimal))
	assert.True(t, decimal.RequireFromString("150").Equal(got.TotalTaxable.Decimal))
	assert.True(t, decimal.RequireFromString("15").Equal(got.TotalExemption.Decimal))
	assert.Nil(t, got.AdditionalData)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.JSONEq(t, `{"`+itemID.String()+`":["`+adjID.String()+`"]}`, string(got.InvoiceItemIDs))
	assert.Contains(t, string(got.TaxAddresses), "Berkeley")
	assert.Contains(t, string(got.TaxSummary), "SAN FRANCISCO")
	assert.Contains(t, string(got.TaxLines), "line-2")
}

func TestAppendSuccessWithoutData(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	invoiceID, tenantID := uuid.New(), uuid.New()

	_, err := store.AppendSuccess(ctx, uuid.New(), invoiceID, taxdomain.ItemAdjustmentIDs{}, &vertexdomain.SaleResponse{}, time.Now(), tenantID)
	require.NoError(t, err)

	latest, err := store.LatestSuccessful(ctx, invoiceID, tenantID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Nil(t, latest.DocCode)
	assert.False(t, latest.TotalTax.Valid)
}

func TestAppendErrorIsNotSuccessful(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	invoiceID, tenantID := uuid.New(), uuid.New()

	_, err := store.AppendError(ctx, uuid.New(), invoiceID, taxdomain.ItemAdjustmentIDs{uuid.New(): nil}, `{"error":"boom"}`, time.Now(), tenantID)
	require.NoError(t, err)

	successful, err := store.ListSuccessful(ctx, invoiceID, tenantID)
	require.NoError(t, err)
	assert.Empty(t, successful)

	latest, err := store.LatestSuccessful(ctx, invoiceID, tenantID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	all, _, err := store.ListByInvoice(ctx, invoiceID, tenantID, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, taxdomain.ResultCodeError, all[0].ResultCode)
	assert.Equal(t, `{"error":"boom"}`, *all[0].AdditionalData)
	assert.Contains(t, string(all[0].InvoiceItemIDs), "[]")
}

func TestLatestSuccessfulReturnsNewest(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	invoiceID, tenantID := uuid.New(), uuid.New()

	for _, code := range []string{"1-aaaaaaaa", "1-bbbbbbbb"} {
		data := sampleResponseData()
		data.DocumentNumber = code
		_, err := store.AppendSuccess(ctx, uuid.New(), invoiceID, taxdomain.ItemAdjustmentIDs{}, &vertexdomain.SaleResponse{Data: data}, time.Now(), tenantID)
		require.NoError(t, err)
	}
	_, err := store.AppendError(ctx, uuid.New(), invoiceID, taxdomain.ItemAdjustmentIDs{}, "late failure", time.Now(), tenantID)
	require.NoError(t, err)

	latest, err := store.LatestSuccessful(ctx, invoiceID, tenantID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1-bbbbbbbb", *latest.DocCode)

	other, err := store.LatestSuccessful(ctx, invoiceID, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestListByInvoicePages(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	invoiceID, tenantID := uuid.New(), uuid.New()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := store.AppendError(ctx, uuid.New(), invoiceID, taxdomain.ItemAdjustmentIDs{}, "x", time.Now(), tenantID)
		require.NoError(t, err)
		ids = append(ids, rec.ID.String())
	}

	var seen []string
	page := pagination.Pagination{PageSize: 2}
	for {
		records, info, err := store.ListByInvoice(ctx, invoiceID, tenantID, page)
		require.NoError(t, err)
		for _, rec := range records {
			seen = append(seen, rec.ID.String())
		}
		if !info.HasMore {
			break
		}
		page.PageToken = info.NextPageToken
	}
	assert.Equal(t, ids, seen)

	_, _, err := store.ListByInvoice(ctx, invoiceID, tenantID, pagination.Pagination{PageToken: "%%%"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestTaxedItemsReduction(t *testing.T) {
	store := newTestAuditStore(t)
	item, adj1, adj2, other := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	records := []taxdomain.AuditRecord{
		{InvoiceItemIDs: datatypes.JSON(`{"` + item.String() + `":[]}`)},
		{InvoiceItemIDs: datatypes.JSON(`{"` + item.String() + `":["` + adj1.String() + `"]}`)},
		{InvoiceItemIDs: datatypes.JSON(`not json`)},
		{InvoiceItemIDs: datatypes.JSON(`{"not-a-uuid":[]}`)},
		{InvoiceItemIDs: datatypes.JSON(`{"` + item.String() + `":["` + adj2.String() + `"],"` + other.String() + `":[]}`)},
	}

	taxed := store.TaxedItems(context.Background(), records)
	require.Len(t, taxed, 2)
	assert.True(t, taxed.Contains(item))
	assert.True(t, taxed[item].Has(adj1))
	assert.True(t, taxed[item].Has(adj2))
	assert.True(t, taxed.Contains(other))
	assert.Empty(t, taxed[other])
}
