package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	"github.com/smallbiznis/vertextax/internal/clock"
	"github.com/smallbiznis/vertextax/internal/config"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"github.com/smallbiznis/vertextax/pkg/tenantctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type CalculatorParams struct {
	fx.In

	Store    *AuditStore
	Resolver billingdomain.DeltaResolver
	Invoices billingdomain.InvoiceReader
	Client   vertexdomain.Client
	Builder  taxdomain.RequestBuilder
	Mapper   taxdomain.ResponseMapper
	Config   *config.VertexConfigHolder
	Clock    clock.Clock
	Metrics  *metrics.TaxMetrics `optional:"true"`
	Log      *zap.Logger
}

// Calculator sends the untaxed part of an invoice to the tax engine and
// returns the resulting TAX items. Calls for the same invoice must not run
// concurrently.
type Calculator struct {
	store    *AuditStore
	resolver billingdomain.DeltaResolver
	invoices billingdomain.InvoiceReader
	client   vertexdomain.Client
	builder  taxdomain.RequestBuilder
	mapper   taxdomain.ResponseMapper
	config   *config.VertexConfigHolder
	clock    clock.Clock
	metrics  *metrics.TaxMetrics
	log      *zap.Logger
}

func NewCalculator(p CalculatorParams) *Calculator {
	return &Calculator{
		store:    p.Store,
		resolver: p.Resolver,
		invoices: p.Invoices,
		client:   p.Client,
		builder:  p.Builder,
		mapper:   p.Mapper,
		config:   p.Config,
		clock:    p.Clock,
		metrics:  p.Metrics,
		log:      p.Log.Named("tax.calculator"),
	}
}

// computation carries what every batch of one Compute call shares.
type computation struct {
	account  billingdomain.Account
	invoice  billingdomain.Invoice
	dryRun   bool
	props    billingdomain.Properties
	tenant   billingdomain.TenantContext
	settings taxdomain.Settings
}

func (c *Calculator) Compute(ctx context.Context, account billingdomain.Account, invoice billingdomain.Invoice, dryRun bool, props billingdomain.Properties, tenant billingdomain.TenantContext) ([]billingdomain.InvoiceItem, error) {
	if invoice.ID == uuid.Nil {
		return nil, taxdomain.ErrInvalidInvoice
	}

	ctx, span := otel.Tracer("vertextax/tax").Start(ctx, "tax.compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("invoice.id", invoice.ID.String()),
		attribute.Bool("tax.dry_run", dryRun),
	)
	ctx = tenantctx.WithTenantID(ctx, tenant.TenantID)
	log := ctxlogger.WithContext(ctx, c.log).With(zap.String("invoice_id", invoice.ID.String()))

	records, err := c.store.ListSuccessful(ctx, invoice.ID, tenant.TenantID)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("list audit records: %w", err))
	}
	taxed := c.store.TaxedItems(ctx, records)

	replayed, err := c.unattachedItems(ctx, log, invoice, tenant, records)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("rebuild recorded tax items: %w", err))
	}

	newItems, err := c.resolver.ResolveNewItemsToTax(ctx, invoice, taxed, tenant)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("resolve items to tax: %w", err))
	}
	if len(newItems) == 0 {
		if len(replayed) == 0 {
			log.Debug("nothing new to tax")
		}
		return replayed, nil
	}

	run := computation{
		account:  account,
		invoice:  invoice,
		dryRun:   dryRun,
		props:    props,
		tenant:   tenant,
		settings: c.settings(),
	}
	sales, returns := partitionBatches(invoice, newItems)

	var (
		items        = replayed
		errs         []error
		salesDocCode string
	)
	if sales != nil {
		taxItems, docCode, err := c.processBatch(ctx, run, *sales, "")
		if err != nil {
			errs = append(errs, err)
		}
		items = append(items, taxItems...)
		salesDocCode = docCode
	}

	for _, batch := range returns {
		reference, err := c.referenceCode(ctx, run, batch, salesDocCode)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		taxItems, _, err := c.processBatch(ctx, run, batch, reference)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, taxItems...)
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("tax computation failed", zap.Int("failed_batches", len(errs)), zap.Error(err))
		return nil, c.fail(span, err)
	}

	log.Info("tax computed",
		zap.Int("items_to_tax", len(newItems)),
		zap.Int("return_batches", len(returns)),
		zap.Int("tax_items", len(items)),
		zap.Int("replayed_tax_items", len(replayed)),
		zap.Bool("dry_run", dryRun),
	)
	return items, nil
}

// partitionBatches builds the sales batch of the current invoice and one
// return batch per invoice carrying adjusted items, sorted by invoice id.
func partitionBatches(current billingdomain.Invoice, newItems []billingdomain.NewItemToTax) (*taxdomain.TaxableBatch, []taxdomain.TaxableBatch) {
	var sales *taxdomain.TaxableBatch
	grouped := make(map[uuid.UUID]*taxdomain.TaxableBatch)

	for _, entry := range newItems {
		if !entry.ReturnOnly {
			if sales == nil {
				sales = &taxdomain.TaxableBatch{Invoice: current}
			}
			sales.Items = append(sales.Items, entry.TaxableItem)
		}
		if len(entry.AdjustmentItems) == 0 {
			continue
		}

		batch, ok := grouped[entry.Invoice.ID]
		if !ok {
			batch = &taxdomain.TaxableBatch{
				Invoice:     entry.Invoice,
				Adjustments: make(map[uuid.UUID][]billingdomain.InvoiceItem),
			}
			grouped[entry.Invoice.ID] = batch
		}
		batch.Items = append(batch.Items, entry.TaxableItem)
		batch.Adjustments[entry.TaxableItem.ID] = entry.AdjustmentItems
	}

	invoiceIDs := make([]uuid.UUID, 0, len(grouped))
	for id := range grouped {
		invoiceIDs = append(invoiceIDs, id)
	}
	sort.Slice(invoiceIDs, func(i, j int) bool {
		return invoiceIDs[i].String() < invoiceIDs[j].String()
	})

	returns := make([]taxdomain.TaxableBatch, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		returns = append(returns, *grouped[id])
	}
	return sales, returns
}

// referenceCode is the document code that last taxed the batch invoice. A
// return on the current invoice refers to the sales document of this run.
func (c *Calculator) referenceCode(ctx context.Context, run computation, batch taxdomain.TaxableBatch, salesDocCode string) (string, error) {
	if batch.Invoice.ID == run.invoice.ID && salesDocCode != "" {
		return salesDocCode, nil
	}

	latest, err := c.store.LatestSuccessful(ctx, batch.Invoice.ID, run.tenant.TenantID)
	if err != nil {
		return "", fmt.Errorf("load reference for invoice %s: %w", batch.Invoice.ID, err)
	}
	if latest == nil || latest.DocCode == nil {
		return "", nil
	}
	return *latest.DocCode, nil
}

// processBatch builds, sends and records one document. It returns the TAX
// items for the current invoice and the engine document code.
func (c *Calculator) processBatch(ctx context.Context, run computation, batch taxdomain.TaxableBatch, reference string) ([]billingdomain.InvoiceItem, string, error) {
	kind := batch.Kind()
	ctx, span := otel.Tracer("vertextax/tax").Start(ctx, "tax.batch."+kind)
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.invoice_id", batch.Invoice.ID.String()),
		attribute.Int("batch.items", len(batch.Items)),
	)
	log := ctxlogger.WithContext(ctx, c.log).With(
		zap.String("invoice_id", run.invoice.ID.String()),
		zap.String("batch_invoice_id", batch.Invoice.ID.String()),
		zap.String("kind", kind),
	)

	built, err := c.builder.Build(ctx, taxdomain.BuildParams{
		Account:       run.account,
		Batch:         batch,
		ReferenceCode: reference,
		PostingDate:   run.invoice.InvoiceDate,
		DryRun:        run.dryRun,
		Properties:    run.props,
		Settings:      run.settings,
	})
	if err != nil {
		return nil, "", c.fail(span, fmt.Errorf("build %s document for invoice %s: %w", kind, batch.Invoice.ID, err))
	}
	if built.Status == taxdomain.BuildSkipped {
		c.metrics.IncSkippedBatch(kind)
		return nil, "", nil
	}

	itemIDs := batch.ItemAdjustmentIDs()
	start := c.clock.Now()
	resp, err := c.client.CalculateTax(ctx, built.Request)
	c.metrics.ObserveEngineCall(metrics.OperationCalculate, c.clock.Now().Sub(start), err)
	if err != nil {
		if body, ok := vertexdomain.ResponseBody(err); ok && !run.dryRun {
			if _, auditErr := c.store.AppendError(ctx, run.account.ID, run.invoice.ID, itemIDs, body, c.clock.Now(), run.tenant.TenantID); auditErr != nil {
				err = errors.Join(err, auditErr)
			}
		}
		log.Warn("tax engine call failed", zap.Error(err))
		return nil, "", c.fail(span, fmt.Errorf("calculate %s tax for invoice %s: %w", kind, batch.Invoice.ID, err))
	}

	var record *taxdomain.AuditRecord
	if !run.dryRun {
		if record, err = c.store.AppendSuccess(ctx, run.account.ID, run.invoice.ID, itemIDs, resp, c.clock.Now(), run.tenant.TenantID); err != nil {
			return nil, "", c.fail(span, err)
		}
	}

	var data *vertexdomain.SaleResponseData
	if resp != nil {
		data = resp.Data
	}
	docCode := NewResponseDataExtractor(data).DocumentCode()
	if data == nil || len(data.LineItems) == 0 {
		log.Info("nothing to tax for batch", zap.Int("items", len(batch.Items)))
		return nil, docCode, nil
	}

	sent := func(itemID uuid.UUID) (billingdomain.InvoiceItem, *billingdomain.InvoiceItem, bool, error) {
		taxable, ok := batch.Item(itemID)
		if !ok {
			return billingdomain.InvoiceItem{}, nil, false, nil
		}
		var adjustment *billingdomain.InvoiceItem
		if adjustments := batch.Adjustments[itemID]; len(adjustments) == 1 {
			adjustment = &adjustments[0]
		}
		return taxable, adjustment, true, nil
	}

	items := make([]billingdomain.InvoiceItem, 0, len(data.LineItems))
	for index, line := range data.LineItems {
		lineItems, err := c.mapLine(ctx, log, run.invoice.ID, record, index, line, sent)
		if err != nil {
			return nil, "", c.fail(span, err)
		}
		items = append(items, lineItems...)
	}
	c.metrics.AddTaxItems(kind, len(items))

	return items, docCode, nil
}

// itemLookup returns the taxable item sent under a response line id and the
// single adjustment it was returned with, if any. ok is false for ids that
// were not part of the document.
type itemLookup func(itemID uuid.UUID) (taxable billingdomain.InvoiceItem, adjustment *billingdomain.InvoiceItem, ok bool, err error)

// mapLine turns one response line into TAX items for invoiceID. Items mapped
// from a recorded document get ids derived from the record, line and entry
// position.
func (c *Calculator) mapLine(ctx context.Context, log *zap.Logger, invoiceID uuid.UUID, record *taxdomain.AuditRecord, index int, line vertexdomain.SaleResponseLine, lookup itemLookup) ([]billingdomain.InvoiceItem, error) {
	itemID, err := uuid.Parse(line.LineItemID)
	if err != nil {
		log.Warn("unexpected line item id in response", zap.String("line_item_id", line.LineItemID))
		return nil, nil
	}
	taxable, adjustment, ok, err := lookup(itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("response line for unknown item", zap.String("line_item_id", line.LineItemID))
		return nil, nil
	}

	items := c.mapper.ToInvoiceItems(ctx, invoiceID, taxable, line, adjustment)
	if record != nil {
		for entry := range items {
			items[entry].ID = taxItemID(record.ID, index, entry)
		}
	}
	return items, nil
}

var taxItemNamespace = uuid.MustParse("a3f0c1d2-7b4e-5f60-8a9b-0c1d2e3f4a5b")

// taxItemID is stable per record, line and entry, so a TAX item rebuilt from
// its record carries the id it was first emitted with.
func taxItemID(recordID snowflake.ID, line, entry int) uuid.UUID {
	return uuid.NewSHA1(taxItemNamespace, []byte(fmt.Sprintf("%s/%d/%d", recordID, line, entry)))
}

// unattachedItems rebuilds, from the stored response lines, the TAX items of
// SUCCESS records that are missing from the invoice. A run that fails after
// recording some of its documents returns no items, and the resolver treats
// those documents as taxed from then on.
func (c *Calculator) unattachedItems(ctx context.Context, log *zap.Logger, invoice billingdomain.Invoice, tenant billingdomain.TenantContext, records []taxdomain.AuditRecord) ([]billingdomain.InvoiceItem, error) {
	onInvoice := make(map[uuid.UUID]billingdomain.InvoiceItem, len(invoice.Items))
	for _, item := range invoice.Items {
		onInvoice[item.ID] = item
	}

	out := make([]billingdomain.InvoiceItem, 0)
	for i := range records {
		record := &records[i]
		if len(record.TaxLines) == 0 {
			continue
		}
		var lines []vertexdomain.SaleResponseLine
		if err := json.Unmarshal(record.TaxLines, &lines); err != nil {
			log.Warn("unreadable tax lines on audit record", zap.String("record_id", record.ID.String()), zap.Error(err))
			continue
		}
		var mapping map[uuid.UUID][]uuid.UUID
		if err := json.Unmarshal(record.InvoiceItemIDs, &mapping); err != nil {
			continue
		}

		recorded := func(itemID uuid.UUID) (billingdomain.InvoiceItem, *billingdomain.InvoiceItem, bool, error) {
			adjustmentIDs, ok := mapping[itemID]
			if !ok {
				return billingdomain.InvoiceItem{}, nil, false, nil
			}
			taxable, ok := onInvoice[itemID]
			if !ok {
				found, err := c.itemOnOtherInvoice(ctx, itemID, tenant)
				if err != nil {
					return billingdomain.InvoiceItem{}, nil, false, err
				}
				taxable = found
			}
			var adjustment *billingdomain.InvoiceItem
			if len(adjustmentIDs) == 1 {
				if adj, ok := onInvoice[adjustmentIDs[0]]; ok {
					adjustment = &adj
				}
			}
			return taxable, adjustment, true, nil
		}

		for index, line := range lines {
			if _, attached := onInvoice[taxItemID(record.ID, index, 0)]; attached {
				continue
			}
			items, err := c.mapLine(ctx, log, invoice.ID, record, index, line, recorded)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if _, attached := onInvoice[item.ID]; !attached {
					out = append(out, item)
				}
			}
		}
	}

	if len(out) > 0 {
		log.Info("re-emitting recorded tax items missing from invoice", zap.Int("tax_items", len(out)))
	}
	return out, nil
}

func (c *Calculator) itemOnOtherInvoice(ctx context.Context, itemID uuid.UUID, tenant billingdomain.TenantContext) (billingdomain.InvoiceItem, error) {
	if c.invoices == nil {
		return billingdomain.InvoiceItem{}, fmt.Errorf("%w: item %s", billingdomain.ErrInvoiceNotFound, itemID)
	}
	owner, err := c.invoices.GetInvoiceByItemID(ctx, itemID, tenant)
	if err != nil {
		return billingdomain.InvoiceItem{}, fmt.Errorf("load invoice of item %s: %w", itemID, err)
	}
	for _, item := range owner.Items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return billingdomain.InvoiceItem{}, fmt.Errorf("%w: item %s", billingdomain.ErrInvoiceNotFound, itemID)
}

func (c *Calculator) settings() taxdomain.Settings {
	cfg := c.config.Get()
	company := taxdomain.Company{
		Name:     cfg.CompanyName,
		Division: cfg.CompanyDivision,
	}
	if cfg.Seller.Country != "" {
		company.Origin = &vertexdomain.Location{
			StreetAddress1: cfg.Seller.StreetAddress1,
			StreetAddress2: cfg.Seller.StreetAddress2,
			City:           cfg.Seller.City,
			MainDivision:   cfg.Seller.MainDivision,
			PostalCode:     cfg.Seller.PostalCode,
			Country:        cfg.Seller.Country,
		}
	}
	return taxdomain.Settings{
		Company:                  company,
		SkipAnomalousAdjustments: cfg.SkipAnomalousAdjustments,
	}
}

func (c *Calculator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

var _ taxdomain.Calculator = (*Calculator)(nil)
