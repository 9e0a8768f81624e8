package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	billingservice "github.com/smallbiznis/vertextax/internal/billing/service"
	"github.com/smallbiznis/vertextax/internal/clock"
	"github.com/smallbiznis/vertextax/internal/config"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	"github.com/smallbiznis/vertextax/internal/tax/repository"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&taxdomain.AuditRecord{}))
	return db
}

func newTestAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewAuditStore(AuditStoreParams{
		Repo:  repository.NewRepository(setupTestDB(t)),
		GenID: node,
		Log:   zap.NewNop(),
	})
}

// fakeEngine taxes every line at a flat rate under a single jurisdiction.
type fakeEngine struct {
	mu       sync.Mutex
	rate     decimal.Decimal
	requests []*vertexdomain.SaleRequest
	deleted  []string

	failCalculate func(req *vertexdomain.SaleRequest) error
	failDelete    func(id string) error
	respondLine   func(line vertexdomain.LineItem) vertexdomain.SaleResponseLine
	respondLines  func(lines []vertexdomain.SaleResponseLine) []vertexdomain.SaleResponseLine
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{rate: decimal.RequireFromString("0.0863")}
}

func (f *fakeEngine) CalculateTax(_ context.Context, req *vertexdomain.SaleRequest) (*vertexdomain.SaleResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.failCalculate != nil {
		if err := f.failCalculate(req); err != nil {
			return nil, err
		}
	}

	rate := f.rate.InexactFloat64()
	total := decimal.Zero
	data := &vertexdomain.SaleResponseData{
		TransactionID:  req.TransactionID,
		DocumentNumber: req.DocumentNumber,
		DocumentDate:   req.DocumentDate,
		Customer:       req.Customer,
	}
	for _, line := range req.LineItems {
		if f.respondLine != nil {
			data.LineItems = append(data.LineItems, f.respondLine(line))
			continue
		}
		price := decimal.NewFromFloat(line.ExtendedPrice)
		tax := price.Mul(f.rate).Round(2)
		total = total.Add(tax)
		taxValue, taxable := tax.InexactFloat64(), price.InexactFloat64()
		data.LineItems = append(data.LineItems, vertexdomain.SaleResponseLine{
			LineItemID:     line.LineItemID,
			LineItemNumber: line.LineItemNumber,
			TotalTax:       &taxValue,
			Taxes: []vertexdomain.TaxBreakdown{{
				Jurisdiction:  &vertexdomain.Jurisdiction{Value: "CALIFORNIA", JurisdictionType: "STATE"},
				CalculatedTax: &taxValue,
				EffectiveRate: &rate,
				Taxable:       &taxable,
			}},
		})
	}
	if f.respondLines != nil {
		data.LineItems = f.respondLines(data.LineItems)
	}
	totalTax := total.InexactFloat64()
	data.TotalTax = &totalTax
	return &vertexdomain.SaleResponse{Data: data}, nil
}

func (f *fakeEngine) DeleteTransaction(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		if err := f.failDelete(id); err != nil {
			return err
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) calls() []*vertexdomain.SaleRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*vertexdomain.SaleRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type harness struct {
	calc    *Calculator
	store   *AuditStore
	billing *billingservice.MemoryStore
	engine  *fakeEngine
	clock   *clock.FakeClock
	cfg     *config.VertexConfigHolder
	tenant  billingdomain.TenantContext
	account billingdomain.Account
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithClient(t, nil)
}

// newHarnessWithClient wires the calculator against client, or against a
// fakeEngine when client is nil.
func newHarnessWithClient(t *testing.T, client vertexdomain.Client) *harness {
	t.Helper()
	account := testAccount()
	h := &harness{
		store:   newTestAuditStore(t),
		billing: billingservice.NewMemoryStore(),
		engine:  newFakeEngine(),
		clock:   clock.NewFakeClock(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)),
		tenant:  billingdomain.TenantContext{TenantID: uuid.New(), AccountID: account.ID},
		account: account,
	}
	cfg := config.DefaultVertexConfig()
	cfg.CompanyName = "Acme"
	h.cfg = config.NewStaticVertexConfigHolder(cfg)
	if client == nil {
		client = h.engine
	}

	h.calc = NewCalculator(CalculatorParams{
		Store:    h.store,
		Invoices: h.billing,
		Resolver: billingservice.NewResolver(billingservice.ResolverParams{Invoices: h.billing, Log: zap.NewNop()}),
		Client:   client,
		Builder:  NewRequestBuilder(zap.NewNop()),
		Mapper:   NewResponseMapper(zap.NewNop()),
		Config:   h.cfg,
		Clock:    h.clock,
		Log:      zap.NewNop(),
	})
	h.billing.PutAccount(h.tenant, account)
	return h
}

// newInvoice stores an invoice owned by the harness account.
func (h *harness) newInvoice(number int64, items ...billingdomain.InvoiceItem) billingdomain.Invoice {
	inv := testInvoice(number, items...)
	inv.AccountID = h.account.ID
	for i := range inv.Items {
		inv.Items[i].AccountID = h.account.ID
	}
	h.billing.PutInvoice(h.tenant, inv)
	return inv
}

// addItems appends items to a stored invoice, as billing does after tax.
func (h *harness) addItems(inv billingdomain.Invoice, items ...billingdomain.InvoiceItem) billingdomain.Invoice {
	for _, item := range items {
		item.InvoiceID = inv.ID
		item.AccountID = h.account.ID
		inv.Items = append(inv.Items, item)
	}
	h.billing.PutInvoice(h.tenant, inv)
	return inv
}

func (h *harness) compute(t *testing.T, inv billingdomain.Invoice, dryRun bool) []billingdomain.InvoiceItem {
	t.Helper()
	items, err := h.calc.Compute(context.Background(), h.account, inv, dryRun, nil, h.tenant)
	require.NoError(t, err)
	return items
}

func (h *harness) records(t *testing.T, invoiceID uuid.UUID) []taxdomain.AuditRecord {
	t.Helper()
	records, _, err := h.store.ListByInvoice(context.Background(), invoiceID, h.tenant.TenantID, pagination.Pagination{PageSize: pagination.MaxPageSize})
	require.NoError(t, err)
	return records
}

func externalCharge(amount string) billingdomain.InvoiceItem {
	item := taxableItem(amount)
	item.Type = billingdomain.ItemTypeExternalCharge
	item.Description = "consulting"
	return item
}

func sumItems(items []billingdomain.InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
