package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/smallbiznis/vertextax/internal/billing/domain"
)

type tenantKey struct {
	tenant uuid.UUID
	id     uuid.UUID
}

// MemoryStore keeps the invoice and account snapshots pushed by the billing
// platform with each computation.
type MemoryStore struct {
	mu        sync.RWMutex
	invoices  map[tenantKey]domain.Invoice
	itemIndex map[tenantKey]uuid.UUID
	accounts  map[tenantKey]domain.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:  make(map[tenantKey]domain.Invoice),
		itemIndex: make(map[tenantKey]uuid.UUID),
		accounts:  make(map[tenantKey]domain.Account),
	}
}

func (s *MemoryStore) PutInvoice(tenant domain.TenantContext, invoice domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.InvoiceItem, len(invoice.Items))
	copy(items, invoice.Items)
	invoice.Items = items

	s.invoices[tenantKey{tenant.TenantID, invoice.ID}] = invoice
	for _, item := range items {
		s.itemIndex[tenantKey{tenant.TenantID, item.ID}] = invoice.ID
	}
}

func (s *MemoryStore) PutAccount(tenant domain.TenantContext, account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[tenantKey{tenant.TenantID, account.ID}] = account
}

func (s *MemoryStore) GetInvoice(_ context.Context, invoiceID uuid.UUID, tenant domain.TenantContext) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[tenantKey{tenant.TenantID, invoiceID}]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	return &invoice, nil
}

func (s *MemoryStore) GetInvoiceByItemID(ctx context.Context, itemID uuid.UUID, tenant domain.TenantContext) (*domain.Invoice, error) {
	s.mu.RLock()
	invoiceID, ok := s.itemIndex[tenantKey{tenant.TenantID, itemID}]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	return s.GetInvoice(ctx, invoiceID, tenant)
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID uuid.UUID, tenant domain.TenantContext) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[tenantKey{tenant.TenantID, accountID}]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

var (
	_ domain.InvoiceReader = (*MemoryStore)(nil)
	_ domain.AccountReader = (*MemoryStore)(nil)
)
