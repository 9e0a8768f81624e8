package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrAccountNotFound = errors.New("account_not_found")
)

// DeltaResolver decides which items and adjustments on an invoice still need
// tax, given what the audit trail says was already taxed.
type DeltaResolver interface {
	ResolveNewItemsToTax(ctx context.Context, invoice Invoice, taxed TaxedItems, tenant TenantContext) ([]NewItemToTax, error)
}

// InvoiceReader loads invoices from the billing platform.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, invoiceID uuid.UUID, tenant TenantContext) (*Invoice, error)
	GetInvoiceByItemID(ctx context.Context, itemID uuid.UUID, tenant TenantContext) (*Invoice, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, accountID uuid.UUID, tenant TenantContext) (*Account, error)
}
