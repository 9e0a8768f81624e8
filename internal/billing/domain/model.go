package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemType string

const (
	ItemTypeExternalCharge   ItemType = "EXTERNAL_CHARGE"
	ItemTypeFixed            ItemType = "FIXED"
	ItemTypeRecurring        ItemType = "RECURRING"
	ItemTypeUsage            ItemType = "USAGE"
	ItemTypeTax              ItemType = "TAX"
	ItemTypeItemAdjustment   ItemType = "ITEM_ADJ"
	ItemTypeRepairAdjustment ItemType = "REPAIR_ADJ"
	ItemTypeCreditAdjustment ItemType = "CREDIT_ADJ"
	ItemTypeAccountCredit    ItemType = "CBA_ADJ"
)

// Taxable reports whether items of this type are sent to the tax engine.
func (t ItemType) Taxable() bool {
	switch t {
	case ItemTypeExternalCharge, ItemTypeFixed, ItemTypeRecurring, ItemTypeUsage:
		return true
	default:
		return false
	}
}

// Adjustment reports whether items of this type reduce a linked taxable item.
func (t ItemType) Adjustment() bool {
	return t == ItemTypeItemAdjustment || t == ItemTypeRepairAdjustment
}

type Account struct {
	ID              uuid.UUID
	ExternalKey     string
	Name            string
	Currency        string
	Address1        string
	Address2        string
	City            string
	StateOrProvince string
	PostalCode      string
	Country         string
}

type Invoice struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	InvoiceNumber int64
	InvoiceDate   time.Time
	Currency      string
	Items         []InvoiceItem
}

// InvoiceItem is a single billing line. Dates are calendar dates at UTC
// midnight. ItemDetails is an opaque JSON document owned by the platform.
type InvoiceItem struct {
	ID           uuid.UUID
	InvoiceID    uuid.UUID
	AccountID    uuid.UUID
	Type         ItemType
	Amount       decimal.Decimal
	Currency     string
	StartDate    *time.Time
	EndDate      *time.Time
	Description  string
	PlanName     string
	PhaseName    string
	UsageName    string
	ItemDetails  string
	LinkedItemID *uuid.UUID
}

// TenantContext scopes every read and write to one tenant.
type TenantContext struct {
	TenantID  uuid.UUID
	AccountID uuid.UUID
}

// NewItemToTax is one taxable item the resolver found untaxed, or taxed with
// adjustments that are not.
type NewItemToTax struct {
	TaxableItem     InvoiceItem
	AdjustmentItems []InvoiceItem
	Invoice         Invoice
	ReturnOnly      bool
}

type IDSet map[uuid.UUID]struct{}

func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// TaxedItems maps a taxable item id to the adjustment ids already taxed with it.
type TaxedItems map[uuid.UUID]IDSet

func (t TaxedItems) Add(itemID uuid.UUID, adjustmentIDs ...uuid.UUID) {
	set, ok := t[itemID]
	if !ok {
		set = IDSet{}
		t[itemID] = set
	}
	for _, id := range adjustmentIDs {
		set[id] = struct{}{}
	}
}

func (t TaxedItems) Contains(itemID uuid.UUID) bool {
	_, ok := t[itemID]
	return ok
}

// NewTaxItem builds a TAX line linked to taxable, billed on invoiceID.
func NewTaxItem(taxable InvoiceItem, invoiceID uuid.UUID, startDate, endDate *time.Time, amount decimal.Decimal, description, itemDetails string) InvoiceItem {
	linked := taxable.ID
	return InvoiceItem{
		ID:           uuid.New(),
		InvoiceID:    invoiceID,
		AccountID:    taxable.AccountID,
		Type:         ItemTypeTax,
		Amount:       amount,
		Currency:     taxable.Currency,
		StartDate:    startDate,
		EndDate:      endDate,
		Description:  description,
		ItemDetails:  itemDetails,
		LinkedItemID: &linked,
	}
}
