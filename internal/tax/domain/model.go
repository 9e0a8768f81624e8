package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	"gorm.io/datatypes"
)

type ResultCode string

const (
	ResultCodeSuccess ResultCode = "SUCCESS"
	ResultCodeError   ResultCode = "ERROR"
)

// AuditRecord is one tax engine call. Rows are append-only; a SUCCESS row
// marks its InvoiceItemIDs as taxed.
type AuditRecord struct {
	ID                 snowflake.ID        `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	TenantID           uuid.UUID           `gorm:"column:tenant_id;type:varchar(36);not null;index:idx_vertex_responses_invoice,priority:1" json:"tenant_id"`
	AccountID          uuid.UUID           `gorm:"column:account_id;type:varchar(36);not null" json:"account_id"`
	InvoiceID          uuid.UUID           `gorm:"column:invoice_id;type:varchar(36);not null;index:idx_vertex_responses_invoice,priority:2" json:"invoice_id"`
	InvoiceItemIDs     datatypes.JSON      `gorm:"column:invoice_item_ids" json:"invoice_item_ids"`
	DocCode            *string             `gorm:"column:doc_code" json:"doc_code,omitempty"`
	DocDate            *time.Time          `gorm:"column:doc_date" json:"doc_date,omitempty"`
	TotalAmount        decimal.NullDecimal `gorm:"column:total_amount;type:numeric(15,9)" json:"total_amount"`
	TotalDiscount      decimal.NullDecimal `gorm:"column:total_discount;type:numeric(15,9)" json:"total_discount"`
	TotalExemption     decimal.NullDecimal `gorm:"column:total_exemption;type:numeric(15,9)" json:"total_exemption"`
	TotalTaxable       decimal.NullDecimal `gorm:"column:total_taxable;type:numeric(15,9)" json:"total_taxable"`
	TotalTax           decimal.NullDecimal `gorm:"column:total_tax;type:numeric(15,9)" json:"total_tax"`
	TotalTaxCalculated decimal.NullDecimal `gorm:"column:total_tax_calculated;type:numeric(15,9)" json:"total_tax_calculated"`
	TaxDate            *time.Time          `gorm:"column:tax_date" json:"tax_date,omitempty"`
	TaxLines           datatypes.JSON      `gorm:"column:tax_lines" json:"tax_lines,omitempty"`
	TaxSummary         datatypes.JSON      `gorm:"column:tax_summary" json:"tax_summary,omitempty"`
	TaxAddresses       datatypes.JSON      `gorm:"column:tax_addresses" json:"tax_addresses,omitempty"`
	ResultCode         ResultCode          `gorm:"column:result_code;type:varchar(16);not null" json:"result_code"`
	AdditionalData     *string             `gorm:"column:additional_data" json:"additional_data,omitempty"`
	CreatedAt          time.Time           `gorm:"column:created_at;not null" json:"created_at"`
}

func (AuditRecord) TableName() string { return "vertex_responses" }

// ItemAdjustmentIDs is the per-call mapping persisted in invoice_item_ids:
// taxable item id to the adjustment ids taxed with it.
type ItemAdjustmentIDs map[uuid.UUID][]uuid.UUID

// MarshalJSON always writes arrays, never null, for items without adjustments.
func (m ItemAdjustmentIDs) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(m))
	for itemID, adjustments := range m {
		ids := make([]string, 0, len(adjustments))
		for _, id := range adjustments {
			ids = append(ids, id.String())
		}
		sort.Strings(ids)
		out[itemID.String()] = ids
	}
	return json.Marshal(out)
}

// TaxableBatch is one document worth of items. Items all belong to Invoice.
// Adjustments is nil for sales; for returns it has one entry per item.
type TaxableBatch struct {
	Invoice     billingdomain.Invoice
	Items       []billingdomain.InvoiceItem
	Adjustments map[uuid.UUID][]billingdomain.InvoiceItem
}

func (b TaxableBatch) IsReturn() bool {
	return len(b.Adjustments) > 0
}

// ItemAdjustmentIDs lists every item of the batch, with an empty list for
// items carrying no adjustments.
func (b TaxableBatch) ItemAdjustmentIDs() ItemAdjustmentIDs {
	out := make(ItemAdjustmentIDs, len(b.Items))
	for _, item := range b.Items {
		ids := []uuid.UUID{}
		for _, adj := range b.Adjustments[item.ID] {
			ids = append(ids, adj.ID)
		}
		out[item.ID] = ids
	}
	return out
}

func (b TaxableBatch) Item(id uuid.UUID) (billingdomain.InvoiceItem, bool) {
	for _, item := range b.Items {
		if item.ID == id {
			return item, true
		}
	}
	return billingdomain.InvoiceItem{}, false
}

func (b TaxableBatch) Kind() string {
	if b.IsReturn() {
		return "return"
	}
	return "sale"
}
