package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallbiznis/vertextax/internal/billing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ResolverParams struct {
	fx.In

	Invoices domain.InvoiceReader
	Log      *zap.Logger
}

type Resolver struct {
	invoices domain.InvoiceReader
	log      *zap.Logger
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		invoices: p.Invoices,
		log:      p.Log.Named("billing.resolver"),
	}
}

// ResolveNewItemsToTax returns, in invoice order:
//   - taxable items never taxed, with any pending same-invoice adjustments
//   - taxed items carrying adjustments not yet taxed (return only)
//   - items on earlier invoices targeted by adjustments on this one (return only)
func (r *Resolver) ResolveNewItemsToTax(ctx context.Context, invoice domain.Invoice, taxed domain.TaxedItems, tenant domain.TenantContext) ([]domain.NewItemToTax, error) {
	pending := make(map[uuid.UUID][]domain.InvoiceItem)
	var linkedOrder []uuid.UUID
	onInvoice := make(map[uuid.UUID]struct{}, len(invoice.Items))

	for _, item := range invoice.Items {
		onInvoice[item.ID] = struct{}{}
		if !item.Type.Adjustment() || item.LinkedItemID == nil {
			continue
		}
		linked := *item.LinkedItemID
		if taxed[linked].Has(item.ID) {
			continue
		}
		if _, seen := pending[linked]; !seen {
			linkedOrder = append(linkedOrder, linked)
		}
		pending[linked] = append(pending[linked], item)
	}

	out := make([]domain.NewItemToTax, 0)
	for _, item := range invoice.Items {
		if !item.Type.Taxable() {
			continue
		}
		adjustments := pending[item.ID]
		switch {
		case !taxed.Contains(item.ID):
			out = append(out, domain.NewItemToTax{
				TaxableItem:     item,
				AdjustmentItems: adjustments,
				Invoice:         invoice,
			})
		case len(adjustments) > 0:
			out = append(out, domain.NewItemToTax{
				TaxableItem:     item,
				AdjustmentItems: adjustments,
				Invoice:         invoice,
				ReturnOnly:      true,
			})
		}
	}

	for _, linkedID := range linkedOrder {
		if _, ok := onInvoice[linkedID]; ok {
			continue
		}

		// An untaxed adjustment of an unknown item fails the run so the
		// invoice is never committed without its credit.
		original, err := r.invoices.GetInvoiceByItemID(ctx, linkedID, tenant)
		if err != nil {
			if errors.Is(err, domain.ErrInvoiceNotFound) {
				r.log.Warn("adjusted item not found",
					zap.String("invoice_id", invoice.ID.String()),
					zap.String("linked_item_id", linkedID.String()),
				)
			}
			return nil, fmt.Errorf("load invoice for item %s: %w", linkedID, err)
		}

		taxable, ok := findItem(original.Items, linkedID)
		if !ok || !taxable.Type.Taxable() {
			continue
		}
		out = append(out, domain.NewItemToTax{
			TaxableItem:     taxable,
			AdjustmentItems: pending[linkedID],
			Invoice:         *original,
			ReturnOnly:      true,
		})
	}

	return out, nil
}

func findItem(items []domain.InvoiceItem, id uuid.UUID) (domain.InvoiceItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.InvoiceItem{}, false
}

var _ domain.DeltaResolver = (*Resolver)(nil)
