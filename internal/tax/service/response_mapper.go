package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

const (
	defaultTaxDescription = "Tax"
	taxRateDetailKey      = "taxRate"
	derivedRatePlaces     = 5
)

var errDetailsNotObject = errors.New("item_details_not_object")

type responseMapper struct {
	log *zap.Logger
}

func NewResponseMapper(log *zap.Logger) taxdomain.ResponseMapper {
	return &responseMapper{log: log.Named("tax.response_mapper")}
}

// ToInvoiceItems turns one response line into TAX items for invoiceID. The
// service period comes from adjustment when given, else from taxable.
func (m *responseMapper) ToInvoiceItems(ctx context.Context, invoiceID uuid.UUID, taxable billingdomain.InvoiceItem, line vertexdomain.SaleResponseLine, adjustment *billingdomain.InvoiceItem) []billingdomain.InvoiceItem {
	if len(line.Taxes) == 0 {
		if line.TotalTax == nil {
			return nil
		}
		return []billingdomain.InvoiceItem{
			m.buildTaxItem(ctx, invoiceID, taxable, adjustment, decimal.NewFromFloat(*line.TotalTax), defaultTaxDescription, nil),
		}
	}

	items := make([]billingdomain.InvoiceItem, 0, len(line.Taxes))
	for _, tax := range line.Taxes {
		if tax.CalculatedTax == nil {
			continue
		}
		items = append(items, m.buildTaxItem(ctx, invoiceID, taxable, adjustment,
			decimal.NewFromFloat(*tax.CalculatedTax), taxDescription(tax), tax.EffectiveRate))
	}
	return items
}

func (m *responseMapper) buildTaxItem(ctx context.Context, invoiceID uuid.UUID, taxable billingdomain.InvoiceItem, adjustment *billingdomain.InvoiceItem, amount decimal.Decimal, description string, effectiveRate *float64) billingdomain.InvoiceItem {
	period := taxable
	if adjustment != nil {
		period = *adjustment
	}

	var rate json.RawMessage
	if effectiveRate != nil {
		rate, _ = json.Marshal(*effectiveRate)
	} else {
		rate = json.RawMessage(DeriveTaxRate(amount, taxable.Amount).StringFixed(derivedRatePlaces))
	}

	details, err := MergeTaxRate(taxable.ItemDetails, rate)
	if err != nil {
		ctxlogger.WithContext(ctx, m.log).Warn("item details are not a JSON object, tax rate not recorded",
			zap.String("taxable_item_id", taxable.ID.String()),
			zap.Error(err),
		)
	}

	return billingdomain.NewTaxItem(taxable, invoiceID, period.StartDate, period.EndDate, amount, description, details)
}

// DeriveTaxRate reconstructs a rate as tax/amount, rounded toward zero to 5
// places. A zero amount yields zero.
func DeriveTaxRate(tax, amount decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return tax.DivRound(amount, 16).RoundDown(derivedRatePlaces)
}

// MergeTaxRate returns details with taxRate set to rate. An empty payload
// becomes a new object. Anything that is not a JSON object is returned
// unchanged together with an error.
func MergeTaxRate(details string, rate json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(details)
	if trimmed == "" {
		out, _ := json.Marshal(map[string]json.RawMessage{taxRateDetailKey: rate})
		return string(out), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return details, err
	}
	if fields == nil {
		return details, errDetailsNotObject
	}

	fields[taxRateDetailKey] = rate
	out, err := json.Marshal(fields)
	if err != nil {
		return details, err
	}
	return string(out), nil
}

// taxDescription prefers "<jurisdiction> <type> TAX", then the tax codes.
// The engine's jurisdiction text is kept as sent.
func taxDescription(tax vertexdomain.TaxBreakdown) string {
	if j := tax.Jurisdiction; j != nil && j.Value != "" {
		parts := []string{j.Value}
		if j.JurisdictionType != "" {
			parts = append(parts, j.JurisdictionType)
		}
		return strings.Join(append(parts, "TAX"), " ")
	}
	if tax.TaxCode != "" {
		return tax.TaxCode
	}
	if tax.VertexTaxCode != "" {
		return tax.VertexTaxCode
	}
	return defaultTaxDescription
}
