package service

import (
	"time"

	"github.com/shopspring/decimal"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
)

// TaxInfo is one jurisdiction entry of the persisted tax summary.
type TaxInfo struct {
	LineItemID    string                     `json:"lineItemId,omitempty"`
	Jurisdiction  *vertexdomain.Jurisdiction `json:"jurisdiction,omitempty"`
	CalculatedTax *float64                   `json:"calculatedTax,omitempty"`
	EffectiveRate *float64                   `json:"effectiveRate,omitempty"`
	NominalRate   *float64                   `json:"nominalRate,omitempty"`
	Taxable       *float64                   `json:"taxable,omitempty"`
	Exempt        *float64                   `json:"exempt,omitempty"`
	NonTaxable    *float64                   `json:"nonTaxable,omitempty"`
}

type AddressInfo struct {
	StreetAddress1 string `json:"streetAddress1,omitempty"`
	StreetAddress2 string `json:"streetAddress2,omitempty"`
	City           string `json:"city,omitempty"`
	MainDivision   string `json:"mainDivision,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
	Country        string `json:"country,omitempty"`
}

// ResponseDataExtractor derives the audit summary of a calculated document.
// All accessors tolerate a nil document and missing fields.
type ResponseDataExtractor struct {
	data *vertexdomain.SaleResponseData
}

func NewResponseDataExtractor(data *vertexdomain.SaleResponseData) ResponseDataExtractor {
	return ResponseDataExtractor{data: data}
}

func (e ResponseDataExtractor) lines() []vertexdomain.SaleResponseLine {
	if e.data == nil {
		return nil
	}
	return e.data.LineItems
}

func (e ResponseDataExtractor) DocumentCode() string {
	if e.data == nil {
		return ""
	}
	return e.data.DocumentNumber
}

func (e ResponseDataExtractor) DocumentDate() *time.Time {
	if e.data == nil {
		return nil
	}
	return e.data.DocumentDate.TimePtr()
}

// TaxDate is the tax point date, or the document date when absent.
func (e ResponseDataExtractor) TaxDate() *time.Time {
	if e.data == nil {
		return nil
	}
	if t := e.data.TaxPointDate.TimePtr(); t != nil {
		return t
	}
	return e.DocumentDate()
}

func (e ResponseDataExtractor) TotalAmount() decimal.NullDecimal {
	if e.data == nil {
		return decimal.NullDecimal{}
	}
	return nullDecimal(e.data.Total)
}

func (e ResponseDataExtractor) TotalDiscount() decimal.NullDecimal {
	if e.data == nil || e.data.Discount == nil {
		return decimal.NullDecimal{}
	}
	return nullDecimal(e.data.Discount.DiscountValue)
}

func (e ResponseDataExtractor) TotalTax() decimal.NullDecimal {
	if e.data == nil {
		return decimal.NullDecimal{}
	}
	return nullDecimal(e.data.TotalTax)
}

// TotalTaxCalculated sums calculatedTax over every breakdown entry.
func (e ResponseDataExtractor) TotalTaxCalculated() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.lines() {
		for _, tax := range line.Taxes {
			if tax.CalculatedTax != nil {
				total = total.Add(decimal.NewFromFloat(*tax.CalculatedTax))
			}
		}
	}
	return total
}

// TotalTaxable counts each line once: every breakdown entry of a line
// reports the same taxable base, so the first non-zero one is used.
func (e ResponseDataExtractor) TotalTaxable() decimal.Decimal {
	return e.firstNonZeroPerLine(func(tax vertexdomain.TaxBreakdown) *float64 { return tax.Taxable })
}

// TotalTaxExempt follows the same one-entry-per-line convention on nonTaxable.
func (e ResponseDataExtractor) TotalTaxExempt() decimal.Decimal {
	return e.firstNonZeroPerLine(func(tax vertexdomain.TaxBreakdown) *float64 { return tax.NonTaxable })
}

func (e ResponseDataExtractor) firstNonZeroPerLine(field func(vertexdomain.TaxBreakdown) *float64) decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.lines() {
		for _, tax := range line.Taxes {
			if v := field(tax); v != nil && *v != 0 {
				total = total.Add(decimal.NewFromFloat(*v))
				break
			}
		}
	}
	return total
}

// InvoiceTaxRate is the blended rate of the document, rounded up to 5
// places. Entries with both an effective rate and a taxable base contribute
// rate*taxable; the others contribute calculatedTax.
func (e ResponseDataExtractor) InvoiceTaxRate() decimal.Decimal {
	taxable := e.TotalTaxable()
	if taxable.IsZero() {
		return decimal.Zero
	}

	precise := decimal.Zero
	for _, line := range e.lines() {
		for _, tax := range line.Taxes {
			switch {
			case tax.EffectiveRate != nil && tax.Taxable != nil:
				precise = precise.Add(decimal.NewFromFloat(*tax.EffectiveRate).Mul(decimal.NewFromFloat(*tax.Taxable)))
			case tax.CalculatedTax != nil:
				precise = precise.Add(decimal.NewFromFloat(*tax.CalculatedTax))
			}
		}
	}
	return precise.DivRound(taxable, 16).RoundUp(5)
}

func (e ResponseDataExtractor) TaxLines() []vertexdomain.SaleResponseLine {
	return e.lines()
}

func (e ResponseDataExtractor) TaxSummary() []TaxInfo {
	summary := make([]TaxInfo, 0)
	for _, line := range e.lines() {
		for _, tax := range line.Taxes {
			summary = append(summary, TaxInfo{
				LineItemID:    line.LineItemID,
				Jurisdiction:  tax.Jurisdiction,
				CalculatedTax: tax.CalculatedTax,
				EffectiveRate: tax.EffectiveRate,
				NominalRate:   tax.NominalRate,
				Taxable:       tax.Taxable,
				Exempt:        tax.Exempt,
				NonTaxable:    tax.NonTaxable,
			})
		}
	}
	return summary
}

// Addresses lists the customer destination followed by the physical
// locations of every tax registration.
func (e ResponseDataExtractor) Addresses() []AddressInfo {
	addresses := make([]AddressInfo, 0)
	if e.data == nil || e.data.Customer == nil {
		return addresses
	}

	customer := e.data.Customer
	if customer.Destination != nil {
		addresses = append(addresses, toAddressInfo(*customer.Destination))
	}
	for _, registration := range customer.TaxRegistrations {
		for _, location := range registration.PhysicalLocations {
			addresses = append(addresses, toAddressInfo(location))
		}
	}
	return addresses
}

func toAddressInfo(l vertexdomain.Location) AddressInfo {
	return AddressInfo{
		StreetAddress1: l.StreetAddress1,
		StreetAddress2: l.StreetAddress2,
		City:           l.City,
		MainDivision:   l.MainDivision,
		PostalCode:     l.PostalCode,
		Country:        l.Country,
	}
}

func nullDecimal(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}
