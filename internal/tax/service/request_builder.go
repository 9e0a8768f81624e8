package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"github.com/smallbiznis/vertextax/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// Plugin properties understood by the builder.
const (
	PropertyLocationAddress1      = "locationAddress1"
	PropertyLocationAddress2      = "locationAddress2"
	PropertyLocationCity          = "locationCity"
	PropertyLocationRegion        = "locationRegion"
	PropertyLocationPostalCode    = "locationPostalCode"
	PropertyLocationCountry       = "locationCountry"
	PropertyTaxRegistrationNumber = "taxRegistrationNumber"
	PropertyTaxCodePrefix         = "taxCode_"
)

const documentSuffixLength = 8

type requestBuilder struct {
	log *zap.Logger
}

func NewRequestBuilder(log *zap.Logger) taxdomain.RequestBuilder {
	return &requestBuilder{log: log.Named("tax.request_builder")}
}

func (b *requestBuilder) Build(ctx context.Context, p taxdomain.BuildParams) (taxdomain.BuildResult, error) {
	if err := validateBatch(p.Batch, p.ReferenceCode); err != nil {
		if !p.Settings.SkipAnomalousAdjustments {
			return taxdomain.BuildResult{}, err
		}
		ctxlogger.WithContext(ctx, b.log).Warn("skipping anomalous tax batch",
			zap.String("invoice_id", p.Batch.Invoice.ID.String()),
			zap.String("kind", p.Batch.Kind()),
			zap.Error(err),
		)
		return taxdomain.BuildResult{Status: taxdomain.BuildSkipped, SkipReason: err}, nil
	}

	invoice := p.Batch.Invoice
	messageType := vertexdomain.SaleMessageTypeInvoice
	if p.DryRun {
		messageType = vertexdomain.SaleMessageTypeQuotation
	}

	currency := invoice.Currency
	if currency == "" {
		currency = p.Account.Currency
	}

	req := &vertexdomain.SaleRequest{
		SaleMessageType:          messageType,
		TransactionType:          vertexdomain.TransactionTypeSale,
		TransactionID:            correlation.NewID(),
		DocumentNumber:           documentNumber(invoice.InvoiceNumber),
		DocumentDate:             vertexdomain.NewDate(invoice.InvoiceDate),
		PostingDate:              vertexdomain.NewDate(p.PostingDate),
		Currency:                 &vertexdomain.Currency{IsoCurrencyCodeAlpha: currency},
		Customer:                 toCustomer(p.Account, p.Properties),
		Seller:                   toSeller(p.Settings.Company),
		LineItems:                make([]vertexdomain.LineItem, 0, len(p.Batch.Items)),
		OriginalInvoiceReference: strings.TrimSpace(p.ReferenceCode),
	}

	for i, item := range p.Batch.Items {
		req.LineItems = append(req.LineItems, toLine(item, p.Batch.Adjustments[item.ID], p.Properties, i+1))
	}

	return taxdomain.BuildResult{Status: taxdomain.BuildOK, Request: req}, nil
}

// validateBatch enforces the shape every document must have before it is sent.
func validateBatch(batch taxdomain.TaxableBatch, referenceCode string) error {
	if len(batch.Items) == 0 {
		return fmt.Errorf("%w: no taxable items", taxdomain.ErrInvalidBatch)
	}

	hasReference := strings.TrimSpace(referenceCode) != ""
	switch {
	case batch.IsReturn() && !hasReference:
		return fmt.Errorf("%w: %w for invoice %s", taxdomain.ErrInvalidBatch, taxdomain.ErrMissingReference, batch.Invoice.ID)
	case !batch.IsReturn() && hasReference:
		return fmt.Errorf("%w: reference code %q without adjustments", taxdomain.ErrInvalidBatch, referenceCode)
	}

	if !batch.IsReturn() {
		return nil
	}
	if len(batch.Adjustments) != len(batch.Items) {
		return fmt.Errorf("%w: %d adjustment groups for %d items", taxdomain.ErrInvalidBatch, len(batch.Adjustments), len(batch.Items))
	}

	for _, item := range batch.Items {
		adjustments, ok := batch.Adjustments[item.ID]
		if !ok {
			return fmt.Errorf("%w: no adjustment group for item %s", taxdomain.ErrInvalidBatch, item.ID)
		}
		total := sumAmounts(adjustments)
		if total.IsZero() {
			continue
		}
		if total.IsPositive() || total.Neg().GreaterThan(item.Amount) {
			return fmt.Errorf("%w: adjustment amount %s for item %s of amount %s",
				taxdomain.ErrInvalidBatch, total, item.ID, item.Amount)
		}
	}
	return nil
}

func toLine(item billingdomain.InvoiceItem, adjustments []billingdomain.InvoiceItem, props billingdomain.Properties, number int) vertexdomain.LineItem {
	price := item.Amount
	if total := sumAmounts(adjustments); total.IsNegative() {
		price = total
	}

	line := vertexdomain.LineItem{
		LineItemID:     item.ID.String(),
		LineItemNumber: number,
		ExtendedPrice:  price.InexactFloat64(),
		FlexibleFields: &vertexdomain.FlexibleFields{
			FlexibleCodeFields: []vertexdomain.FlexibleCodeField{
				{FieldID: vertexdomain.ProductClassFieldID, Value: productLabel(item)},
			},
		},
	}
	if class, ok := props.Value(PropertyTaxCodePrefix + item.ID.String()); ok {
		line.Product = &vertexdomain.Product{ProductClass: class}
	}
	return line
}

func productLabel(item billingdomain.InvoiceItem) string {
	for _, label := range []string{item.UsageName, item.PhaseName, item.PlanName} {
		if label != "" {
			return label
		}
	}
	return item.Description
}

func toCustomer(account billingdomain.Account, props billingdomain.Properties) *vertexdomain.Customer {
	code := account.ExternalKey
	if code == "" {
		code = account.ID.String()
	}

	destination := toDestination(account, props)
	customer := &vertexdomain.Customer{
		CustomerCode: &vertexdomain.CustomerCode{Value: code},
		Destination:  destination,
	}
	if number, ok := props.Value(PropertyTaxRegistrationNumber); ok {
		customer.TaxRegistrations = []vertexdomain.TaxRegistration{{
			TaxRegistrationNumber: number,
			IsoCountryCode:        destination.Country,
			PhysicalLocations:     []vertexdomain.Location{*destination},
		}}
	}
	return customer
}

// toDestination uses the location properties when locationAddress1 is
// present, the account address otherwise.
func toDestination(account billingdomain.Account, props billingdomain.Properties) *vertexdomain.Location {
	if line1, ok := props.Value(PropertyLocationAddress1); ok {
		return &vertexdomain.Location{
			StreetAddress1: line1,
			StreetAddress2: props.String(PropertyLocationAddress2),
			City:           props.String(PropertyLocationCity),
			MainDivision:   props.String(PropertyLocationRegion),
			PostalCode:     props.String(PropertyLocationPostalCode),
			Country:        props.String(PropertyLocationCountry),
		}
	}
	return &vertexdomain.Location{
		StreetAddress1: account.Address1,
		StreetAddress2: account.Address2,
		City:           account.City,
		MainDivision:   account.StateOrProvince,
		PostalCode:     account.PostalCode,
		Country:        account.Country,
	}
}

func toSeller(company taxdomain.Company) *vertexdomain.Seller {
	seller := &vertexdomain.Seller{
		Company:  company.Name,
		Division: company.Division,
	}
	if company.Origin != nil && company.Origin.Country != "" {
		origin := *company.Origin
		seller.PhysicalOrigin = &origin
	}
	return seller
}

func documentNumber(invoiceNumber int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:documentSuffixLength]
	return fmt.Sprintf("%d-%s", invoiceNumber, suffix)
}

func sumAmounts(items []billingdomain.InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
