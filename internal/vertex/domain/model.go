package domain

type SaleMessageType string

const (
	SaleMessageTypeQuotation SaleMessageType = "QUOTATION"
	SaleMessageTypeInvoice   SaleMessageType = "INVOICE"
)

type TransactionType string

const TransactionTypeSale TransactionType = "SALE"

// ProductClassFieldID is the flexible code field carrying the plan/usage label.
const ProductClassFieldID = 20

// SaleRequest is a supply (sale) document sent for calculation.
type SaleRequest struct {
	SaleMessageType SaleMessageType `json:"saleMessageType"`
	TransactionType TransactionType `json:"transactionType"`
	TransactionID   string          `json:"transactionId,omitempty"`
	DocumentNumber  string          `json:"documentNumber,omitempty"`
	DocumentDate    *Date           `json:"documentDate,omitempty"`
	PostingDate     *Date           `json:"postingDate,omitempty"`
	Currency        *Currency       `json:"currency,omitempty"`
	Customer        *Customer       `json:"customer,omitempty"`
	Seller          *Seller         `json:"seller,omitempty"`
	LineItems       []LineItem      `json:"lineItems"`

	// OriginalInvoiceReference ties a return document to the document that
	// taxed the original sale. It is not part of the engine payload.
	OriginalInvoiceReference string `json:"-"`
}

type Currency struct {
	IsoCurrencyCodeAlpha string `json:"isoCurrencyCodeAlpha"`
}

type Customer struct {
	CustomerCode     *CustomerCode     `json:"customerCode,omitempty"`
	Destination      *Location         `json:"destination,omitempty"`
	TaxRegistrations []TaxRegistration `json:"taxRegistrations,omitempty"`
}

type CustomerCode struct {
	Value string `json:"value"`
}

type Location struct {
	StreetAddress1 string `json:"streetAddress1,omitempty"`
	StreetAddress2 string `json:"streetAddress2,omitempty"`
	City           string `json:"city,omitempty"`
	MainDivision   string `json:"mainDivision,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
	Country        string `json:"country,omitempty"`
}

type TaxRegistration struct {
	TaxRegistrationNumber string     `json:"taxRegistrationNumber,omitempty"`
	IsoCountryCode        string     `json:"isoCountryCode,omitempty"`
	PhysicalLocations     []Location `json:"physicalLocations,omitempty"`
}

type Seller struct {
	Company        string    `json:"company,omitempty"`
	Division       string    `json:"division,omitempty"`
	PhysicalOrigin *Location `json:"physicalOrigin,omitempty"`
}

type LineItem struct {
	LineItemID     string          `json:"lineItemId"`
	LineItemNumber int             `json:"lineItemNumber"`
	Product        *Product        `json:"product,omitempty"`
	ExtendedPrice  float64         `json:"extendedPrice"`
	FlexibleFields *FlexibleFields `json:"flexibleFields,omitempty"`
}

type Product struct {
	ProductClass string `json:"productClass,omitempty"`
	Value        string `json:"value,omitempty"`
}

type FlexibleFields struct {
	FlexibleCodeFields []FlexibleCodeField `json:"flexibleCodeFields,omitempty"`
}

type FlexibleCodeField struct {
	FieldID int    `json:"fieldId"`
	Value   string `json:"value"`
}

// SaleResponse is the engine envelope around a calculated document.
type SaleResponse struct {
	Data *SaleResponseData `json:"data"`
	Meta map[string]any    `json:"meta,omitempty"`
}

type SaleResponseData struct {
	TransactionID  string             `json:"transactionId,omitempty"`
	DocumentNumber string             `json:"documentNumber,omitempty"`
	DocumentDate   *Date              `json:"documentDate,omitempty"`
	TaxPointDate   *Date              `json:"taxPointDate,omitempty"`
	SubTotal       *float64           `json:"subTotal,omitempty"`
	Total          *float64           `json:"total,omitempty"`
	TotalTax       *float64           `json:"totalTax,omitempty"`
	Discount       *Discount          `json:"discount,omitempty"`
	Customer       *Customer          `json:"customer,omitempty"`
	LineItems      []SaleResponseLine `json:"lineItems,omitempty"`
}

type Discount struct {
	DiscountValue *float64 `json:"discountValue,omitempty"`
}

type SaleResponseLine struct {
	LineItemID     string         `json:"lineItemId"`
	LineItemNumber int            `json:"lineItemNumber,omitempty"`
	TotalTax       *float64       `json:"totalTax,omitempty"`
	Taxes          []TaxBreakdown `json:"taxes,omitempty"`
}

type TaxBreakdown struct {
	Jurisdiction  *Jurisdiction `json:"jurisdiction,omitempty"`
	CalculatedTax *float64      `json:"calculatedTax,omitempty"`
	EffectiveRate *float64      `json:"effectiveRate,omitempty"`
	NominalRate   *float64      `json:"nominalRate,omitempty"`
	Taxable       *float64      `json:"taxable,omitempty"`
	Exempt        *float64      `json:"exempt,omitempty"`
	NonTaxable    *float64      `json:"nonTaxable,omitempty"`
	TaxCode       string        `json:"taxCode,omitempty"`
	VertexTaxCode string        `json:"vertexTaxCode,omitempty"`
	TaxResult     string        `json:"taxResult,omitempty"`
	TaxType       string        `json:"taxType,omitempty"`
}

type Jurisdiction struct {
	Value            string `json:"value,omitempty"`
	JurisdictionType string `json:"jurisdictionType,omitempty"`
	JurisdictionID   int64  `json:"jurisdictionId,omitempty"`
}
