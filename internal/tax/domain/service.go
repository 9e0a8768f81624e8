package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
)

type Company struct {
	Name     string
	Division string
	Origin   *vertexdomain.Location
}

// Settings is the engine-facing configuration snapshot for one computation.
type Settings struct {
	Company                  Company
	SkipAnomalousAdjustments bool
}

type BuildParams struct {
	Account       billingdomain.Account
	Batch         TaxableBatch
	ReferenceCode string
	PostingDate   time.Time
	DryRun        bool
	Properties    billingdomain.Properties
	Settings      Settings
}

type BuildStatus int

const (
	BuildOK BuildStatus = iota
	BuildSkipped
)

// BuildResult is either a request ready to send or a skipped batch with the
// structural problem that caused it.
type BuildResult struct {
	Status     BuildStatus
	Request    *vertexdomain.SaleRequest
	SkipReason error
}

type RequestBuilder interface {
	Build(ctx context.Context, params BuildParams) (BuildResult, error)
}

type ResponseMapper interface {
	ToInvoiceItems(ctx context.Context, invoiceID uuid.UUID, taxable billingdomain.InvoiceItem, line vertexdomain.SaleResponseLine, adjustment *billingdomain.InvoiceItem) []billingdomain.InvoiceItem
}

// Calculator produces the tax items an invoice is still missing.
type Calculator interface {
	Compute(ctx context.Context, account billingdomain.Account, invoice billingdomain.Invoice, dryRun bool, props billingdomain.Properties, tenant billingdomain.TenantContext) ([]billingdomain.InvoiceItem, error)
}

type Voider interface {
	VoidInvoice(ctx context.Context, invoiceID uuid.UUID, tenant billingdomain.TenantContext) int
}
