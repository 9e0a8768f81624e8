package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	"github.com/smallbiznis/vertextax/pkg/db/pagination"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

type listTaxResponsesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListTaxResponses(c *gin.Context) {
	invoiceID, err := parseUUIDParam(c, "invoice_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listTaxResponsesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	records, pageInfo, err := s.trail.ListByInvoice(ctx, invoiceID, tenantFromContext(ctx), pagination.Pagination{
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records, "page_info": pageInfo})
}

func (s *Server) VoidInvoiceTax(c *gin.Context) {
	invoiceID, err := parseUUIDParam(c, "invoice_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	voided := s.hook.InvoiceVoided(ctx, invoiceID, billingdomain.TenantContext{TenantID: tenantFromContext(ctx)})
	c.JSON(http.StatusOK, gin.H{"voided": voided})
}

type accountRequest struct {
	ID              string `json:"id" binding:"required"`
	ExternalKey     string `json:"external_key"`
	Name            string `json:"name"`
	Currency        string `json:"currency"`
	Address1        string `json:"address1"`
	Address2        string `json:"address2"`
	City            string `json:"city"`
	StateOrProvince string `json:"state_or_province"`
	PostalCode      string `json:"postal_code"`
	Country         string `json:"country"`
}

type invoiceItemRequest struct {
	ID           string          `json:"id" binding:"required"`
	Type         string          `json:"type" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	Description  string          `json:"description"`
	PlanName     string          `json:"plan_name"`
	PhaseName    string          `json:"phase_name"`
	UsageName    string          `json:"usage_name"`
	ItemDetails  string          `json:"item_details"`
	LinkedItemID string          `json:"linked_item_id"`
}

type invoiceRequest struct {
	Number   int64                `json:"number"`
	Date     string               `json:"date" binding:"required"`
	Currency string               `json:"currency"`
	Items    []invoiceItemRequest `json:"items"`
}

// computeTaxRequest carries the invoice snapshot to tax. Earlier invoices
// referenced by repairs must have been pushed by a previous call.
type computeTaxRequest struct {
	DryRun     bool              `json:"dry_run"`
	Account    accountRequest    `json:"account"`
	Invoice    invoiceRequest    `json:"invoice"`
	Properties map[string]string `json:"properties"`
}

type invoiceItemResponse struct {
	ID           string          `json:"id"`
	InvoiceID    string          `json:"invoice_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	StartDate    *string         `json:"start_date,omitempty"`
	EndDate      *string         `json:"end_date,omitempty"`
	Description  string          `json:"description"`
	ItemDetails  string          `json:"item_details,omitempty"`
	LinkedItemID string          `json:"linked_item_id,omitempty"`
}

func (s *Server) ComputeInvoiceTax(c *gin.Context) {
	invoiceID, err := parseUUIDParam(c, "invoice_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req computeTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, invoice, err := req.toDomain(invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	tenant := billingdomain.TenantContext{TenantID: tenantFromContext(ctx), AccountID: account.ID}

	release, locked, err := s.guard.LockInvoice(ctx, tenant.TenantID, invoice.ID)
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Error("compute lock unavailable", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if !locked {
		AbortWithError(c, ErrConflict)
		return
	}
	defer release()

	s.snapshots.PutAccount(tenant, account)
	s.snapshots.PutInvoice(tenant, invoice)

	items, err := s.hook.AdditionalInvoiceItems(ctx, invoice, req.DryRun, req.properties(), tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]invoiceItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toInvoiceItemResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (r computeTaxRequest) toDomain(invoiceID uuid.UUID) (billingdomain.Account, billingdomain.Invoice, error) {
	accountID, err := uuid.Parse(strings.TrimSpace(r.Account.ID))
	if err != nil {
		return billingdomain.Account{}, billingdomain.Invoice{}, newValidationError("account.id", "invalid_account_id", "invalid account id")
	}
	invoiceDate, err := parseOptionalDate(r.Invoice.Date)
	if err != nil || invoiceDate == nil {
		return billingdomain.Account{}, billingdomain.Invoice{}, newValidationError("invoice.date", "invalid_invoice_date", "invalid invoice date")
	}

	account := billingdomain.Account{
		ID:              accountID,
		ExternalKey:     strings.TrimSpace(r.Account.ExternalKey),
		Name:            strings.TrimSpace(r.Account.Name),
		Currency:        strings.TrimSpace(r.Account.Currency),
		Address1:        r.Account.Address1,
		Address2:        r.Account.Address2,
		City:            r.Account.City,
		StateOrProvince: r.Account.StateOrProvince,
		PostalCode:      r.Account.PostalCode,
		Country:         r.Account.Country,
	}

	invoice := billingdomain.Invoice{
		ID:            invoiceID,
		AccountID:     accountID,
		InvoiceNumber: r.Invoice.Number,
		InvoiceDate:   *invoiceDate,
		Currency:      strings.TrimSpace(r.Invoice.Currency),
		Items:         make([]billingdomain.InvoiceItem, 0, len(r.Invoice.Items)),
	}
	if invoice.Currency == "" {
		invoice.Currency = account.Currency
	}

	for i, in := range r.Invoice.Items {
		item, err := in.toDomain(invoice)
		if err != nil {
			field := fmt.Sprintf("invoice.items[%d]", i)
			return billingdomain.Account{}, billingdomain.Invoice{}, newValidationError(field, "invalid_item", err.Error())
		}
		invoice.Items = append(invoice.Items, item)
	}
	return account, invoice, nil
}

func (r invoiceItemRequest) toDomain(invoice billingdomain.Invoice) (billingdomain.InvoiceItem, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.ID))
	if err != nil {
		return billingdomain.InvoiceItem{}, err
	}
	start, err := parseOptionalDate(r.StartDate)
	if err != nil {
		return billingdomain.InvoiceItem{}, err
	}
	end, err := parseOptionalDate(r.EndDate)
	if err != nil {
		return billingdomain.InvoiceItem{}, err
	}
	linked, err := parseOptionalUUID(r.LinkedItemID)
	if err != nil {
		return billingdomain.InvoiceItem{}, err
	}

	currency := strings.TrimSpace(r.Currency)
	if currency == "" {
		currency = invoice.Currency
	}
	return billingdomain.InvoiceItem{
		ID:           id,
		InvoiceID:    invoice.ID,
		AccountID:    invoice.AccountID,
		Type:         billingdomain.ItemType(strings.ToUpper(strings.TrimSpace(r.Type))),
		Amount:       r.Amount,
		Currency:     currency,
		StartDate:    start,
		EndDate:      end,
		Description:  r.Description,
		PlanName:     r.PlanName,
		PhaseName:    r.PhaseName,
		UsageName:    r.UsageName,
		ItemDetails:  r.ItemDetails,
		LinkedItemID: linked,
	}, nil
}

func (r computeTaxRequest) properties() billingdomain.Properties {
	if len(r.Properties) == 0 {
		return nil
	}
	props := make(billingdomain.Properties, 0, len(r.Properties))
	for key, value := range r.Properties {
		props = append(props, billingdomain.PluginProperty{Key: key, Value: value})
	}
	return props
}

func toInvoiceItemResponse(item billingdomain.InvoiceItem) invoiceItemResponse {
	resp := invoiceItemResponse{
		ID:          item.ID.String(),
		InvoiceID:   item.InvoiceID.String(),
		Type:        string(item.Type),
		Amount:      item.Amount,
		Currency:    item.Currency,
		StartDate:   formatOptionalDate(item.StartDate),
		EndDate:     formatOptionalDate(item.EndDate),
		Description: item.Description,
		ItemDetails: item.ItemDetails,
	}
	if item.LinkedItemID != nil {
		resp.LinkedItemID = item.LinkedItemID.String()
	}
	return resp
}
