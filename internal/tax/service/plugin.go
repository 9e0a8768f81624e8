package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	"go.uber.org/fx"
)

type InvoicePluginParams struct {
	fx.In

	Accounts   billingdomain.AccountReader
	Calculator taxdomain.Calculator
	Voider     taxdomain.Voider
}

// InvoicePlugin is the billing platform hook: it adds tax items to invoices
// being generated and voids engine documents of voided invoices.
type InvoicePlugin struct {
	accounts   billingdomain.AccountReader
	calculator taxdomain.Calculator
	voider     taxdomain.Voider
}

func NewInvoicePlugin(p InvoicePluginParams) *InvoicePlugin {
	return &InvoicePlugin{
		accounts:   p.Accounts,
		calculator: p.Calculator,
		voider:     p.Voider,
	}
}

func (p *InvoicePlugin) AdditionalInvoiceItems(ctx context.Context, invoice billingdomain.Invoice, dryRun bool, props billingdomain.Properties, tenant billingdomain.TenantContext) ([]billingdomain.InvoiceItem, error) {
	account, err := p.accounts.GetAccount(ctx, invoice.AccountID, tenant)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", invoice.AccountID, err)
	}
	return p.calculator.Compute(ctx, *account, invoice, dryRun, props, tenant)
}

func (p *InvoicePlugin) InvoiceVoided(ctx context.Context, invoiceID uuid.UUID, tenant billingdomain.TenantContext) int {
	return p.voider.VoidInvoice(ctx, invoiceID, tenant)
}
