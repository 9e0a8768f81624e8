package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"github.com/smallbiznis/vertextax/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type VoidServiceParams struct {
	fx.In

	Store   *AuditStore
	Client  vertexdomain.Client
	Metrics *metrics.TaxMetrics `optional:"true"`
	Log     *zap.Logger
}

type VoidService struct {
	store   *AuditStore
	client  vertexdomain.Client
	metrics *metrics.TaxMetrics
	log     *zap.Logger
}

func NewVoidService(p VoidServiceParams) *VoidService {
	return &VoidService{
		store:   p.Store,
		client:  p.Client,
		metrics: p.Metrics,
		log:     p.Log.Named("tax.void"),
	}
}

// VoidInvoice deletes every engine document recorded for the invoice and
// returns how many were deleted. Failures are logged, never returned.
func (s *VoidService) VoidInvoice(ctx context.Context, invoiceID uuid.UUID, tenant billingdomain.TenantContext) int {
	ctx = tenantctx.WithTenantID(ctx, tenant.TenantID)
	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("invoice_id", invoiceID.String()))

	records, err := s.store.ListSuccessful(ctx, invoiceID, tenant.TenantID)
	if err != nil {
		log.Warn("unable to load tax documents to void", zap.Error(err))
		return 0
	}

	voided := 0
	for _, code := range documentCodes(records) {
		start := time.Now()
		err := s.client.DeleteTransaction(ctx, code)
		s.metrics.ObserveEngineCall(metrics.OperationDelete, time.Since(start), err)
		if err != nil {
			log.Warn("unable to void tax document", zap.String("doc_code", code), zap.Error(err))
			continue
		}
		voided++
	}

	log.Info("tax documents voided", zap.Int("voided", voided))
	return voided
}

func documentCodes(records []taxdomain.AuditRecord) []string {
	seen := make(map[string]struct{}, len(records))
	codes := make([]string, 0, len(records))
	for _, record := range records {
		if record.DocCode == nil || *record.DocCode == "" {
			continue
		}
		if _, ok := seen[*record.DocCode]; ok {
			continue
		}
		seen[*record.DocCode] = struct{}{}
		codes = append(codes, *record.DocCode)
	}
	return codes
}

var _ taxdomain.Voider = (*VoidService)(nil)
