package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/db/pagination"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type AuditStoreParams struct {
	fx.In

	Repo    taxdomain.Repository
	GenID   *snowflake.Node
	Metrics *metrics.TaxMetrics `optional:"true"`
	Log     *zap.Logger
}

// AuditStore is the append-only trail of tax engine calls.
type AuditStore struct {
	repo    taxdomain.Repository
	genID   *snowflake.Node
	metrics *metrics.TaxMetrics
	log     *zap.Logger
}

func NewAuditStore(p AuditStoreParams) *AuditStore {
	return &AuditStore{
		repo:    p.Repo,
		genID:   p.GenID,
		metrics: p.Metrics,
		log:     p.Log.Named("tax.audit_store"),
	}
}

// AppendSuccess records a calculated document and marks items as taxed.
func (s *AuditStore) AppendSuccess(ctx context.Context, accountID, invoiceID uuid.UUID, items taxdomain.ItemAdjustmentIDs, response *vertexdomain.SaleResponse, at time.Time, tenantID uuid.UUID) (*taxdomain.AuditRecord, error) {
	var data *vertexdomain.SaleResponseData
	if response != nil {
		data = response.Data
	}
	extractor := NewResponseDataExtractor(data)

	record, err := s.newRecord(accountID, invoiceID, items, taxdomain.ResultCodeSuccess, at, tenantID)
	if err != nil {
		return nil, err
	}
	if code := extractor.DocumentCode(); code != "" {
		record.DocCode = &code
	}
	record.DocDate = extractor.DocumentDate()
	record.TaxDate = extractor.TaxDate()
	record.TotalAmount = extractor.TotalAmount()
	record.TotalDiscount = extractor.TotalDiscount()
	record.TotalExemption = decimal.NewNullDecimal(extractor.TotalTaxExempt())
	record.TotalTaxable = decimal.NewNullDecimal(extractor.TotalTaxable())
	record.TotalTax = extractor.TotalTax()
	record.TotalTaxCalculated = decimal.NewNullDecimal(extractor.TotalTaxCalculated())

	if record.TaxLines, err = marshalJSON(extractor.TaxLines()); err != nil {
		return nil, err
	}
	if record.TaxSummary, err = marshalJSON(extractor.TaxSummary()); err != nil {
		return nil, err
	}
	if record.TaxAddresses, err = marshalJSON(extractor.Addresses()); err != nil {
		return nil, err
	}

	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// AppendError records a failed call together with the raw error payload.
func (s *AuditStore) AppendError(ctx context.Context, accountID, invoiceID uuid.UUID, items taxdomain.ItemAdjustmentIDs, payload string, at time.Time, tenantID uuid.UUID) (*taxdomain.AuditRecord, error) {
	record, err := s.newRecord(accountID, invoiceID, items, taxdomain.ResultCodeError, at, tenantID)
	if err != nil {
		return nil, err
	}
	record.AdditionalData = &payload

	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ListSuccessful returns the SUCCESS records of an invoice, oldest first.
func (s *AuditStore) ListSuccessful(ctx context.Context, invoiceID, tenantID uuid.UUID) ([]taxdomain.AuditRecord, error) {
	return s.repo.List(ctx, taxdomain.ListFilter{
		TenantID:   tenantID,
		InvoiceID:  invoiceID,
		ResultCode: taxdomain.ResultCodeSuccess,
	})
}

// LatestSuccessful returns the most recent SUCCESS record, nil when none.
func (s *AuditStore) LatestSuccessful(ctx context.Context, invoiceID, tenantID uuid.UUID) (*taxdomain.AuditRecord, error) {
	return s.repo.Latest(ctx, tenantID, invoiceID, taxdomain.ResultCodeSuccess)
}

// ListByInvoice pages through every record of an invoice regardless of result.
func (s *AuditStore) ListByInvoice(ctx context.Context, invoiceID, tenantID uuid.UUID, page pagination.Pagination) ([]taxdomain.AuditRecord, pagination.PageInfo, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	var afterID snowflake.ID
	if cursor.ID != "" {
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
	}

	limit := page.Limit()
	records, err := s.repo.List(ctx, taxdomain.ListFilter{
		TenantID:  tenantID,
		InvoiceID: invoiceID,
		AfterID:   afterID,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	return pagination.Page(records, limit, func(r taxdomain.AuditRecord) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String()}
	})
}

// TaxedItems folds SUCCESS records into the set of taxed items and
// adjustments. Records whose item mapping cannot be read are skipped.
func (s *AuditStore) TaxedItems(ctx context.Context, records []taxdomain.AuditRecord) billingdomain.TaxedItems {
	taxed := billingdomain.TaxedItems{}
	for _, record := range records {
		var mapping map[uuid.UUID][]uuid.UUID
		if err := json.Unmarshal(record.InvoiceItemIDs, &mapping); err != nil {
			ctxlogger.WithContext(ctx, s.log).Warn("corrupted invoice item ids on audit record, ignored",
				zap.String("record_id", record.ID.String()),
				zap.String("invoice_id", record.InvoiceID.String()),
				zap.Error(err),
			)
			continue
		}
		for itemID, adjustmentIDs := range mapping {
			taxed.Add(itemID, adjustmentIDs...)
		}
	}
	return taxed
}

func (s *AuditStore) newRecord(accountID, invoiceID uuid.UUID, items taxdomain.ItemAdjustmentIDs, result taxdomain.ResultCode, at time.Time, tenantID uuid.UUID) (*taxdomain.AuditRecord, error) {
	itemIDs, err := marshalJSON(items)
	if err != nil {
		return nil, err
	}
	return &taxdomain.AuditRecord{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		AccountID:      accountID,
		InvoiceID:      invoiceID,
		InvoiceItemIDs: itemIDs,
		ResultCode:     result,
		CreatedAt:      at.UTC(),
	}, nil
}

func (s *AuditStore) insert(ctx context.Context, record *taxdomain.AuditRecord) error {
	if err := s.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("append %s audit record for invoice %s: %w", record.ResultCode, record.InvoiceID, err)
	}
	s.metrics.IncAuditRecord(string(record.ResultCode))

	ctxlogger.WithContext(ctx, s.log).Debug("audit record appended",
		zap.String("record_id", record.ID.String()),
		zap.String("invoice_id", record.InvoiceID.String()),
		zap.String("result_code", string(record.ResultCode)),
	)
	return nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
