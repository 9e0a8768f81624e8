package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	"github.com/smallbiznis/vertextax/pkg/db"
	"gorm.io/gorm"
)

const auditColumns = `id, tenant_id, account_id, invoice_id, invoice_item_ids, doc_code, doc_date,
	total_amount, total_discount, total_exemption, total_taxable, total_tax, total_tax_calculated,
	tax_date, tax_lines, tax_summary, tax_addresses, result_code, additional_data, created_at`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) taxdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, record *taxdomain.AuditRecord) error {
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO vertex_responses (`+auditColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.TenantID,
		record.AccountID,
		record.InvoiceID,
		record.InvoiceItemIDs,
		record.DocCode,
		record.DocDate,
		record.TotalAmount,
		record.TotalDiscount,
		record.TotalExemption,
		record.TotalTaxable,
		record.TotalTax,
		record.TotalTaxCalculated,
		record.TaxDate,
		record.TaxLines,
		record.TaxSummary,
		record.TaxAddresses,
		record.ResultCode,
		record.AdditionalData,
		record.CreatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %s", taxdomain.ErrDuplicateRecord, record.ID)
	}
	return err
}

func (r *repository) List(ctx context.Context, filter taxdomain.ListFilter) ([]taxdomain.AuditRecord, error) {
	var (
		query strings.Builder
		args  = []any{filter.TenantID, filter.InvoiceID}
	)
	query.WriteString(`SELECT ` + auditColumns + ` FROM vertex_responses WHERE tenant_id = ? AND invoice_id = ?`)
	if filter.ResultCode != "" {
		query.WriteString(` AND result_code = ?`)
		args = append(args, filter.ResultCode)
	}
	if filter.AfterID != 0 {
		query.WriteString(` AND id > ?`)
		args = append(args, filter.AfterID)
	}
	query.WriteString(` ORDER BY id ASC`)
	if filter.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	var records []taxdomain.AuditRecord
	if err := r.db.WithContext(ctx).Raw(query.String(), args...).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) Latest(ctx context.Context, tenantID, invoiceID uuid.UUID, result taxdomain.ResultCode) (*taxdomain.AuditRecord, error) {
	var record taxdomain.AuditRecord
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+auditColumns+`
		 FROM vertex_responses
		 WHERE tenant_id = ? AND invoice_id = ? AND result_code = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		tenantID,
		invoiceID,
		result,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
