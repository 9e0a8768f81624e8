package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ListFilter selects audit rows of one invoice. Empty ResultCode matches all;
// AfterID and Limit page through rows in id order.
type ListFilter struct {
	TenantID   uuid.UUID
	InvoiceID  uuid.UUID
	ResultCode ResultCode
	AfterID    snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, record *AuditRecord) error
	List(ctx context.Context, filter ListFilter) ([]AuditRecord, error)
	Latest(ctx context.Context, tenantID, invoiceID uuid.UUID, result ResultCode) (*AuditRecord, error)
}
