package domain

import "errors"

var (
	ErrInvalidBatch     = errors.New("invalid_tax_batch")
	ErrInvalidInvoice   = errors.New("invalid_invoice")
	ErrDuplicateRecord  = errors.New("duplicate_audit_record")
	ErrMissingReference = errors.New("missing_original_reference")
)
