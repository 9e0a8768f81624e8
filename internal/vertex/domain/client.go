package domain

import "context"

//go:generate mockgen -source=client.go -destination=./mocks/mock_client.go -package=mocks

// Client is the tax engine contract used by the tax service.
type Client interface {
	CalculateTax(ctx context.Context, req *SaleRequest) (*SaleResponse, error)
	DeleteTransaction(ctx context.Context, transactionID string) error
}
