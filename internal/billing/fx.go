package billing

import (
	"github.com/smallbiznis/vertextax/internal/billing/domain"
	"github.com/smallbiznis/vertextax/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(
		service.NewMemoryStore,
		func(s *service.MemoryStore) domain.InvoiceReader { return s },
		func(s *service.MemoryStore) domain.AccountReader { return s },
		fx.Annotate(service.NewResolver, fx.As(new(domain.DeltaResolver))),
	),
)
