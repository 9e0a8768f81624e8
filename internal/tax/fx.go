package tax

import (
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	"github.com/smallbiznis/vertextax/internal/tax/repository"
	"github.com/smallbiznis/vertextax/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewAuditStore),
	fx.Provide(service.NewRequestBuilder),
	fx.Provide(service.NewResponseMapper),
	fx.Provide(service.NewCalculator),
	fx.Provide(service.NewVoidService),
	fx.Provide(
		func(c *service.Calculator) taxdomain.Calculator { return c },
		func(v *service.VoidService) taxdomain.Voider { return v },
	),
	fx.Provide(service.NewInvoicePlugin),
)
