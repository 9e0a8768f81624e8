package observability

import (
	"github.com/smallbiznis/vertextax/internal/observability/logger"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	"github.com/smallbiznis/vertextax/internal/observability/tracing"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		splitConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewTaxMetrics,
	),
	fx.Invoke(func(cfg Config, _ *sdktrace.TracerProvider) {
		ctxlogger.SetServiceName(cfg.ServiceName)
	}),
)

type providerConfigs struct {
	fx.Out

	Logger  logger.Config
	Tracing tracing.Config
	Metrics metrics.Config
}

func splitConfig(cfg Config) providerConfigs {
	return providerConfigs{
		Logger: logger.Config{
			ServiceName:         cfg.ServiceName,
			Environment:         cfg.Environment,
			Version:             cfg.Version,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			IncludeCaller:       true,
			IncludeStackOnError: cfg.verbose(),
		},
		Tracing: tracing.Config{
			Enabled:          cfg.OtelEnabled,
			ServiceName:      cfg.ServiceName,
			ServiceVersion:   cfg.Version,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.OTLPEndpoint,
			ExporterProtocol: cfg.OTLPProtocol,
			SamplingRatio:    cfg.OtelSamplingRatio,
		},
		Metrics: metrics.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		},
	}
}
