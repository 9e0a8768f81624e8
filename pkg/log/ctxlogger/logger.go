package ctxlogger

import (
	"context"
	"sync/atomic"

	"github.com/smallbiznis/vertextax/pkg/telemetry/correlation"
	"github.com/smallbiznis/vertextax/pkg/tenantctx"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var serviceName atomic.Pointer[string]

func SetServiceName(name string) {
	serviceName.Store(&name)
}

// WithContext returns base annotated with the request metadata carried by ctx:
// correlation id, trace and span ids, service name and tenant id.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if name := serviceName.Load(); name != nil {
		fields = append(fields, zap.String("service_name", *name))
	}
	if tenantID, ok := tenantctx.TenantID(ctx); ok {
		fields = append(fields, zap.String("tenant_id", tenantID.String()))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
