package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vertextax/pkg/telemetry/correlation"
	"github.com/smallbiznis/vertextax/pkg/tenantctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. The span is renamed after
// routing, and tagged with the tenant once the tenant middleware has run.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("vertextax/http")
	propagator := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		carrier := propagation.HeaderCarrier(c.Request.Header)
		ctx, span := tracer.Start(propagator.Extract(c.Request.Context(), carrier), c.Request.Method,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		finished := c.Request.Context()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		if cid := correlation.ExtractCorrelationID(finished); cid != "" {
			span.SetAttributes(attribute.String("correlation.id", cid))
		}
		if tenantID, ok := tenantctx.TenantID(finished); ok {
			span.SetAttributes(attribute.String("tenant.id", tenantID.String()))
		}

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			span.RecordError(last.Err)
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
