package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"github.com/smallbiznis/vertextax/pkg/tenantctx"
	"go.uber.org/zap"
)

const HeaderTenant = "X-Tenant-ID"

// TenantRequired resolves the tenant from the tenant_id query parameter or
// the X-Tenant-ID header.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Query("tenant_id"))
		if raw == "" {
			raw = strings.TrimSpace(c.GetHeader(HeaderTenant))
		}
		if raw == "" {
			AbortWithError(c, newValidationError("tenant_id", "required", "tenant_id is required"))
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant_id"))
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ComputeRateLimit caps compute calls per tenant. Limiter failures let the
// request through.
func (s *Server) ComputeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID, _ := tenantctx.TenantID(ctx)

		res, err := s.guard.AllowTenant(ctx, tenantID)
		if err != nil {
			ctxlogger.WithContext(ctx, s.log).Warn("compute rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func tenantFromContext(ctx context.Context) uuid.UUID {
	id, _ := tenantctx.TenantID(ctx)
	return id
}
