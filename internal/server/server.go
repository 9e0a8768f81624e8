package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	billingservice "github.com/smallbiznis/vertextax/internal/billing/service"
	"github.com/smallbiznis/vertextax/internal/config"
	obslogger "github.com/smallbiznis/vertextax/internal/observability/logger"
	obstracing "github.com/smallbiznis/vertextax/internal/observability/tracing"
	"github.com/smallbiznis/vertextax/internal/ratelimit"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	taxservice "github.com/smallbiznis/vertextax/internal/tax/service"
	"github.com/smallbiznis/vertextax/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(
		NewEngine,
		func(s *taxservice.AuditStore) AuditTrail { return s },
		func(p *taxservice.InvoicePlugin) InvoiceHook { return p },
		func(s *billingservice.MemoryStore) SnapshotWriter { return s },
		func(g *ratelimit.ComputeGuard) ComputeGuard { return g },
	),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// AuditTrail lists the engine calls recorded for an invoice.
type AuditTrail interface {
	ListByInvoice(ctx context.Context, invoiceID, tenantID uuid.UUID, page pagination.Pagination) ([]taxdomain.AuditRecord, pagination.PageInfo, error)
}

// InvoiceHook is the billing platform entry point.
type InvoiceHook interface {
	AdditionalInvoiceItems(ctx context.Context, invoice billingdomain.Invoice, dryRun bool, props billingdomain.Properties, tenant billingdomain.TenantContext) ([]billingdomain.InvoiceItem, error)
	InvoiceVoided(ctx context.Context, invoiceID uuid.UUID, tenant billingdomain.TenantContext) int
}

// SnapshotWriter stores the invoice and account pushed with a compute call.
type SnapshotWriter interface {
	PutInvoice(tenant billingdomain.TenantContext, invoice billingdomain.Invoice)
	PutAccount(tenant billingdomain.TenantContext, account billingdomain.Account)
}

type ComputeGuard interface {
	AllowTenant(ctx context.Context, tenantID uuid.UUID) (ratelimit.Result, error)
	LockInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (func(), bool, error)
}

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, shutdowner fx.Shutdowner, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	trail     AuditTrail
	hook      InvoiceHook
	snapshots SnapshotWriter
	guard     ComputeGuard
	log       *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Trail     AuditTrail
	Hook      InvoiceHook
	Snapshots SnapshotWriter
	Guard     ComputeGuard
	Log       *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		trail:     p.Trail,
		hook:      p.Hook,
		snapshots: p.Snapshots,
		guard:     p.Guard,
		log:       p.Log.Named("http.tax"),
	}

	svc.registerTaxRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerTaxRoutes() {
	tax := s.engine.Group("/v1/tax", TenantRequired())

	tax.GET("/invoices/:invoice_id/responses", s.ListTaxResponses)
	tax.POST("/invoices/:invoice_id/compute", s.ComputeRateLimit(), s.ComputeInvoiceTax)
	tax.POST("/invoices/:invoice_id/void", s.VoidInvoiceTax)
}
