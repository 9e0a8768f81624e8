package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
)

const (
	OutcomeOK            = "ok"
	OutcomeNotConfigured = "not_configured"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeClientError   = "client_error"
	OutcomeServerError   = "server_error"
	OutcomeTimeout       = "timeout"
	OutcomeTransport     = "transport"
)

const (
	OperationCalculate = "calculate"
	OperationDelete    = "delete"
	OperationToken     = "token"
)

type Config struct {
	ServiceName string
	Environment string
}

// TaxMetrics tracks tax engine traffic and the audit trail it produces. A nil
// *TaxMetrics is valid and records nothing.
type TaxMetrics struct {
	engineRequests *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	auditRecords   *prometheus.CounterVec
	skippedBatches *prometheus.CounterVec
	taxItems       *prometheus.CounterVec
}

func NewTaxMetrics(cfg Config) *TaxMetrics {
	return NewTaxMetricsWithRegistry(prometheus.DefaultRegisterer, cfg)
}

// NewTaxMetricsWithRegistry registers the collectors on registerer.
func NewTaxMetricsWithRegistry(registerer prometheus.Registerer, cfg Config) *TaxMetrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "vertextax"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &TaxMetrics{
		engineRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vertextax_engine_requests_total",
			Help:        "Tax engine calls by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "vertextax_engine_request_duration_seconds",
			Help:        "Tax engine call latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"operation"}),
		auditRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vertextax_audit_records_total",
			Help:        "Audit records appended by result code.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		skippedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vertextax_batches_skipped_total",
			Help:        "Malformed adjustment batches skipped instead of failing the invoice.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		taxItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vertextax_tax_items_total",
			Help:        "Tax items produced by batch kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	registerer.MustRegister(m.engineRequests, m.engineDuration, m.auditRecords, m.skippedBatches, m.taxItems)
	return m
}

// ObserveEngineCall records one tax engine call and how long it took.
func (m *TaxMetrics) ObserveEngineCall(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.engineRequests.WithLabelValues(operation, ClassifyEngineOutcome(err)).Inc()
	m.engineDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *TaxMetrics) IncAuditRecord(result string) {
	if m == nil {
		return
	}
	m.auditRecords.WithLabelValues(strings.ToLower(result)).Inc()
}

func (m *TaxMetrics) IncSkippedBatch(kind string) {
	if m == nil {
		return
	}
	m.skippedBatches.WithLabelValues(kind).Inc()
}

func (m *TaxMetrics) AddTaxItems(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.taxItems.WithLabelValues(kind).Add(float64(n))
}

// ClassifyEngineOutcome maps engine errors to low-cardinality outcomes.
func ClassifyEngineOutcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, vertexdomain.ErrNotConfigured) {
		return OutcomeNotConfigured
	}
	if errors.Is(err, vertexdomain.ErrUnauthorized) {
		return OutcomeUnauthorized
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeTimeout
	}
	var apiErr *vertexdomain.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 {
			return OutcomeServerError
		}
		return OutcomeClientError
	}
	return OutcomeTransport
}
