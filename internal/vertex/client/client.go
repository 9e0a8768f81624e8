package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/smallbiznis/vertextax/internal/config"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	"github.com/smallbiznis/vertextax/internal/observability/tracing"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"github.com/smallbiznis/vertextax/pkg/masking"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	suppliesPath     = "/vertex-ws/v2/supplies"
	transactionsPath = "/vertex-ws/v2/transactions/"
)

type Params struct {
	fx.In

	Config  *config.VertexConfigHolder
	Tokens  TokenCache
	Metrics *metrics.TaxMetrics `optional:"true"`
	Log     *zap.Logger
}

// HTTPClient talks to the O Series REST API. Configuration is read on every
// call so reloads of vertex.yml apply without a restart.
type HTTPClient struct {
	config *config.VertexConfigHolder
	tokens *tokenSource
	log    *zap.Logger

	mu         sync.Mutex
	http       *http.Client
	timeoutKey [2]time.Duration
}

func New(p Params) *HTTPClient {
	log := p.Log.Named("vertex.client")
	return &HTTPClient{
		config: p.Config,
		tokens: &tokenSource{cache: p.Tokens, metrics: p.Metrics, log: log},
		log:    log,
	}
}

func (c *HTTPClient) CalculateTax(ctx context.Context, req *vertexdomain.SaleRequest) (*vertexdomain.SaleResponse, error) {
	cfg, err := c.configured(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sale request: %w", err)
	}
	ctxlogger.WithContext(ctx, c.log).Debug("vertex calculate request",
		zap.String("document_number", req.DocumentNumber),
		zap.String("transaction_id", req.TransactionID),
		zap.String("message_type", string(req.SaleMessageType)),
		zap.Int("lines", len(req.LineItems)),
	)

	var resp vertexdomain.SaleResponse
	if err := c.do(ctx, cfg, metrics.OperationCalculate, http.MethodPost, suppliesPath, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) DeleteTransaction(ctx context.Context, transactionID string) error {
	cfg, err := c.configured(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, cfg, metrics.OperationDelete, http.MethodDelete, transactionsPath+url.PathEscape(transactionID), nil, nil)
}

func (c *HTTPClient) configured(ctx context.Context) (config.VertexConfig, error) {
	cfg := c.config.Get()
	if !cfg.Configured() {
		ctxlogger.WithContext(ctx, c.log).Warn("vertex client is not configured, set url, clientId and clientSecret")
		return cfg, vertexdomain.ErrNotConfigured
	}
	return cfg, nil
}

func (c *HTTPClient) do(ctx context.Context, cfg config.VertexConfig, operation, method, path string, payload []byte, out any) error {
	httpClient := c.httpClient(cfg)

	token, err := c.tokens.Token(ctx, httpClient, cfg)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vertex %s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read vertex %s response: %w", operation, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &vertexdomain.APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(raw)}
		ctxlogger.WithContext(ctx, c.log).Warn("vertex request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("body", masking.MaskPayload(string(raw))),
		)
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(ctx, cfg.ClientID)
			return fmt.Errorf("%w: %w", vertexdomain.ErrUnauthorized, apiErr)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode vertex %s response: %w", operation, err)
	}
	return nil
}

// httpClient reuses one client per timeout pair.
func (c *HTTPClient) httpClient(cfg config.VertexConfig) *http.Client {
	key := [2]time.Duration{cfg.ConnectTimeout, cfg.ReadTimeout}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil && c.timeoutKey == key {
		return c.http
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
	c.http = &http.Client{
		Transport: tracing.NewTransport(base),
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
	c.timeoutKey = key
	return c.http
}

var _ vertexdomain.Client = (*HTTPClient)(nil)
