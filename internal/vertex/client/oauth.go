package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/vertextax/internal/config"
	"github.com/smallbiznis/vertextax/internal/observability/metrics"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/log/ctxlogger"
	"github.com/smallbiznis/vertextax/pkg/masking"
	"go.uber.org/zap"
)

const (
	tokenPath = "/oseries-auth/oauth/token"

	// tokenExpiryLeeway drops cached tokens before the engine rejects them.
	tokenExpiryLeeway = 30 * time.Second
)

var errInvalidToken = errors.New("vertex_token_invalid")

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// tokenSource issues client-credentials tokens, one fetch at a time.
type tokenSource struct {
	mu      sync.Mutex
	cache   TokenCache
	metrics *metrics.TaxMetrics
	log     *zap.Logger
}

func (s *tokenSource) Token(ctx context.Context, httpClient *http.Client, cfg config.VertexConfig) (string, error) {
	key := tokenCacheKey(cfg.ClientID)
	if token, ok := s.cached(ctx, key); ok {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.cached(ctx, key); ok {
		return token, nil
	}

	start := time.Now()
	token, err := s.fetch(ctx, httpClient, cfg)
	s.metrics.ObserveEngineCall(metrics.OperationToken, time.Since(start), err)
	if err != nil {
		return "", err
	}

	if ttl := time.Duration(token.ExpiresIn)*time.Second - tokenExpiryLeeway; ttl > 0 {
		if err := s.cache.Set(ctx, key, token.AccessToken, ttl); err != nil {
			ctxlogger.WithContext(ctx, s.log).Warn("unable to cache vertex token", zap.Error(err))
		}
	}
	return token.AccessToken, nil
}

func (s *tokenSource) Invalidate(ctx context.Context, clientID string) {
	if err := s.cache.Delete(ctx, tokenCacheKey(clientID)); err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("unable to drop vertex token", zap.Error(err))
	}
}

func (s *tokenSource) cached(ctx context.Context, key string) (string, bool) {
	token, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("vertex token cache unavailable", zap.Error(err))
		return "", false
	}
	return token, ok && token != ""
}

func (s *tokenSource) fetch(ctx context.Context, httpClient *http.Client, cfg config.VertexConfig) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("vertex token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("read vertex token response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		// Body is logged masked, never carried.
		apiErr := &vertexdomain.APIError{Operation: metrics.OperationToken, StatusCode: resp.StatusCode}
		ctxlogger.WithContext(ctx, s.log).Warn("vertex token request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("client_id", masking.MaskSecret(cfg.ClientID)),
			zap.String("body", masking.MaskPayload(string(body))),
		)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return Token{}, fmt.Errorf("%w: %w", vertexdomain.ErrUnauthorized, apiErr)
		}
		return Token{}, apiErr
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return Token{}, fmt.Errorf("decode vertex token: %w", err)
	}
	if token.AccessToken == "" {
		return Token{}, errInvalidToken
	}
	return token, nil
}
