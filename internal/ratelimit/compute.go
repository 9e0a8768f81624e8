package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/vertextax/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyComputeTenant = "vertex:compute:tenant:%s"
	keyComputeLock   = "vertex:compute:lock:%s:%s"
)

type ComputeGuardParams struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
}

// ComputeGuard serializes computations per invoice and optionally caps the
// computation rate per tenant.
type ComputeGuard struct {
	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration
	log     *zap.Logger
}

func NewComputeGuard(p ComputeGuardParams) *ComputeGuard {
	log := p.Log.Named("ratelimit.compute")
	g := &ComputeGuard{
		bucket:  NewTokenBucket(p.Redis),
		locker:  NewLocker(p.Redis),
		rate:    p.Config.ComputeRateLimit,
		burst:   p.Config.ComputeRateBurst,
		lockTTL: time.Duration(p.Config.ComputeLockTTLSeconds) * time.Second,
		log:     log,
	}
	if g.lockTTL <= 0 {
		g.lockTTL = 2 * time.Minute
	}
	if g.rate > 0 && g.bucket == nil {
		log.Warn("compute rate limit set but REDIS_ADDR is empty, rate limiting disabled")
	}
	if p.Redis == nil {
		log.Info("compute locks are process local")
	}
	return g
}

// AllowTenant reports whether tenantID may start another computation. It
// always allows when no limit is configured.
func (g *ComputeGuard) AllowTenant(ctx context.Context, tenantID uuid.UUID) (Result, error) {
	if g == nil || g.bucket == nil || g.rate <= 0 || g.burst <= 0 {
		return Result{Allowed: true}, nil
	}
	return g.bucket.Allow(ctx, fmt.Sprintf(keyComputeTenant, tenantID), g.rate, g.burst)
}

// LockInvoice takes the per-invoice lock. The returned release func is a
// no-op when the lock was not acquired.
func (g *ComputeGuard) LockInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (func(), bool, error) {
	key := fmt.Sprintf(keyComputeLock, tenantID, invoiceID)
	token, ok, err := g.locker.TryLock(ctx, key, g.lockTTL)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		if err := g.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			g.log.Warn("release compute lock failed", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}
