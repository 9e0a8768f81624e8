package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out expiring exclusive locks. With a Redis client the locks
// hold across replicas; without one they only hold within this process.
type Locker struct {
	client *redis.Client
	script *redis.Script
	local  *localLocks
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return &Locker{local: &localLocks{held: make(map[string]localLock)}}
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	if l.client == nil {
		return token, l.local.tryLock(key, token, ttl), nil
	}

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	if l.client == nil {
		l.local.release(key, token)
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type localLock struct {
	token     string
	expiresAt time.Time
}

type localLocks struct {
	mu   sync.Mutex
	held map[string]localLock
}

func (l *localLocks) tryLock(key, token string, ttl time.Duration) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiresAt) {
		return false
	}
	l.held[key] = localLock{token: token, expiresAt: now.Add(ttl)}
	return true
}

func (l *localLocks) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
}
