package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is already held elsewhere.
var ErrNotAcquired = errors.New("lock: not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker provides best-effort mutual exclusion over Redis. Status polls for
// a payment run under a per-payment lock so a recovery request cannot race a
// widget-close poll for the same payment.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

// TryLock attempts to acquire the named lock without blocking. It returns a
// release function on success and ErrNotAcquired when the lock is held.
func (l *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, nil
}

// WithLock runs fn while holding the named lock, releasing it afterwards.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	release, err := l.TryLock(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = release(releaseCtx)
	}()
	return fn(ctx)
}
