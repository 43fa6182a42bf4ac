package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/pdlcmesh/core"
)

// ErrLockAcquire is returned when Redis rejects a lock operation.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisLockerOptions configures a RedisLocker.
type RedisLockerOptions struct {
	Prefix string
	// Lease bounds how long a crashed holder can block a session.
	Lease time.Duration
	// RetryInterval is the polling interval while waiting for the lock.
	RetryInterval time.Duration
}

// RedisLocker is a distributed Locker using SET NX PX with a random token
// and a compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	opts   RedisLockerOptions
}

// NewRedisLocker creates a Redis-backed Locker.
func NewRedisLocker(client redis.UniversalClient, optFns ...func(o *RedisLockerOptions)) *RedisLocker {
	opts := RedisLockerOptions{
		Prefix:        "pdlcmesh:lock:",
		Lease:         5 * time.Minute,
		RetryInterval: 50 * time.Millisecond,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RedisLocker{client: client, opts: opts}
}

// Lock acquires the distributed lock for key.
func (l *RedisLocker) Lock(ctx context.Context, key string) (UnlockFunc, error) {
	lockKey := l.opts.Prefix + key
	token := core.NewID()

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.opts.Lease).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLockAcquire, err)
		}

		if ok {
			var once sync.Once

			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = unlockScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
