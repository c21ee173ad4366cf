package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lease not held")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived mutual-exclusion leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

type Lease struct {
	Key   string
	token string
	rdb   goredis.UniversalClient
}

type redisLocker struct {
	rdb goredis.UniversalClient
}

func NewRedisLocker(rdb goredis.UniversalClient) Locker {
	return &redisLocker{rdb: rdb}
}

// Acquire returns nil, nil when another holder owns key.
func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{Key: key, token: token, rdb: l.rdb}, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.Key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
