package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "leadforge:lock:"

var (
	ErrLockDisabled = errors.New("lock_disabled")
	ErrLockKey      = errors.New("lock_key_required")
	ErrLockTTL      = errors.New("lock_ttl_invalid")
	ErrLockLost     = errors.New("lock_lost")
)

// compare-and-delete so a holder whose ttl lapsed cannot drop a newer owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short single-owner leases used by the verification flow
// and the scheduler jobs. A nil *Locker is disabled.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// TryLock returns the owner token and whether the lease was acquired.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, ErrLockDisabled
	}
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", false, ErrLockKey
	case ttl <= 0:
		return "", false, ErrLockTTL
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

// Release drops the lease if token still owns it. ErrLockLost means the lease
// expired and possibly moved to another owner before release.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() || strings.TrimSpace(key) == "" || token == "" {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + strings.TrimSpace(key)}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockLost
	}
	return nil
}
