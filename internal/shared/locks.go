package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another admin write holds the user lock.
var ErrLockHeld = errors.New("user lock held")

// UserLockKey builds the redis key serializing admin writes for a user.
func UserLockKey(userID int64) string {
	return fmt.Sprintf("authz:user:%d:lock", userID)
}

// AdminLock serializes conflicting assignment writes per user. Replace-mode
// writes for the same user must not interleave; see AcquireUser.
type AdminLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAdminLock constructs an AdminLock with the given lease TTL.
func NewAdminLock(client *redis.Client, ttl time.Duration) *AdminLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &AdminLock{client: client, ttl: ttl}
}

// AcquireUser takes the per-user lock, returning a release func. The release
// is token-checked so an expired lease cannot release a later holder's lock.
func (l *AdminLock) AcquireUser(ctx context.Context, userID int64) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		// Lock not configured: callers accept the documented write race.
		return func(context.Context) error { return nil }, nil
	}
	token := newLockToken()
	key := UserLockKey(userID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire user lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func(ctx context.Context) error {
		const script = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
		return l.client.Eval(ctx, script, []string{key}, token).Err()
	}
	return release, nil
}

func newLockToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
