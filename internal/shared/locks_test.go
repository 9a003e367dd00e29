package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLock(t *testing.T) (*AdminLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAdminLock(client, time.Second), mr
}

func TestAdminLockAcquireAndRelease(t *testing.T) {
	lock, mr := newLock(t)
	ctx := context.Background()

	release, err := lock.AcquireUser(ctx, 7)
	require.NoError(t, err)
	assert.True(t, mr.Exists(UserLockKey(7)))

	_, err = lock.AcquireUser(ctx, 7)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(UserLockKey(7)))

	release, err = lock.AcquireUser(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestAdminLockIsPerUser(t *testing.T) {
	lock, _ := newLock(t)
	ctx := context.Background()

	releaseA, err := lock.AcquireUser(ctx, 7)
	require.NoError(t, err)
	defer releaseA(ctx)

	releaseB, err := lock.AcquireUser(ctx, 8)
	require.NoError(t, err)
	defer releaseB(ctx)
}

func TestAdminLockStaleReleaseIsNoop(t *testing.T) {
	lock, mr := newLock(t)
	ctx := context.Background()

	release, err := lock.AcquireUser(ctx, 7)
	require.NoError(t, err)

	// Lease expires; another writer takes the lock.
	mr.FastForward(2 * time.Second)
	_, err = lock.AcquireUser(ctx, 7)
	require.NoError(t, err)

	// The stale release must not free the new holder's lock.
	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists(UserLockKey(7)))
}

func TestAdminLockWithoutRedisIsNoop(t *testing.T) {
	var lock *AdminLock
	release, err := lock.AcquireUser(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}
