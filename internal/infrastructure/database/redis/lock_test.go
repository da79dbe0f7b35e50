package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_LockUnlock(t *testing.T) {
	mr, client := newMiniClient(t)
	factory := NewLockFactory(client, nil)
	ctx := context.Background()

	lock := factory.NewMutex("doc-1", WithLockTTL(time.Second))
	require.NoError(t, lock.Lock(ctx))
	assert.True(t, mr.Exists("epiextract:lock:doc-1"))

	ttl, err := lock.TTL(ctx)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, lock.Unlock(ctx))
	assert.False(t, mr.Exists("epiextract:lock:doc-1"))
	assert.Equal(t, ErrLockNotHeld, lock.Unlock(ctx))
}

func TestMutex_Contention(t *testing.T) {
	_, client := newMiniClient(t)
	factory := NewLockFactory(client, nil)
	ctx := context.Background()

	first := factory.NewMutex("doc-1", WithRetryCount(1), WithRetryDelay(5*time.Millisecond))
	second := factory.NewMutex("doc-1", WithRetryCount(2), WithRetryDelay(5*time.Millisecond))

	require.NoError(t, first.Lock(ctx))
	assert.Equal(t, ErrLockNotAcquired, second.Lock(ctx))

	ok, err := second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.Lock(ctx))
	assert.Equal(t, ErrLockNotHeld, first.Unlock(ctx))
}

func TestMutex_Extend(t *testing.T) {
	mr, client := newMiniClient(t)
	factory := NewLockFactory(client, nil)
	ctx := context.Background()

	lock := factory.NewMutex("doc-1", WithLockTTL(time.Second))
	require.NoError(t, lock.Lock(ctx))

	ok, err := lock.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("epiextract:lock:doc-1"))

	mr.FastForward(2 * time.Minute)
	ok, err = lock.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutex_WatchdogStopsOnUnlock(t *testing.T) {
	mr, client := newMiniClient(t)
	lock := NewLockFactory(client, nil).NewMutex("doc-1",
		WithLockTTL(time.Minute), WithWatchdog(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, lock.Lock(ctx))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, mr.Exists("epiextract:lock:doc-1"))
	require.NoError(t, lock.Unlock(ctx))
	assert.False(t, mr.Exists("epiextract:lock:doc-1"))
}

func TestMutex_CanceledWhileWaiting(t *testing.T) {
	_, client := newMiniClient(t)
	factory := NewLockFactory(client, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, factory.NewMutex("doc-1").Lock(context.Background()))
	cancel()
	err := factory.NewMutex("doc-1", WithRetryDelay(time.Second)).Lock(ctx)
	assert.Error(t, err)
}
