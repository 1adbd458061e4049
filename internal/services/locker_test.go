package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyedLocker(time.Second)
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "case-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size(), "entries are released once nobody holds or waits")
}

func TestKeyedLocker_TimeoutAndIndependentKeys(t *testing.T) {
	l := NewKeyedLocker(30 * time.Millisecond)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "a")
	assert.ErrorIs(t, err, ErrLockTimeout)

	other, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // second call is a no-op
	again, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Zero(t, l.size())
}

func TestLockerImplementations(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	defer client.Close()

	for name, l := range map[string]Locker{
		"keyed": NewKeyedLocker(time.Second),
		"redis": NewRedisLocker(client, time.Second, time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "case-1")
			require.NoError(t, err)
			unlock()
		})
	}
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "case-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisLockPrefix+"case-1"))
	assert.Equal(t, time.Minute, mr.TTL(redisLockPrefix+"case-1"))

	_, err = l.Lock(ctx, "case-1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists(redisLockPrefix+"case-1"))

	unlock, err = l.Lock(ctx, "case-1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_UnlockKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Minute, 50*time.Millisecond)
	unlock, err := l.Lock(context.Background(), "case-2")
	require.NoError(t, err)

	// the lease expired and someone else took it
	require.NoError(t, mr.Set(redisLockPrefix+"case-2", "other-owner"))
	unlock()

	mr.CheckGet(t, redisLockPrefix+"case-2", "other-owner")
}
