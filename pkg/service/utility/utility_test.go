package utility

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheService_Basics(t *testing.T) {
	svc := NewMemoryCacheService()
	defer svc.Stop()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	got, err := svc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, svc.Set(ctx, "prefs", []byte(`{"sort":"latest"}`), time.Minute))
	got, _ = svc.Get(ctx, "prefs")
	assert.Equal(t, `{"sort":"latest"}`, got)

	now = now.Add(2 * time.Minute)
	got, _ = svc.Get(ctx, "prefs")
	assert.Empty(t, got, "过期后应读不到")

	n, err := svc.Increment(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = svc.Increment(ctx, "counter")
	assert.Equal(t, int64(2), n)

	require.NoError(t, svc.Expire(ctx, "counter", time.Second))
	assert.Error(t, svc.Expire(ctx, "nope", time.Second))

	require.NoError(t, svc.Delete(ctx, "counter"))
	got, _ = svc.Get(ctx, "counter")
	assert.Empty(t, got)

	require.NoError(t, svc.Set(ctx, "text", "abc", 0))
	_, err = svc.Increment(ctx, "text")
	assert.Error(t, err)
}

func TestNewCacheServiceWithFallback(t *testing.T) {
	svc := NewCacheServiceWithFallback(nil, nil)
	assert.Equal(t, CacheTypeMemory, GetCacheServiceType(svc))
}

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locker.Lock("sha")
			defer locker.Unlock("sha")
			cur := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if cur <= old || atomic.CompareAndSwapInt32(&maxSeen, old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Zero(t, locker.Len(), "释放后不应残留条目")
}

func TestKeyedLocker_LockManyDedupsAndReleases(t *testing.T) {
	locker := NewKeyedLocker()
	unlock := locker.LockMany([]string{"b", "a", "b"})
	assert.Equal(t, 2, locker.Len())

	acquired := make(chan struct{})
	go func() {
		locker.Lock("a")
		close(acquired)
		locker.Unlock("a")
	}()

	select {
	case <-acquired:
		t.Fatal("持有期间不应获取到锁")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("释放后应能获取锁")
	}
}
