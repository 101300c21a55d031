package rangecache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend 模拟一个有 total 行的有序列表
type fakeBackend struct {
	mu    sync.Mutex
	total int
	calls []Query
	fail  error
	gate  chan struct{}
	enter chan struct{}
}

func (b *fakeBackend) load(ctx context.Context, q Query) (*Page[string], error) {
	b.mu.Lock()
	b.calls = append(b.calls, q)
	fail, gate, enter, total := b.fail, b.gate, b.enter, b.total
	b.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, fail
	}
	span := PageRange(q.Page, q.PageSize)
	page := &Page[string]{Total: total}
	for i := span.Start; i <= span.End && i < total; i++ {
		page.Items = append(page.Items, fmt.Sprintf("row-%d", i))
	}
	return page, nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(b *fakeBackend) (*Cache[string], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return New(b.load, Options{Name: "test", Now: clock.Now}), clock
}

var anyStatus = url.Values{"status": {"any"}}

func TestFetchSecondPageRequestsOnlyGap(t *testing.T) {
	backend := &fakeBackend{total: 100}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	q1 := Query{Page: 1, PageSize: 10, Filters: anyStatus}
	require.NoError(t, cache.Fetch(ctx, q1, false))
	snap, ok := cache.Snapshot(q1.GroupKey())
	require.True(t, ok)
	assert.Equal(t, []IndexRange{{0, 9}}, snap.Covered)
	assert.Len(t, snap.Items, 10)
	assert.Equal(t, "row-9", snap.Items[9])

	q2 := Query{Page: 2, PageSize: 10, Filters: anyStatus}
	require.NoError(t, cache.Fetch(ctx, q2, false))
	require.Equal(t, 2, backend.callCount())
	assert.Equal(t, 2, backend.calls[1].Page)
	assert.Equal(t, 10, backend.calls[1].PageSize)

	require.NoError(t, cache.Fetch(ctx, q1, false))
	assert.Equal(t, 2, backend.callCount(), "第一页命中缓存")

	snap, _ = cache.Snapshot(q1.GroupKey())
	assert.Equal(t, []IndexRange{{0, 19}}, snap.Covered)
}

func TestFetch_CoveredRangeMakesNoCalls(t *testing.T) {
	backend := &fakeBackend{total: 100}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 30}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 2, PageSize: 10}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 3, PageSize: 5}, false))
	assert.Equal(t, 1, backend.callCount())
}

func TestFetch_PartialCoverageFetchesGap(t *testing.T) {
	backend := &fakeBackend{total: 100}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 10}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 20}, false))

	require.Equal(t, 2, backend.callCount())
	gap := PageRange(backend.calls[1].Page, backend.calls[1].PageSize)
	assert.Equal(t, IndexRange{Start: 10, End: 19}, gap)
}

func TestFetch_UnalignedGapUsesSmallestAlignedPage(t *testing.T) {
	backend := &fakeBackend{total: 100}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	// 已覆盖 [0,2]，请求 [0,7] 的缺口 [3,7]
	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 3}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 8}, false))

	require.Equal(t, 2, backend.callCount())
	assert.Equal(t, 1, backend.calls[1].Page)
	assert.Equal(t, 8, backend.calls[1].PageSize)

	view := cache.View(Query{Page: 1, PageSize: 8})
	assert.Len(t, view.Items, 8)
}

func TestFetch_StaleAndInvalidatedRefetchWholeRange(t *testing.T) {
	backend := &fakeBackend{total: 100}
	cache, clock := newTestCache(backend)
	ctx := context.Background()
	q := Query{Page: 1, PageSize: 10}

	require.NoError(t, cache.Fetch(ctx, q, false))
	clock.Advance(DefaultTTL + time.Second)
	assert.True(t, cache.View(q).Stale)
	require.NoError(t, cache.Fetch(ctx, q, false))
	assert.Equal(t, 2, backend.callCount())

	cache.Invalidate(q.GroupKey())
	view := cache.View(q)
	assert.True(t, view.Stale)
	assert.Len(t, view.Items, 10, "失效后保留已知行")

	require.NoError(t, cache.Fetch(ctx, q, false))
	assert.Equal(t, 3, backend.callCount())
	assert.False(t, cache.View(q).Stale)

	require.NoError(t, cache.Fetch(ctx, q, true))
	assert.Equal(t, 4, backend.callCount(), "强制刷新")
}

func TestFetch_TrimsBeyondTotal(t *testing.T) {
	backend := &fakeBackend{total: 25}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 20}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 2, PageSize: 20}, false))
	q := Query{Page: 2, PageSize: 20}
	snap, _ := cache.Snapshot(q.GroupKey())
	assert.Equal(t, []IndexRange{{0, 24}}, snap.Covered)

	// 总数已知且新鲜，越界请求被裁剪
	require.NoError(t, cache.Fetch(ctx, Query{Page: 3, PageSize: 20}, false))
	require.NoError(t, cache.Fetch(ctx, q, false))
	assert.Equal(t, 2, backend.callCount())

	// 服务端总数减少后，多余的行被移除
	backend.mu.Lock()
	backend.total = 12
	backend.mu.Unlock()
	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 10}, true))
	snap, _ = cache.Snapshot(q.GroupKey())
	assert.Equal(t, []IndexRange{{0, 11}}, snap.Covered)
	assert.Len(t, snap.Items, 12)
}

func TestFetch_ConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	backend := &fakeBackend{total: 50, gate: make(chan struct{}), enter: make(chan struct{}, 4)}
	cache, _ := newTestCache(backend)
	ctx := context.Background()
	q := Query{Page: 1, PageSize: 10}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- cache.Fetch(ctx, q, false)
	}()
	<-backend.enter
	assert.True(t, cache.View(q).Loading)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- cache.Fetch(ctx, q, false)
	}()
	time.Sleep(30 * time.Millisecond)
	close(backend.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, backend.callCount())
	view := cache.View(q)
	assert.Len(t, view.Items, 10)
	assert.False(t, view.Loading)
}

func TestFetch_ErrorSlot(t *testing.T) {
	boom := errors.New("backend down")
	backend := &fakeBackend{total: 10, fail: boom}
	normalized := errors.New("normalized")
	cache := New(backend.load, Options{Normalize: func(err error) error {
		return fmt.Errorf("%w: %v", normalized, err)
	}})
	q := Query{Page: 1, PageSize: 10}

	err := cache.Fetch(context.Background(), q, false)
	require.ErrorIs(t, err, normalized)
	assert.ErrorIs(t, cache.View(q).Err, normalized)
	assert.ErrorIs(t, cache.Err(q.GroupKey()), normalized)

	backend.mu.Lock()
	backend.fail = nil
	backend.mu.Unlock()
	require.NoError(t, cache.Fetch(context.Background(), q, false))
	assert.NoError(t, cache.View(q).Err)
}

func TestView_StopsAtFirstGap(t *testing.T) {
	backend := &fakeBackend{total: 100}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 5}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 3, PageSize: 5}, false))

	view := cache.View(Query{Page: 1, PageSize: 15})
	assert.Equal(t, []string{"row-0", "row-1", "row-2", "row-3", "row-4"}, view.Items)
	assert.Equal(t, 100, view.Meta.Total)
}

func TestGroupKey_IgnoresPagingAndOrder(t *testing.T) {
	a := Query{Page: 1, PageSize: 10, SortKey: "title", SortDir: "asc", Filters: url.Values{"tag": {"b", "a"}, "status": {"any"}}}
	b := Query{Page: 4, PageSize: 50, SortKey: "title", SortDir: "asc", Filters: url.Values{"status": {"any"}, "tag": {"a", "b"}}}
	c := Query{SortKey: "title", SortDir: "desc", Filters: a.Filters}
	assert.Equal(t, a.GroupKey(), b.GroupKey())
	assert.NotEqual(t, a.GroupKey(), c.GroupKey())
}

func TestMutatePatchesEveryGroup(t *testing.T) {
	backend := &fakeBackend{total: 20}
	cache, _ := newTestCache(backend)
	ctx := context.Background()
	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 10, SortDir: "asc"}, false))
	require.NoError(t, cache.Fetch(ctx, Query{Page: 1, PageSize: 10, SortDir: "desc"}, false))

	n := cache.Mutate(func(row string) (string, bool) {
		if row != "row-3" {
			return row, false
		}
		return "row-3*", true
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, "row-3*", cache.View(Query{Page: 1, PageSize: 10, SortDir: "desc"}).Items[3])
}

// 任意顺序的分页请求之后，覆盖区间保持最简且与已存行一一对应
func TestCoverageClosure(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	backend := &fakeBackend{total: 137}
	cache, _ := newTestCache(backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		q := Query{Page: rng.Intn(12) + 1, PageSize: rng.Intn(15) + 1}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cache.Fetch(ctx, q, false))
		}()
	}
	wg.Wait()

	snap, ok := cache.Snapshot(Query{}.GroupKey())
	require.True(t, ok)
	assert.Equal(t, Merge(snap.Covered), snap.Covered)
	for i := 1; i < len(snap.Covered); i++ {
		assert.Greater(t, snap.Covered[i].Start, snap.Covered[i-1].End+1)
	}

	inRange := 0
	for _, cr := range snap.Covered {
		for idx := cr.Start; idx <= cr.End; idx++ {
			assert.Equal(t, fmt.Sprintf("row-%d", idx), snap.Items[idx])
			inRange++
		}
	}
	assert.Equal(t, inRange, len(snap.Items))
}

func TestFetch_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	backend := &fakeBackend{total: 50, gate: make(chan struct{}), enter: make(chan struct{}, 4)}
	cache, _ := newTestCache(backend)
	q := Query{Page: 1, PageSize: 10}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() { errA <- cache.Fetch(ctxA, q, false) }()
	<-backend.enter

	errB := make(chan error, 1)
	go func() { errB <- cache.Fetch(context.Background(), q, false) }()
	require.Eventually(t, func() bool {
		cache.mu.RLock()
		defer cache.mu.RUnlock()
		return cache.groups[q.GroupKey()].inflight == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(backend.gate)
	require.NoError(t, <-errB)

	assert.Equal(t, 1, backend.callCount())
	assert.NoError(t, cache.Err(q.GroupKey()))
	view := cache.View(q)
	assert.Len(t, view.Items, 10)
	assert.False(t, view.Stale)
}

func TestFetch_CancelledCallerStillFillsCache(t *testing.T) {
	backend := &fakeBackend{total: 50, gate: make(chan struct{}), enter: make(chan struct{}, 1)}
	cache, _ := newTestCache(backend)
	q := Query{Page: 1, PageSize: 10}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- cache.Fetch(ctx, q, false) }()
	<-backend.enter
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	close(backend.gate)
	require.Eventually(t, func() bool {
		return len(cache.View(q).Items) == 10
	}, time.Second, time.Millisecond)
	assert.NoError(t, cache.Err(q.GroupKey()))
}

func TestFetch_FailingGapKeepsItsErrorInSlot(t *testing.T) {
	upstream := errors.New("HttpError 500")
	var mu sync.Mutex
	failFirst := false
	load := func(ctx context.Context, q Query) (*Page[string], error) {
		span := PageRange(q.Page, q.PageSize)
		mu.Lock()
		fail := failFirst && span.Start == 0
		mu.Unlock()
		if fail {
			return nil, upstream
		}
		// 另一个缺口慢一些，且服从 ctx
		if span.Start >= 20 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(30 * time.Millisecond):
			}
		}
		page := &Page[string]{Total: 100}
		for i := span.Start; i <= span.End; i++ {
			page.Items = append(page.Items, fmt.Sprintf("row-%d", i))
		}
		return page, nil
	}
	cache := New(load, Options{Name: "gaps"})
	ctx := context.Background()

	// 先覆盖 [10,19]，再请求 [0,29] 产生两个缺口
	require.NoError(t, cache.Fetch(ctx, Query{Page: 2, PageSize: 10}, false))
	mu.Lock()
	failFirst = true
	mu.Unlock()

	q := Query{Page: 1, PageSize: 30}
	err := cache.Fetch(ctx, q, false)
	require.ErrorIs(t, err, upstream)
	assert.ErrorIs(t, cache.Err(q.GroupKey()), upstream)

	snap, _ := cache.Snapshot(q.GroupKey())
	assert.Equal(t, []IndexRange{{10, 29}}, snap.Covered, "成功的缺口照常写入")
}

func TestView_ReturnsCopyOfFilters(t *testing.T) {
	backend := &fakeBackend{total: 20}
	cache, _ := newTestCache(backend)
	q := Query{Page: 1, PageSize: 10, Filters: url.Values{"status": {"PENDING"}}}
	require.NoError(t, cache.Fetch(context.Background(), q, false))

	view := cache.View(q)
	view.Meta.Filters.Set("status", "APPROVED")
	q.Filters.Set("status", "REJECTED")

	assert.Equal(t, "PENDING", cache.View(Query{Page: 1, PageSize: 10, Filters: url.Values{"status": {"PENDING"}}}).Meta.Filters.Get("status"))
}
