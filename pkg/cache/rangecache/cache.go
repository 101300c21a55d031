/*
 * @Description: 按绝对下标存储的列表缓存，按 (排序, 筛选) 分组
 * @Author: 安知鱼
 * @Date: 2025-08-12 09:40:10
 * @LastEditTime: 2026-10-18 15:12:08
 * @LastEditors: 安知鱼
 */
package rangecache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 60 * time.Second
	// DefaultFetchTimeout 是一次拉取在缓存内部的最长运行时间，与调用方的 ctx 无关
	DefaultFetchTimeout = 30 * time.Second
)

// Query 描述一次分页请求。Page 从 1 开始。
type Query struct {
	Page     int
	PageSize int
	SortKey  string
	SortDir  string
	Filters  url.Values
}

// GroupKey 是 (排序, 筛选) 的规范化编码，与页码无关
func (q Query) GroupKey() string {
	v := url.Values{}
	for key, vals := range q.Filters {
		if len(vals) == 0 || key == "sortKey" || key == "sortDir" {
			continue
		}
		sorted := append([]string(nil), vals...)
		sort.Strings(sorted)
		v[key] = sorted
	}
	v.Set("sortKey", q.SortKey)
	v.Set("sortDir", q.SortDir)
	return v.Encode()
}

func (q Query) normalized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 10
	}
	return q
}

// Page 是加载器返回的一页数据，Total 小于 0 表示总数未知
type Page[T any] struct {
	Items []T
	Total int
}

// Loader 向后端请求一页数据
type Loader[T any] func(ctx context.Context, q Query) (*Page[T], error)

// Meta 是分组最近一次看到的分页、排序与筛选信息
type Meta struct {
	Page     int
	PageSize int
	Total    int
	SortKey  string
	SortDir  string
	Filters  url.Values
}

type group[T any] struct {
	items     map[int]T
	covered   []IndexRange
	meta      Meta
	fetchedAt time.Time
	err       error
	inflight  int
}

type Options struct {
	// Name 仅用于日志
	Name         string
	TTL          time.Duration
	FetchTimeout time.Duration
	// Normalize 在错误写入错误槽之前做统一转换
	Normalize func(error) error
	Now       func() time.Time
	Logger    *zap.Logger
}

// Cache 是线程安全的区间感知列表缓存
type Cache[T any] struct {
	mu     sync.RWMutex
	groups map[string]*group[T]
	flight singleflight.Group

	load         Loader[T]
	ttl          time.Duration
	fetchTimeout time.Duration
	normalize func(error) error
	now       func() time.Time
	logger    *zap.Logger
}

func New[T any](load Loader[T], opts Options) *Cache[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Normalize == nil {
		opts.Normalize = func(err error) error { return err }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache[T]{
		groups:    make(map[string]*group[T]),
		load:         load,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		normalize:    opts.Normalize,
		now:          opts.Now,
		logger:       opts.Logger.With(zap.String("cache", opts.Name)),
	}
}

func (c *Cache[T]) freshLocked(g *group[T]) bool {
	return g != nil && !g.fetchedAt.IsZero() && c.now().Sub(g.fetchedAt) < c.ttl
}

// Fetch 确保 q 对应的下标区间已在缓存中。
// 分组新鲜且区间已完全覆盖时不发请求；否则只请求未覆盖的子区间，
// force、过期或首次请求时整段重新拉取。
// 请求一旦发出就会跑完并写入缓存；ctx 取消只让本次调用提前返回。
func (c *Cache[T]) Fetch(ctx context.Context, q Query, force bool) error {
	q = q.normalized()
	q.Filters = cloneValues(q.Filters)
	key := q.GroupKey()
	want := PageRange(q.Page, q.PageSize)

	c.mu.Lock()
	g, ok := c.groups[key]
	if !ok {
		g = &group[T]{items: make(map[int]T), meta: Meta{Total: -1}}
		c.groups[key] = g
	}
	g.meta.Page, g.meta.PageSize = q.Page, q.PageSize
	g.meta.SortKey, g.meta.SortDir, g.meta.Filters = q.SortKey, q.SortDir, q.Filters

	fresh := c.freshLocked(g)
	if fresh && g.meta.Total >= 0 {
		if want.Start >= g.meta.Total {
			c.mu.Unlock()
			return nil
		}
		if want.End >= g.meta.Total {
			want.End = g.meta.Total - 1
		}
	}

	var gaps []IndexRange
	if force || !fresh {
		gaps = []IndexRange{want}
	} else {
		gaps = Subtract(want, g.covered)
	}
	c.mu.Unlock()

	if len(gaps) == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.fetchGaps(context.WithoutCancel(ctx), key, q, gaps)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchGaps 并发拉取所有缺口，单个缺口失败不会取消其他缺口。
// 全部成功才清空错误槽。
func (c *Cache[T]) fetchGaps(ctx context.Context, key string, q Query, gaps []IndexRange) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var eg errgroup.Group
	for _, gap := range gaps {
		gap := gap
		eg.Go(func() error {
			return c.fetchGap(ctx, key, q, gap)
		})
	}
	err := eg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[key]; ok {
		switch {
		case err == nil:
			g.err = nil
		case !errors.Is(err, context.Canceled):
			g.err = err
		}
	}
	return err
}

func (c *Cache[T]) fetchGap(ctx context.Context, key string, q Query, gap IndexRange) error {
	page, size := AlignedPage(gap)
	span := PageRange(page, size)
	flightKey := fmt.Sprintf("tableGroup:%s:%d-%d", key, span.Start, span.End)

	c.adjustInflight(key, 1)
	defer c.adjustInflight(key, -1)

	_, err, _ := c.flight.Do(flightKey, func() (interface{}, error) {
		sub := q
		sub.Page, sub.PageSize = page, size
		result, err := c.load(ctx, sub)
		if err == nil && result == nil {
			err = errors.New("加载器返回了空结果")
		}
		if err != nil {
			err = c.normalize(err)
			c.logger.Warn("列表区间拉取失败",
				zap.String("range", span.String()),
				zap.String("group", key),
				zap.Error(err))
			return nil, err
		}
		c.merge(key, span.Start, result)
		return nil, nil
	})
	return err
}

func (c *Cache[T]) adjustInflight(key string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[key]; ok {
		g.inflight += delta
	}
}

// merge 把从 start 开始的一段结果写入分组，并维护覆盖区间
func (c *Cache[T]) merge(key string, start int, result *Page[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[key]
	if !ok {
		g = &group[T]{items: make(map[int]T), meta: Meta{Total: -1}}
		c.groups[key] = g
	}
	for i, item := range result.Items {
		g.items[start+i] = item
	}
	if n := len(result.Items); n > 0 {
		g.covered = Merge(append(g.covered, IndexRange{Start: start, End: start + n - 1}))
	}
	if result.Total >= 0 {
		g.meta.Total = result.Total
		for idx := range g.items {
			if idx >= result.Total {
				delete(g.items, idx)
			}
		}
		g.covered = clip(g.covered, result.Total)
	}
	g.fetchedAt = c.now()
}

// View 是某一页的只读视图
type View[T any] struct {
	// Items 从页首开始，遇到第一个缺口即停止
	Items     []T
	Range     IndexRange
	Meta      Meta
	Err       error
	Loading   bool
	Stale     bool
	FetchedAt time.Time
}

// View 组装 q 所在页的数据，不发起请求
func (c *Cache[T]) View(q Query) View[T] {
	q = q.normalized()
	want := PageRange(q.Page, q.PageSize)

	c.mu.RLock()
	defer c.mu.RUnlock()

	view := View[T]{Range: want, Meta: Meta{Total: -1}, Stale: true}
	g, ok := c.groups[q.GroupKey()]
	if !ok {
		return view
	}
	view.Meta = g.meta
	view.Meta.Filters = cloneValues(g.meta.Filters)
	view.Err = g.err
	view.Loading = g.inflight > 0
	view.Stale = !c.freshLocked(g)
	view.FetchedAt = g.fetchedAt
	for i := want.Start; i <= want.End; i++ {
		item, ok := g.items[i]
		if !ok {
			break
		}
		view.Items = append(view.Items, item)
	}
	return view
}

// Err 返回分组的错误槽
func (c *Cache[T]) Err(groupKey string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if g, ok := c.groups[groupKey]; ok {
		return g.err
	}
	return nil
}

// Invalidate 只重置 fetchedAt，已知的行保留用于立即渲染
func (c *Cache[T]) Invalidate(groupKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[groupKey]; ok {
		g.fetchedAt = time.Time{}
	}
}

func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.groups {
		g.fetchedAt = time.Time{}
	}
}

// Mutate 对所有分组中的每一行调用 fn，fn 返回 true 时写回，返回被修改的行数
func (c *Cache[T]) Mutate(fn func(T) (T, bool)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := 0
	for _, g := range c.groups {
		for idx, item := range g.items {
			if next, ok := fn(item); ok {
				g.items[idx] = next
				changed++
			}
		}
	}
	return changed
}

// Snapshot 是分组内部状态的拷贝
type Snapshot[T any] struct {
	Covered   []IndexRange
	Items     map[int]T
	Meta      Meta
	FetchedAt time.Time
}

func (c *Cache[T]) Snapshot(groupKey string) (Snapshot[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[groupKey]
	if !ok {
		return Snapshot[T]{}, false
	}
	items := make(map[int]T, len(g.items))
	for idx, item := range g.items {
		items[idx] = item
	}
	snap := Snapshot[T]{
		Covered:   append([]IndexRange(nil), g.covered...),
		Items:     items,
		Meta:      g.meta,
		FetchedAt: g.fetchedAt,
	}
	snap.Meta.Filters = cloneValues(g.meta.Filters)
	return snap, true
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for key, vals := range v {
		out[key] = append([]string(nil), vals...)
	}
	return out
}
