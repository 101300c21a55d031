/*
 * @Description: 评论线程缓存，按 (实体, 父评论) 分组，游标分页
 * @Author: 安知鱼
 * @Date: 2025-08-12 14:03:51
 * @LastEditTime: 2026-10-18 15:40:27
 * @LastEditors: 安知鱼
 */
package threadcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

// Key 标识一棵评论子树，ParentID 为空表示根
type Key struct {
	EntityID string
	ParentID string
}

func RootKey(entityID string) Key {
	return Key{EntityID: entityID}
}

// KeyFor 返回评论节点所属的线程键
func KeyFor(node *model.CommentDetail) Key {
	return Key{EntityID: node.ArticleID, ParentID: node.ParentKey()}
}

func (k Key) String() string {
	parent := k.ParentID
	if parent == "" {
		parent = "root"
	}
	return "thread:" + k.EntityID + ":" + parent
}

// Pagination 是游标分页信息
type Pagination struct {
	Cursor      string
	NextCursor  string
	PageSize    int
	HasNextPage bool
}

// Segment 是一次加载返回的节点段
type Segment struct {
	Nodes      []model.CommentDetail
	Pagination Pagination
}

// Loader 加载一段线程，cursor 为空表示第一段
type Loader func(ctx context.Context, key Key, cursor string) (*Segment, error)

type entry struct {
	nodes     []model.CommentDetail
	meta      Pagination
	fetchedAt time.Time
	err       error
	inflight  int
}

func (e *entry) indexOf(id string) int {
	for i := range e.nodes {
		if e.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

type Options struct {
	TTL time.Duration
	// FetchTimeout 限制一次共享加载的运行时间，与调用方的 ctx 无关
	FetchTimeout time.Duration
	Normalize func(error) error
	Now       func() time.Time
	Logger    *zap.Logger
}

// Cache 缓存评论线程，并维护 评论ID → 线程键 的二级索引
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	index   map[string]map[Key]struct{}
	flight  singleflight.Group

	load         Loader
	ttl          time.Duration
	fetchTimeout time.Duration
	normalize func(error) error
	now       func() time.Time
	logger    *zap.Logger
}

func New(load Loader, opts Options) *Cache {
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
	return &Cache{
		entries:   make(map[Key]*entry),
		index:     make(map[string]map[Key]struct{}),
		load:         load,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		normalize:    opts.Normalize,
		now:          opts.Now,
		logger:       opts.Logger.With(zap.String("cache", "thread")),
	}
}

func (c *Cache) freshLocked(e *entry) bool {
	return e != nil && !e.fetchedAt.IsZero() && c.now().Sub(e.fetchedAt) < c.ttl
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) indexAddLocked(key Key, id string) {
	keys, ok := c.index[id]
	if !ok {
		keys = make(map[Key]struct{})
		c.index[id] = keys
	}
	keys[key] = struct{}{}
}

func (c *Cache) indexRemoveLocked(key Key, id string) {
	keys, ok := c.index[id]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.index, id)
	}
}

// setNodesLocked 替换条目的节点列表并同步二级索引
func (c *Cache) setNodesLocked(key Key, e *entry, nodes []model.CommentDetail) {
	for i := range e.nodes {
		c.indexRemoveLocked(key, e.nodes[i].ID)
	}
	e.nodes = nodes
	for i := range e.nodes {
		c.indexAddLocked(key, e.nodes[i].ID)
	}
}

// appendUnique 保持已有节点在前、新节点按原顺序在后，按 ID 去重
func appendUnique(existing, incoming []model.CommentDetail) []model.CommentDetail {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]model.CommentDetail, 0, len(existing)+len(incoming))
	for _, list := range [][]model.CommentDetail{existing, incoming} {
		for _, node := range list {
			if _, dup := seen[node.ID]; dup {
				continue
			}
			seen[node.ID] = struct{}{}
			out = append(out, node)
		}
	}
	return out
}

// Fetch 加载线程第一段，新鲜且未强制时直接返回
func (c *Cache) Fetch(ctx context.Context, key Key, force bool) error {
	c.mu.Lock()
	e := c.entryLocked(key)
	if !force && c.freshLocked(e) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.share(ctx, key, key.String(), func(ctx context.Context) error {
		seg, err := c.loadSegment(ctx, key, "")
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		e := c.entryLocked(key)
		c.setNodesLocked(key, e, appendUnique(nil, seg.Nodes))
		e.meta = seg.Pagination
		e.fetchedAt = c.now()
		e.err = nil
		return nil
	})
}

// LoadMore 使用保存的 NextCursor 加载下一段，并按 ID 去重追加
func (c *Cache) LoadMore(ctx context.Context, key Key) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || !e.meta.HasNextPage || e.meta.NextCursor == "" {
		c.mu.Unlock()
		return nil
	}
	cursor := e.meta.NextCursor
	c.mu.Unlock()

	return c.share(ctx, key, key.String()+":cursor:"+cursor, func(ctx context.Context) error {
		seg, err := c.loadSegment(ctx, key, cursor)
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		e := c.entryLocked(key)
		c.setNodesLocked(key, e, appendUnique(e.nodes, seg.Nodes))
		e.meta = seg.Pagination
		if e.meta.Cursor == "" {
			e.meta.Cursor = cursor
		}
		e.err = nil
		return nil
	})
}

// share 以 flightKey 去重执行 fn。fn 在脱离调用方取消的 ctx 中跑完并写入缓存，
// 调用方的 ctx 结束时只有它自己提前返回。
func (c *Cache) share(ctx context.Context, key Key, flightKey string, fn func(ctx context.Context) error) error {
	ch := c.flight.DoChan(flightKey, func() (interface{}, error) {
		c.adjustInflight(key, 1)
		defer c.adjustInflight(key, -1)
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return nil, fn(runCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) loadSegment(ctx context.Context, key Key, cursor string) (*Segment, error) {
	seg, err := c.load(ctx, key, cursor)
	if err == nil && seg == nil {
		err = errors.New("加载器返回了空结果")
	}
	if err != nil {
		err = c.normalize(err)
		if !errors.Is(err, context.Canceled) {
			c.mu.Lock()
			c.entryLocked(key).err = err
			c.mu.Unlock()
		}
		c.logger.Warn("线程加载失败", zap.String("key", key.String()), zap.String("cursor", cursor), zap.Error(err))
		return nil, err
	}
	return seg, nil
}

func (c *Cache) adjustInflight(key Key, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.inflight += delta
	if e.inflight < 0 {
		e.inflight = 0
	}
}

// View 是线程的只读视图
type View struct {
	Nodes      []model.CommentDetail
	Pagination Pagination
	Err        error
	Loading    bool
	Stale      bool
	FetchedAt  time.Time
}

func (c *Cache) View(key Key) View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return View{Stale: true}
	}
	return View{
		Nodes:      append([]model.CommentDetail(nil), e.nodes...),
		Pagination: e.meta,
		Err:        e.err,
		Loading:    e.inflight > 0,
		Stale:      !c.freshLocked(e),
		FetchedAt:  e.fetchedAt,
	}
}

// KeysFor 返回包含该评论的所有线程键，按字符串排序
func (c *Cache) KeysFor(id string) []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keysForLocked(id)
}

func (c *Cache) keysForLocked(id string) []Key {
	keys := make([]Key, 0, len(c.index[id]))
	for key := range c.index[id] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Find 返回缓存中该评论的任一副本
func (c *Cache) Find(id string) (model.CommentDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, key := range c.keysForLocked(id) {
		e := c.entries[key]
		if i := e.indexOf(id); i >= 0 {
			return e.nodes[i], true
		}
	}
	return model.CommentDetail{}, false
}

// StatusSnapshot 记录某个条目中节点被修改前的状态
type StatusSnapshot struct {
	Key   Key
	ID    string
	Prior model.CommentStatus
}

// ApplyStatus 在所有包含该评论的条目中修改状态，返回每个条目各自的原状态
func (c *Cache) ApplyStatus(id string, status model.CommentStatus) []StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snaps []StatusSnapshot
	for _, key := range c.keysForLocked(id) {
		e := c.entries[key]
		i := e.indexOf(id)
		if i < 0 {
			continue
		}
		snaps = append(snaps, StatusSnapshot{Key: key, ID: id, Prior: e.nodes[i].Status})
		e.nodes[i].Status = status
	}
	return snaps
}

// RestoreStatus 按快照逐条恢复状态
func (c *Cache) RestoreStatus(snaps []StatusSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, snap := range snaps {
		e, ok := c.entries[snap.Key]
		if !ok {
			continue
		}
		if i := e.indexOf(snap.ID); i >= 0 {
			e.nodes[i].Status = snap.Prior
		}
	}
}

// Replace 用服务端返回的版本替换所有副本，返回替换的条目数
func (c *Cache) Replace(node model.CommentDetail) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.keysForLocked(node.ID) {
		e := c.entries[key]
		if i := e.indexOf(node.ID); i >= 0 {
			e.nodes[i] = node
			n++
		}
	}
	return n
}

// Remove 从所有条目中移除该评论，返回受影响的条目数
func (c *Cache) Remove(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.keysForLocked(id) {
		e := c.entries[key]
		i := e.indexOf(id)
		if i < 0 {
			continue
		}
		e.nodes = append(e.nodes[:i:i], e.nodes[i+1:]...)
		c.indexRemoveLocked(key, id)
		n++
	}
	return n
}

// InsertHead 在已缓存的线程头部插入节点，线程未缓存或节点已存在时返回 false
func (c *Cache) InsertHead(key Key, node model.CommentDetail) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.indexOf(node.ID) >= 0 {
		return false
	}
	nodes := make([]model.CommentDetail, 0, len(e.nodes)+1)
	nodes = append(nodes, node)
	e.nodes = append(nodes, e.nodes...)
	c.indexAddLocked(key, node.ID)
	return true
}

// AdjustReplyCount 调整该评论所有副本的回复数，结果不小于 0
func (c *Cache) AdjustReplyCount(id string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.keysForLocked(id) {
		e := c.entries[key]
		if i := e.indexOf(id); i >= 0 {
			e.nodes[i].ReplyCount += delta
			if e.nodes[i].ReplyCount < 0 {
				e.nodes[i].ReplyCount = 0
			}
		}
	}
}

// Invalidate 只重置 fetchedAt
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.fetchedAt = time.Time{}
	}
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.fetchedAt = time.Time{}
	}
}
