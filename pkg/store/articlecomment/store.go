/*
 * @Description: 文章评论看板的客户端状态：列表、线程、统计与偏好
 * @Author: 安知鱼
 * @Date: 2025-08-13 10:21:44
 * @LastEditTime: 2026-10-18 16:02:33
 * @LastEditors: 安知鱼
 */
package articlecomment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/apiclient"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/cache/rangecache"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/cache/threadcache"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

const (
	DefaultPageSize       = 10
	DefaultPreferencesKey = "prefs:article-comments"

	statsFetchTimeout = 30 * time.Second
)

// Backend 是评论后台接口，*apiclient.Client 实现了它
type Backend interface {
	ListArticleComments(ctx context.Context, q apiclient.ListQuery) (*apiclient.ListResponse, error)
	FetchThread(ctx context.Context, q apiclient.ThreadQuery) (*apiclient.ThreadSegment, error)
	UpdateCommentStatus(ctx context.Context, id string, status model.CommentStatus, reason string) (*model.CommentDetail, error)
	DeleteComment(ctx context.Context, id, reason string) (*apiclient.DeleteAck, error)
	RestoreComment(ctx context.Context, id string) (*model.CommentDetail, error)
	Reply(ctx context.Context, req apiclient.ReplyRequest) (*model.CommentDetail, error)
	Stats(ctx context.Context) (*model.CommentStats, error)
}

type Options struct {
	TTL            time.Duration
	ThreadPageSize int
	// Preferences 用于持久化排序与筛选，为空时只保存在内存中
	Preferences    utility.CacheService
	PreferencesKey string
	Now            func() time.Time
	Logger         *zap.Logger
}

// Preferences 是跨会话保存的查询偏好，只包含排序和筛选
type Preferences struct {
	SortKey string              `json:"sortKey,omitempty"`
	SortDir string              `json:"sortDir,omitempty"`
	Filters map[string][]string `json:"filters,omitempty"`
}

// Store 组合列表缓存、线程缓存、统计缓存与偏好存储，由应用启动时创建一次
type Store struct {
	api     Backend
	list    *rangecache.Cache[model.ArticleCommentSummary]
	threads *threadcache.Cache

	prefs     utility.CacheService
	prefsKey  string
	sanitizer *bluemonday.Policy

	qmu   sync.RWMutex
	query rangecache.Query

	statsMu     sync.Mutex
	stats       *model.CommentStats
	statsAt     time.Time
	statsErr    error
	statsFlight singleflight.Group

	threadPageSize int
	ttl            time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func NewStore(api Backend, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = rangecache.DefaultTTL
	}
	if opts.ThreadPageSize <= 0 {
		opts.ThreadPageSize = DefaultPageSize
	}
	if opts.PreferencesKey == "" {
		opts.PreferencesKey = DefaultPreferencesKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("store", "article_comment"))

	s := &Store{
		api:            api,
		prefs:          opts.Preferences,
		prefsKey:       opts.PreferencesKey,
		sanitizer:      bluemonday.UGCPolicy(),
		query:          rangecache.Query{Page: 1, PageSize: DefaultPageSize},
		threadPageSize: opts.ThreadPageSize,
		ttl:            opts.TTL,
		now:            opts.Now,
		logger:         logger,
	}
	s.list = rangecache.New(s.loadPage, rangecache.Options{
		Name:      "article_comments",
		TTL:       opts.TTL,
		Normalize: apiclient.NormalizeError,
		Now:       opts.Now,
		Logger:    logger,
	})
	s.threads = threadcache.New(s.loadThread, threadcache.Options{
		TTL:       opts.TTL,
		Normalize: apiclient.NormalizeError,
		Now:       opts.Now,
		Logger:    logger,
	})
	return s
}

func (s *Store) loadPage(ctx context.Context, q rangecache.Query) (*rangecache.Page[model.ArticleCommentSummary], error) {
	resp, err := s.api.ListArticleComments(ctx, apiclient.ListQuery{
		Page:     q.Page,
		PageSize: q.PageSize,
		SortKey:  q.SortKey,
		SortDir:  q.SortDir,
		Filters:  q.Filters,
	})
	if err != nil {
		return nil, err
	}
	total := resp.Meta.Pagination.Total
	// 总数小于已返回的行数时视为未知，避免误删已缓存的行
	if total < (q.Page-1)*q.PageSize+len(resp.Data) {
		total = -1
	}
	return &rangecache.Page[model.ArticleCommentSummary]{Items: resp.Data, Total: total}, nil
}

func (s *Store) loadThread(ctx context.Context, key threadcache.Key, cursor string) (*threadcache.Segment, error) {
	seg, err := s.api.FetchThread(ctx, apiclient.ThreadQuery{
		EntityID: key.EntityID,
		ParentID: key.ParentID,
		Cursor:   cursor,
		PageSize: s.threadPageSize,
	})
	if err != nil {
		return nil, err
	}
	p := seg.Meta.Pagination
	return &threadcache.Segment{
		Nodes: seg.Nodes,
		Pagination: threadcache.Pagination{
			Cursor:      p.Cursor,
			NextCursor:  p.NextCursor,
			PageSize:    p.PageSize,
			HasNextPage: p.HasNextPage,
		},
	}, nil
}

// ---- 查询与分页 ----

// Query 返回当前查询
func (s *Store) Query() rangecache.Query {
	s.qmu.RLock()
	defer s.qmu.RUnlock()
	return s.query
}

// SetQuery 更新当前查询，只把排序和筛选写入偏好存储
func (s *Store) SetQuery(ctx context.Context, q rangecache.Query) error {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	s.qmu.Lock()
	s.query = q
	s.qmu.Unlock()

	if s.prefs == nil {
		return nil
	}
	data, err := json.Marshal(Preferences{SortKey: q.SortKey, SortDir: q.SortDir, Filters: q.Filters})
	if err != nil {
		return err
	}
	if err := s.prefs.Set(ctx, s.prefsKey, string(data), 0); err != nil {
		return fmt.Errorf("保存查询偏好失败: %w", err)
	}
	return nil
}

// LoadPreferences 从偏好存储恢复排序和筛选，页码回到第一页
func (s *Store) LoadPreferences(ctx context.Context) error {
	if s.prefs == nil {
		return nil
	}
	raw, err := s.prefs.Get(ctx, s.prefsKey)
	if err != nil {
		return fmt.Errorf("读取查询偏好失败: %w", err)
	}
	if raw == "" {
		return nil
	}
	var prefs Preferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		s.logger.Warn("查询偏好格式错误，已忽略", zap.Error(err))
		return nil
	}

	s.qmu.Lock()
	defer s.qmu.Unlock()
	s.query.Page = 1
	s.query.SortKey = prefs.SortKey
	s.query.SortDir = prefs.SortDir
	s.query.Filters = url.Values(prefs.Filters)
	return nil
}

// FetchPage 切换到指定页并确保其数据已缓存
func (s *Store) FetchPage(ctx context.Context, page, pageSize int, force bool) error {
	s.qmu.Lock()
	if page > 0 {
		s.query.Page = page
	}
	if pageSize > 0 {
		s.query.PageSize = pageSize
	}
	q := s.query
	s.qmu.Unlock()
	return s.list.Fetch(ctx, q, force)
}

// Page 返回当前页的视图
func (s *Store) Page() rangecache.View[model.ArticleCommentSummary] {
	return s.list.View(s.Query())
}

// ListSnapshot 返回当前查询分组的内部状态
func (s *Store) ListSnapshot() (rangecache.Snapshot[model.ArticleCommentSummary], bool) {
	return s.list.Snapshot(s.Query().GroupKey())
}

// ---- 线程 ----

func (s *Store) FetchThread(ctx context.Context, articleID, parentID string, force bool) error {
	return s.threads.Fetch(ctx, threadcache.Key{EntityID: articleID, ParentID: parentID}, force)
}

func (s *Store) LoadMore(ctx context.Context, articleID, parentID string) error {
	return s.threads.LoadMore(ctx, threadcache.Key{EntityID: articleID, ParentID: parentID})
}

func (s *Store) Thread(articleID, parentID string) threadcache.View {
	return s.threads.View(threadcache.Key{EntityID: articleID, ParentID: parentID})
}

// ---- 统计 ----

// Stats 返回聚合计数，TTL 内直接使用缓存，并发调用共享同一次请求
func (s *Store) Stats(ctx context.Context, force bool) (*model.CommentStats, error) {
	s.statsMu.Lock()
	if !force && s.stats != nil && !s.statsAt.IsZero() && s.now().Sub(s.statsAt) < s.ttl {
		stats := *s.stats
		s.statsMu.Unlock()
		return &stats, nil
	}
	s.statsMu.Unlock()

	// 请求在脱离调用方取消的 ctx 中跑完，调用方取消时只有它自己提前返回
	ch := s.statsFlight.DoChan("stats", func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsFetchTimeout)
		defer cancel()
		stats, err := s.api.Stats(runCtx)
		s.statsMu.Lock()
		defer s.statsMu.Unlock()
		if err != nil {
			s.statsErr = apiclient.NormalizeError(err)
			return nil, s.statsErr
		}
		s.stats, s.statsAt, s.statsErr = stats, s.now(), nil
		return *stats, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		stats := res.Val.(model.CommentStats)
		return &stats, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StatsErr 返回统计的错误槽
func (s *Store) StatsErr() error {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.statsErr
}

// invalidateAggregates 标记列表分组与统计为过期，已缓存的行保留
func (s *Store) invalidateAggregates() {
	s.list.InvalidateAll()
	s.statsMu.Lock()
	s.statsAt = time.Time{}
	s.statsMu.Unlock()
}

// mutateRow 修改指定文章对应的所有行
func (s *Store) mutateRow(articleID string, fn func(row *model.ArticleCommentSummary)) {
	if articleID == "" {
		return
	}
	s.list.Mutate(func(row model.ArticleCommentSummary) (model.ArticleCommentSummary, bool) {
		if row.ArticleID != articleID {
			return row, false
		}
		fn(&row)
		return row, true
	})
}

// ---- 变更 ----

// UpdateStatus 乐观地修改评论状态。失败时每个线程条目恢复到各自的原状态，并返回 *apiclient.APIError。
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.CommentStatus, reason string) (*model.CommentDetail, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: 未知的评论状态 %q", constant.ErrBadRequest, status)
	}

	prior, known := s.threads.Find(id)
	snaps := s.threads.ApplyStatus(id, status)

	updated, err := s.api.UpdateCommentStatus(ctx, id, status, reason)
	if err != nil {
		s.threads.RestoreStatus(snaps)
		apiErr := apiclient.Normalize(err)
		s.logger.Warn("评论状态更新失败，已回滚",
			zap.String("comment_id", id),
			zap.Int("entries", len(snaps)),
			zap.Error(apiErr))
		return nil, apiErr
	}

	s.threads.Replace(*updated)
	if known && prior.Status != updated.Status {
		s.mutateRow(updated.ArticleID, func(row *model.ArticleCommentSummary) {
			row.AdjustStatusCount(prior.Status, -1)
			row.AdjustStatusCount(updated.Status, 1)
		})
	}
	s.invalidateAggregates()
	return updated, nil
}

// Delete 在服务端确认后从所有线程中移除评论，并把所属行的总数减一。
// 各状态子计数保持不变，由下一次重新拉取校正。
func (s *Store) Delete(ctx context.Context, id, reason string) error {
	node, known := s.threads.Find(id)

	if _, err := s.api.DeleteComment(ctx, id, reason); err != nil {
		return apiclient.Normalize(err)
	}

	s.threads.Remove(id)
	if known {
		s.mutateRow(node.ArticleID, func(row *model.ArticleCommentSummary) {
			if row.TotalComments > 0 {
				row.TotalComments--
			}
		})
	}
	s.invalidateAggregates()
	return nil
}

// Restore 恢复已删除的评论，插入到所属线程头部并更新计数
func (s *Store) Restore(ctx context.Context, id string) (*model.CommentDetail, error) {
	restored, err := s.api.RestoreComment(ctx, id)
	if err != nil {
		return nil, apiclient.Normalize(err)
	}

	s.threads.InsertHead(threadcache.KeyFor(restored), *restored)
	s.mutateRow(restored.ArticleID, func(row *model.ArticleCommentSummary) {
		row.TotalComments++
		row.AdjustStatusCount(restored.Status, 1)
	})
	s.invalidateAggregates()
	return restored, nil
}

// Reply 以后台身份回复评论，parentID 为空时创建顶级评论
func (s *Store) Reply(ctx context.Context, articleID, parentID, content string) (*model.CommentDetail, error) {
	content = strings.TrimSpace(s.sanitizer.Sanitize(content))
	if content == "" {
		return nil, constant.ErrEmptyContent
	}
	req := apiclient.ReplyRequest{ArticleID: articleID, Content: content}
	if parentID != "" {
		req.ParentID = &parentID
	}

	created, err := s.api.Reply(ctx, req)
	if err != nil {
		return nil, apiclient.Normalize(err)
	}

	s.threads.InsertHead(threadcache.KeyFor(created), *created)
	if parentID != "" {
		s.threads.AdjustReplyCount(parentID, 1)
	}
	s.mutateRow(created.ArticleID, func(row *model.ArticleCommentSummary) {
		row.TotalComments++
		row.AdjustStatusCount(created.Status, 1)
		if !created.CreatedAt.IsZero() {
			at := created.CreatedAt
			row.LatestCommentAt = &at
		}
	})
	s.invalidateAggregates()
	return created, nil
}
