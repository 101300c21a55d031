package articlecomment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/apiclient"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/cache/rangecache"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

// upstream 是评论后台接口的内存实现
type upstream struct {
	mu         sync.Mutex
	rows       []model.ArticleCommentSummary
	threads    map[string][]string
	statuses   map[string]map[string]model.CommentStatus
	comments   map[string]model.CommentDetail
	deleted    map[string]model.CommentDetail
	failStatus int
	listCalls  int
	statsCalls int
	replies    []apiclient.ReplyRequest
}

func newUpstream() *upstream {
	u := &upstream{
		threads:  map[string][]string{"a1": {"c1", "c2"}, "a1/p1": {"c1"}},
		statuses: map[string]map[string]model.CommentStatus{"a1/p1": {"c1": model.CommentStatusRejected}},
		comments: map[string]model.CommentDetail{
			"c1": {ID: "c1", ArticleID: "a1", Content: "待审核", Status: model.CommentStatusPending},
			"c2": {ID: "c2", ArticleID: "a1", Content: "已通过", Status: model.CommentStatusApproved, ReplyCount: 1},
		},
		deleted: map[string]model.CommentDetail{},
	}
	for i := 0; i < 25; i++ {
		u.rows = append(u.rows, model.ArticleCommentSummary{
			ArticleID:        fmt.Sprintf("a%d", i),
			Title:            fmt.Sprintf("文章 %d", i),
			TotalComments:    3,
			ApprovedComments: 1,
			PendingComments:  1,
			RejectedComments: 1,
		})
	}
	return u
}

func (u *upstream) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	base := apiclient.DefaultBasePath

	r.GET(base, func(c *gin.Context) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.listCalls++
		page, _ := strconv.Atoi(c.Query("page"))
		size, _ := strconv.Atoi(c.Query("pageSize"))
		span := rangecache.PageRange(page, size)
		rows := []model.ArticleCommentSummary{}
		for i := span.Start; i <= span.End && i < len(u.rows); i++ {
			rows = append(rows, u.rows[i])
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"data": rows,
			"meta": gin.H{"pagination": gin.H{"page": page, "pageSize": size, "total": len(u.rows)}},
		}})
	})
	r.GET(base+"/stats", func(c *gin.Context) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.statsCalls++
		c.JSON(http.StatusOK, gin.H{"data": model.CommentStats{TotalComments: len(u.comments)}})
	})
	thread := func(key string) gin.HandlerFunc {
		return func(c *gin.Context) {
			u.mu.Lock()
			defer u.mu.Unlock()
			k := c.Param("entity")
			if key == "child" {
				k += "/" + c.Param("parent")
			}
			nodes := []model.CommentDetail{}
			for _, id := range u.threads[k] {
				if n, ok := u.comments[id]; ok {
					if s, ok := u.statuses[k][id]; ok {
						n.Status = s
					}
					nodes = append(nodes, n)
				}
			}
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"nodes": nodes, "meta": gin.H{"pagination": gin.H{"pageSize": 10}}}})
		}
	}
	r.GET(base+"/:entity", thread("root"))
	r.GET(base+"/:entity/:parent", thread("child"))

	r.PATCH(base+"/comment/:id/status", func(c *gin.Context) {
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.failStatus != 0 {
			c.JSON(u.failStatus, gin.H{"message": "数据库错误", "errorCode": "INTERNAL"})
			return
		}
		var body struct {
			Status model.CommentStatus `json:"status"`
			Reason string              `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		n := u.comments[c.Param("id")]
		n.Status = body.Status
		n.Reason = body.Reason
		u.comments[n.ID] = n
		c.JSON(http.StatusOK, gin.H{"data": n})
	})
	r.DELETE(base+"/comment/:id", func(c *gin.Context) {
		u.mu.Lock()
		defer u.mu.Unlock()
		id := c.Param("id")
		n, ok := u.comments[id]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "评论不存在"})
			return
		}
		delete(u.comments, id)
		u.deleted[id] = n
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "deleted": true}})
	})
	r.POST(base+"/comment/:id/restore", func(c *gin.Context) {
		u.mu.Lock()
		defer u.mu.Unlock()
		id := c.Param("id")
		n, ok := u.deleted[id]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "评论不存在"})
			return
		}
		delete(u.deleted, id)
		u.comments[id] = n
		c.JSON(http.StatusOK, gin.H{"data": n})
	})
	r.POST(base+"/reply", func(c *gin.Context) {
		u.mu.Lock()
		defer u.mu.Unlock()
		var req apiclient.ReplyRequest
		_ = c.ShouldBindJSON(&req)
		u.replies = append(u.replies, req)
		n := model.CommentDetail{
			ID:        fmt.Sprintf("r%d", len(u.replies)),
			ArticleID: req.ArticleID,
			ParentID:  req.ParentID,
			Content:   req.Content,
			Status:    model.CommentStatusApproved,
			CreatedAt: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		}
		u.comments[n.ID] = n
		c.JSON(http.StatusCreated, gin.H{"data": n})
	})
	return r
}

func (u *upstream) counts() (list, stats, replies int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.listCalls, u.statsCalls, len(u.replies)
}

func (u *upstream) lastReply() apiclient.ReplyRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.replies[len(u.replies)-1]
}

func newTestStore(t *testing.T, u *upstream, prefs utility.CacheService) *Store {
	t.Helper()
	srv := httptest.NewServer(u.router())
	t.Cleanup(srv.Close)
	client := apiclient.NewClient(apiclient.Options{BaseURL: srv.URL, Token: "t", BaseDelay: time.Millisecond})
	return NewStore(client, Options{Preferences: prefs})
}

func statusOf(s *Store, articleID, parentID, id string) model.CommentStatus {
	for _, n := range s.Thread(articleID, parentID).Nodes {
		if n.ID == id {
			return n.Status
		}
	}
	return ""
}

func rowOf(s *Store, articleID string) model.ArticleCommentSummary {
	for _, row := range s.Page().Items {
		if row.ArticleID == articleID {
			return row
		}
	}
	return model.ArticleCommentSummary{}
}

func TestUpdateStatus_ServerErrorRevertsToPending(t *testing.T) {
	u := newUpstream()
	u.failStatus = http.StatusInternalServerError
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.FetchThread(ctx, "a1", "", false))

	_, err := s.UpdateStatus(ctx, "c1", model.CommentStatusApproved, "")
	require.Error(t, err)

	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apiclient.ErrNameHTTP, apiErr.Name)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "INTERNAL", apiErr.ErrorCode)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, model.CommentStatusPending, statusOf(s, "a1", "", "c1"))
}

func TestUpdateStatus_RollbackRestoresEachEntry(t *testing.T) {
	u := newUpstream()
	u.failStatus = http.StatusServiceUnavailable
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.FetchThread(ctx, "a1", "", false))
	require.NoError(t, s.FetchThread(ctx, "a1", "p1", false))
	require.Equal(t, model.CommentStatusRejected, statusOf(s, "a1", "p1", "c1"))

	_, err := s.UpdateStatus(ctx, "c1", model.CommentStatusApproved, "")
	require.Error(t, err)

	assert.Equal(t, model.CommentStatusPending, statusOf(s, "a1", "", "c1"))
	assert.Equal(t, model.CommentStatusRejected, statusOf(s, "a1", "p1", "c1"))
}

func TestUpdateStatus_SuccessReconcilesAndInvalidates(t *testing.T) {
	u := newUpstream()
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	require.NoError(t, s.FetchThread(ctx, "a1", "", false))

	updated, err := s.UpdateStatus(ctx, "c1", model.CommentStatusApproved, "符合规范")
	require.NoError(t, err)
	assert.Equal(t, "符合规范", updated.Reason)

	node, ok := s.threads.Find("c1")
	require.True(t, ok)
	assert.Equal(t, "符合规范", node.Reason, "使用服务端版本")
	assert.Equal(t, model.CommentStatusApproved, node.Status)

	row := rowOf(s, "a1")
	assert.Equal(t, 0, row.PendingComments)
	assert.Equal(t, 2, row.ApprovedComments)

	page := s.Page()
	assert.True(t, page.Stale)
	assert.Len(t, page.Items, 10, "失效不丢弃已缓存的行")
	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	listCalls, _, _ := u.counts()
	assert.Equal(t, 2, listCalls)
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	s := newTestStore(t, newUpstream(), nil)
	_, err := s.UpdateStatus(context.Background(), "c1", "SPAM", "")
	assert.ErrorIs(t, err, constant.ErrBadRequest)
}

func TestDelete_DecrementsTotalOnly(t *testing.T) {
	u := newUpstream()
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	require.NoError(t, s.FetchThread(ctx, "a1", "", false))
	require.NoError(t, s.FetchThread(ctx, "a1", "p1", false))

	require.NoError(t, s.Delete(ctx, "c1", "spam"))
	assert.Equal(t, []string{"c2"}, nodeIDs(s, "a1", ""))
	assert.Empty(t, nodeIDs(s, "a1", "p1"))

	row := rowOf(s, "a1")
	assert.Equal(t, 2, row.TotalComments)
	assert.Equal(t, 1, row.PendingComments, "子计数不变")

	err := s.Delete(ctx, "c1", "")
	assert.True(t, apiclient.IsStatus(err, http.StatusNotFound))
}

func TestRestore_InsertsAtHeadAndIncrements(t *testing.T) {
	u := newUpstream()
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	require.NoError(t, s.FetchThread(ctx, "a1", "", false))
	require.NoError(t, s.Delete(ctx, "c2", ""))

	restored, err := s.Restore(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, model.CommentStatusApproved, restored.Status)
	assert.Equal(t, []string{"c2", "c1"}, nodeIDs(s, "a1", ""))

	row := rowOf(s, "a1")
	assert.Equal(t, 3, row.TotalComments)
	assert.Equal(t, 2, row.ApprovedComments)
}

func TestReply_SanitizesAndBumpsCounters(t *testing.T) {
	u := newUpstream()
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	require.NoError(t, s.FetchThread(ctx, "a1", "", false))
	require.NoError(t, s.FetchThread(ctx, "a1", "c2", false))

	_, err := s.Reply(ctx, "a1", "c2", "<script>alert(1)</script>")
	assert.ErrorIs(t, err, constant.ErrEmptyContent)
	_, _, replies := u.counts()
	assert.Zero(t, replies)

	created, err := s.Reply(ctx, "a1", "c2", `谢谢 <b>反馈</b><img src=x onerror="alert(1)">`)
	require.NoError(t, err)
	sent := u.lastReply()
	assert.NotContains(t, sent.Content, "onerror")
	assert.Contains(t, sent.Content, "<b>反馈</b>")
	assert.Equal(t, "c2", created.ParentKey())

	assert.Equal(t, []string{created.ID}, nodeIDs(s, "a1", "c2"))
	parent, ok := s.threads.Find("c2")
	require.True(t, ok)
	assert.Equal(t, 2, parent.ReplyCount)

	row := rowOf(s, "a1")
	assert.Equal(t, 4, row.TotalComments)
	assert.Equal(t, 2, row.ApprovedComments)
	require.NotNil(t, row.LatestCommentAt)
}

func TestStats_CachedAndDeduplicated(t *testing.T) {
	u := newUpstream()
	s := newTestStore(t, u, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Stats(ctx, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	stats, err := s.Stats(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalComments)
	_, calls, _ := u.counts()
	assert.LessOrEqual(t, calls, 4)

	statsCalls := func() int {
		_, n, _ := u.counts()
		return n
	}
	_, err = s.Stats(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, calls, statsCalls(), "TTL 内命中缓存")

	_, err = s.Stats(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, calls+1, statsCalls())

	require.NoError(t, s.Delete(ctx, "c1", ""))
	stats, err = s.Stats(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, calls+2, statsCalls(), "变更后统计失效")
	assert.Equal(t, 1, stats.TotalComments)
	assert.NoError(t, s.StatsErr())
}

func TestFetchPage_SecondPageFetchesOnlyGap(t *testing.T) {
	u := newUpstream()
	s := newTestStore(t, u, nil)
	ctx := context.Background()
	require.NoError(t, s.SetQuery(ctx, rangecache.Query{Filters: url.Values{"status": {"any"}}}))

	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	require.NoError(t, s.FetchPage(ctx, 2, 10, false))
	require.NoError(t, s.FetchPage(ctx, 1, 10, false))
	listCalls, _, _ := u.counts()
	assert.Equal(t, 2, listCalls)

	snap, ok := s.ListSnapshot()
	require.True(t, ok)
	assert.Equal(t, []rangecache.IndexRange{{Start: 0, End: 19}}, snap.Covered)
	assert.Equal(t, "a0", s.Page().Items[0].ArticleID)
}

func TestPreferences_PersistSortAndFiltersOnly(t *testing.T) {
	prefs := utility.NewMemoryCacheService()
	defer prefs.Stop()
	ctx := context.Background()

	first := newTestStore(t, newUpstream(), prefs)
	require.NoError(t, first.SetQuery(ctx, rangecache.Query{
		Page: 3, PageSize: 25, SortKey: "latestCommentAt", SortDir: "desc",
		Filters: url.Values{"status": {"PENDING"}},
	}))

	second := newTestStore(t, newUpstream(), prefs)
	require.NoError(t, second.LoadPreferences(ctx))
	q := second.Query()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultPageSize, q.PageSize)
	assert.Equal(t, "latestCommentAt", q.SortKey)
	assert.Equal(t, "desc", q.SortDir)
	assert.Equal(t, "PENDING", q.Filters.Get("status"))
}

func nodeIDs(s *Store, articleID, parentID string) []string {
	ids := []string{}
	for _, n := range s.Thread(articleID, parentID).Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// gatedStats 只实现 Stats，其余方法不会被调用
type gatedStats struct {
	Backend
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedStats) Stats(ctx context.Context) (*model.CommentStats, error) {
	g.entered <- struct{}{}
	select {
	case <-g.gate:
		return &model.CommentStats{TotalComments: 7}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStats_CallerCancelDoesNotAbortSharedRequest(t *testing.T) {
	backend := &gatedStats{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewStore(backend, Options{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Stats(ctxA, false)
		errA <- err
	}()
	<-backend.entered

	type result struct {
		stats *model.CommentStats
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		stats, err := s.Stats(context.Background(), false)
		resB <- result{stats, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(backend.gate)
	got := <-resB
	require.NoError(t, got.err)
	assert.Equal(t, 7, got.stats.TotalComments)
	assert.NoError(t, s.StatsErr())
}
