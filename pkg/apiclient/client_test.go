package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:   srv.URL,
		Token:     "token-123",
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListArticleComments_QueryAndEnvelope(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultBasePath, r.URL.Path)
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"data": []model.ArticleCommentSummary{{ArticleID: "a1", TotalComments: 3}},
				"meta": map[string]interface{}{"pagination": map[string]int{"page": 2, "pageSize": 10, "total": 11}},
			},
		})
	})

	resp, err := client.ListArticleComments(context.Background(), ListQuery{
		Page: 2, PageSize: 10, SortKey: "latestCommentAt", SortDir: "desc",
		Filters: url.Values{"status": {"any"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "2", gotQuery.Get("page"))
	assert.Equal(t, "10", gotQuery.Get("pageSize"))
	assert.Equal(t, "any", gotQuery.Get("status"))
	assert.Equal(t, "desc", gotQuery.Get("sortDir"))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 11, resp.Meta.Pagination.Total)
}

func TestProtocolViolations(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"缺少 data", `{"items":[]}`},
		{"data 为 null", `{"data":null}`},
		{"缺少 meta", `{"data":{"data":[]}}`},
		{"缺少内层 data", `{"data":{"meta":{"pagination":{}}}}`},
		{"非 JSON", `<html>`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := client.ListArticleComments(context.Background(), ListQuery{Page: 1, PageSize: 10})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocolViolation))
			assert.Equal(t, ErrNameProtocol, Normalize(err).Name)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "协议错误不重试")
		})
	}
}

func TestFetchThread_MissingNodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"meta":{"pagination":{"pageSize":10}}}}`)
	})
	_, err := client.FetchThread(context.Background(), ThreadQuery{EntityID: "a1"})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestFetchThread_Paths(t *testing.T) {
	var paths []string
	var cursors []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		cursors = append(cursors, r.URL.Query().Get("cursor"))
		_, _ = io.WriteString(w, `{"data":{"nodes":[],"meta":{"pagination":{"pageSize":10}}}}`)
	})
	ctx := context.Background()
	_, err := client.FetchThread(ctx, ThreadQuery{EntityID: "a1", PageSize: 10})
	require.NoError(t, err)
	_, err = client.FetchThread(ctx, ThreadQuery{EntityID: "a1", ParentID: "c9"})
	require.NoError(t, err)
	_, err = client.FetchThread(ctx, ThreadQuery{EntityID: "a1", Cursor: "next-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		DefaultBasePath + "/a1",
		DefaultBasePath + "/a1/c9",
		DefaultBasePath + "/a1/segment",
	}, paths)
	assert.Equal(t, []string{"", "", "next-1"}, cursors)
}

func TestGetRetriesTransientStatuses(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": model.CommentStats{TotalComments: 7}})
	})

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalComments)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set(requestIDHeader, "req-42")
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]interface{}{"message": "slow down", "errorCode": "RATE_LIMITED"},
		})
	})

	_, err := client.Stats(context.Background())
	require.Error(t, err)
	apiErr := Normalize(err)
	assert.Equal(t, ErrNameHTTP, apiErr.Name)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "RATE_LIMITED", apiErr.ErrorCode)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, "req-42", apiErr.RequestID)
	assert.Equal(t, int32(defaultMaxAttempts), atomic.LoadInt32(&calls))
}

func TestMutationsNeverRetry(t *testing.T) {
	var calls int32
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, DefaultBasePath+"/comment/c1/status", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"message": "down", "details": map[string]string{"db": "x"}})
	})

	_, err := client.UpdateCommentStatus(context.Background(), "c1", model.CommentStatusApproved, "ok")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "APPROVED", body["status"])
	assert.Equal(t, "ok", body["reason"])
	assert.NotNil(t, Normalize(err).Details)
}

func TestCommentMutations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultBasePath+"/reply", func(w http.ResponseWriter, r *http.Request) {
		var req ReplyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusCreated, map[string]interface{}{"data": model.CommentDetail{
			ID: "c2", ArticleID: req.ArticleID, ParentID: req.ParentID, Content: req.Content, Status: model.CommentStatusApproved,
		}})
	})
	mux.HandleFunc(DefaultBasePath+"/comment/c2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"deleted": true}})
	})
	mux.HandleFunc(DefaultBasePath+"/comment/c2/restore", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{}})
	})
	client := newTestClient(t, mux.ServeHTTP)
	ctx := context.Background()

	parent := "c1"
	created, err := client.Reply(ctx, ReplyRequest{ArticleID: "a1", ParentID: &parent, Content: "谢谢"})
	require.NoError(t, err)
	assert.Equal(t, "c1", created.ParentKey())

	ack, err := client.DeleteComment(ctx, "c2", "spam")
	require.NoError(t, err)
	assert.True(t, ack.Deleted)
	assert.Equal(t, "c2", ack.ID)

	_, err = client.RestoreComment(ctx, "c2")
	assert.ErrorIs(t, err, ErrProtocolViolation, "缺少 id 的评论视为协议错误")
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Equal(t, ErrNameTimeout, Normalize(context.DeadlineExceeded).Name)
	assert.Equal(t, ErrNameNetwork, Normalize(errors.New("connection refused")).Name)

	apiErr := &APIError{Name: ErrNameHTTP, StatusCode: 500}
	assert.Same(t, apiErr, Normalize(apiErr))
	assert.Contains(t, apiErr.Error(), "500")
}

func TestTimeoutIsNormalized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Stats(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrNameTimeout, Normalize(err).Name)
}
