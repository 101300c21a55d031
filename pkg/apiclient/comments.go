/*
 * @Description: 文章评论相关接口
 * @Author: 安知鱼
 * @Date: 2025-08-11 18:40:12
 * @LastEditTime: 2026-10-17 19:31:07
 * @LastEditors: 安知鱼
 */
package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// Pagination 同时承载页码分页与游标分页两种元信息
type Pagination struct {
	Page        int    `json:"page,omitempty"`
	PageSize    int    `json:"pageSize"`
	Total       int    `json:"total"`
	TotalPages  int    `json:"totalPages,omitempty"`
	Cursor      string `json:"cursor,omitempty"`
	NextCursor  string `json:"nextCursor,omitempty"`
	HasNextPage bool   `json:"hasNextPage"`
}

type SortMeta struct {
	Key string `json:"key"`
	Dir string `json:"dir"`
}

type ListMeta struct {
	Pagination     Pagination        `json:"pagination"`
	Sort           SortMeta          `json:"sort"`
	FiltersApplied map[string]string `json:"filtersApplied,omitempty"`
}

// ListResponse 是文章评论汇总列表的一页
type ListResponse struct {
	Data []model.ArticleCommentSummary `json:"data"`
	Meta *ListMeta                     `json:"meta"`
}

func (r *ListResponse) validate() error {
	if r.Data == nil {
		return protocolError("列表响应缺少 data.data")
	}
	if r.Meta == nil {
		return protocolError("列表响应缺少 data.meta")
	}
	return nil
}

type ThreadMeta struct {
	Pagination Pagination `json:"pagination"`
}

// ThreadSegment 是一段评论线程，节点保持服务端顺序
type ThreadSegment struct {
	Nodes []model.CommentDetail `json:"nodes"`
	Meta  *ThreadMeta           `json:"meta"`
}

func (s *ThreadSegment) validate() error {
	if s.Nodes == nil {
		return protocolError("线程响应缺少 data.nodes")
	}
	if s.Meta == nil {
		return protocolError("线程响应缺少 data.meta")
	}
	return nil
}

type DeleteAck struct {
	ID        string     `json:"id"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// ListQuery 描述一次列表请求，Filters 中的键原样作为查询参数
type ListQuery struct {
	Page     int
	PageSize int
	SortKey  string
	SortDir  string
	Filters  url.Values
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	for key, vals := range q.Filters {
		for _, val := range vals {
			v.Add(key, val)
		}
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.SortKey != "" {
		v.Set("sortKey", q.SortKey)
	}
	if q.SortDir != "" {
		v.Set("sortDir", q.SortDir)
	}
	return v
}

// ThreadQuery 描述一次线程请求。Cursor 非空时走 segment 接口加载更多。
type ThreadQuery struct {
	EntityID string
	ParentID string
	Cursor   string
	PageSize int
	SortKey  string
	SortDir  string
	Filters  url.Values
}

type ReplyRequest struct {
	ArticleID string  `json:"articleId"`
	ParentID  *string `json:"parentId,omitempty"`
	Content   string  `json:"content"`
}

type statusRequest struct {
	Status model.CommentStatus `json:"status"`
	Reason string              `json:"reason,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

func checkDetail(detail *model.CommentDetail) error {
	if detail.ID == "" {
		return protocolError("评论响应缺少 id")
	}
	return nil
}

// ListArticleComments GET {base}?page&pageSize&sortKey&sortDir&...filters
func (c *Client) ListArticleComments(ctx context.Context, q ListQuery) (*ListResponse, error) {
	var out ListResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery("", q.values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchThread 获取根评论段、子评论段或游标分页的后续段
func (c *Client) FetchThread(ctx context.Context, q ThreadQuery) (*ThreadSegment, error) {
	v := ListQuery{PageSize: q.PageSize, SortKey: q.SortKey, SortDir: q.SortDir, Filters: q.Filters}.values()

	path := "/" + url.PathEscape(q.EntityID)
	switch {
	case q.Cursor != "":
		path += "/segment"
		v.Set("cursor", q.Cursor)
		if q.ParentID != "" {
			v.Set("parentId", q.ParentID)
		}
	case q.ParentID != "":
		path += "/" + url.PathEscape(q.ParentID)
	}

	var out ThreadSegment
	if err := c.doJSON(ctx, http.MethodGet, withQuery(path, v), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCommentStatus PATCH {base}/comment/{id}/status
func (c *Client) UpdateCommentStatus(ctx context.Context, id string, status model.CommentStatus, reason string) (*model.CommentDetail, error) {
	var out model.CommentDetail
	path := "/comment/" + url.PathEscape(id) + "/status"
	if err := c.doJSON(ctx, http.MethodPatch, path, statusRequest{Status: status, Reason: reason}, &out); err != nil {
		return nil, err
	}
	if err := checkDetail(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteComment DELETE {base}/comment/{id}
func (c *Client) DeleteComment(ctx context.Context, id, reason string) (*DeleteAck, error) {
	var out DeleteAck
	if err := c.doJSON(ctx, http.MethodDelete, "/comment/"+url.PathEscape(id), reasonRequest{Reason: reason}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}

// RestoreComment POST {base}/comment/{id}/restore
func (c *Client) RestoreComment(ctx context.Context, id string) (*model.CommentDetail, error) {
	var out model.CommentDetail
	if err := c.doJSON(ctx, http.MethodPost, "/comment/"+url.PathEscape(id)+"/restore", nil, &out); err != nil {
		return nil, err
	}
	if err := checkDetail(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reply POST {base}/reply
func (c *Client) Reply(ctx context.Context, req ReplyRequest) (*model.CommentDetail, error) {
	var out model.CommentDetail
	if err := c.doJSON(ctx, http.MethodPost, "/reply", req, &out); err != nil {
		return nil, err
	}
	if err := checkDetail(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats GET {base}/stats
func (c *Client) Stats(ctx context.Context) (*model.CommentStats, error) {
	var out model.CommentStats
	if err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
