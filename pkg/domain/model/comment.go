/*
 * @Description: 评论相关的领域模型（后台看板视角）
 * @Author: 安知鱼
 * @Date: 2025-08-11 17:58:40
 * @LastEditTime: 2026-10-13 10:22:41
 * @LastEditors: 安知鱼
 */
package model

import "time"

// CommentStatus 定义了评论的审核状态。
type CommentStatus string

const (
	CommentStatusPending  CommentStatus = "PENDING"  // 待审核
	CommentStatusApproved CommentStatus = "APPROVED" // 已通过
	CommentStatusRejected CommentStatus = "REJECTED" // 已拒绝
)

// IsValid 检查状态是否为已知取值
func (s CommentStatus) IsValid() bool {
	switch s {
	case CommentStatusPending, CommentStatusApproved, CommentStatusRejected:
		return true
	default:
		return false
	}
}

// CommentAuthor 代表了评论的作者信息
type CommentAuthor struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// CommentDetail 是线程树中的一个节点。
// ParentID 为空表示顶级评论。
type CommentDetail struct {
	ID         string        `json:"id"`
	ArticleID  string        `json:"articleId"`
	ParentID   *string       `json:"parentId"`
	Author     CommentAuthor `json:"author"`
	Content    string        `json:"content"`
	Status     CommentStatus `json:"status"`
	ReplyCount int           `json:"replyCount"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	DeletedAt  *time.Time    `json:"deletedAt,omitempty"`
}

// ParentKey 返回父评论ID，顶级评论返回空字符串
func (c *CommentDetail) ParentKey() string {
	if c.ParentID == nil {
		return ""
	}
	return *c.ParentID
}

// ArticleCommentSummary 是文章评论列表中的一行，包含各状态下的评论计数。
type ArticleCommentSummary struct {
	ArticleID        string     `json:"articleId"`
	Title            string     `json:"title"`
	Slug             string     `json:"slug,omitempty"`
	AuthorName       string     `json:"authorName,omitempty"`
	TotalComments    int        `json:"totalComments"`
	ApprovedComments int        `json:"approvedComments"`
	PendingComments  int        `json:"pendingComments"`
	RejectedComments int        `json:"rejectedComments"`
	LatestCommentAt  *time.Time `json:"latestCommentAt,omitempty"`
}

// AdjustStatusCount 按状态调整对应的子计数，结果不小于 0
func (s *ArticleCommentSummary) AdjustStatusCount(status CommentStatus, delta int) {
	var target *int
	switch status {
	case CommentStatusApproved:
		target = &s.ApprovedComments
	case CommentStatusPending:
		target = &s.PendingComments
	case CommentStatusRejected:
		target = &s.RejectedComments
	default:
		return
	}
	*target += delta
	if *target < 0 {
		*target = 0
	}
}

// CommentStats 是 /stats 接口返回的聚合计数
type CommentStats struct {
	TotalComments    int `json:"totalComments"`
	ApprovedComments int `json:"approvedComments"`
	PendingComments  int `json:"pendingComments"`
	RejectedComments int `json:"rejectedComments"`
	DeletedComments  int `json:"deletedComments"`
	ArticlesWithTalk int `json:"articlesWithComments"`
}
