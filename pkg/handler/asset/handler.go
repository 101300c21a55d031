/*
 * @Description: 资源上传、查询与删除接口
 * @Author: 安知鱼
 * @Date: 2026-10-16 19:02:37
 * @LastEditTime: 2026-10-18 16:20:41
 * @LastEditors: 安知鱼
 */
package asset_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/storage"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/response"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/asset"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

// MaxItemsPerRequest 单次请求最多上传的条目数
const MaxItemsPerRequest = 20

const statsCacheKey = "asset:stats"

// UploadRequest 批量上传请求体
type UploadRequest struct {
	Items []asset.Payload `json:"items" binding:"required"`
}

// ItemError 单个条目的错误
type ItemError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ItemResult 单个条目的上传结果
type ItemResult struct {
	Index        int                  `json:"index"`
	Success      bool                 `json:"success"`
	Deduplicated bool                 `json:"deduplicated"`
	Asset        *model.AssetResponse `json:"asset,omitempty"`
	Error        *ItemError           `json:"error,omitempty"`
}

// UploadResponse 批量上传响应
type UploadResponse struct {
	Results   []ItemResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// AssetHandler 负责处理资源相关的HTTP请求
type AssetHandler struct {
	svc      asset.Service
	cacheSvc utility.CacheService
	statsTTL time.Duration
	logger   *zap.Logger
}

// NewAssetHandler 是 AssetHandler 的构造函数，cacheSvc 为 nil 时统计结果不缓存
func NewAssetHandler(svc asset.Service, cacheSvc utility.CacheService, statsTTL time.Duration, logger *zap.Logger) *AssetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetHandler{svc: svc, cacheSvc: cacheSvc, statsTTL: statsTTL, logger: logger}
}

// StatusFor 将业务错误映射为HTTP状态码
func StatusFor(err error) int {
	var timeoutErr *storage.TimeoutError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, constant.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, constant.ErrInvalidPayload),
		errors.Is(err, constant.ErrBadRequest),
		errors.Is(err, constant.ErrInvalidPublicID):
		return http.StatusBadRequest
	case errors.Is(err, constant.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// messageFor 5xx 错误不向客户端暴露内部细节
func messageFor(status int, err error) string {
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		return "服务器内部错误"
	}
	return err.Error()
}

// Upload 处理 POST /assets 批量上传。每个条目独立成功或失败，相同内容只会存储一次；
// 全部成功 200，部分成功 207。
func (h *AssetHandler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "参数无效: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		response.Fail(c, http.StatusBadRequest, "上传内容不能为空")
		return
	}
	if len(req.Items) > MaxItemsPerRequest {
		response.Fail(c, http.StatusBadRequest, fmt.Sprintf("单次最多上传 %d 个资源", MaxItemsPerRequest))
		return
	}

	results := h.svc.UploadMany(c.Request.Context(), req.Items)

	resp := UploadResponse{Results: make([]ItemResult, len(results))}
	lastStatus := http.StatusOK
	for i, r := range results {
		item := ItemResult{Index: r.Index}
		if r.Err != nil {
			lastStatus = StatusFor(r.Err)
			item.Error = &ItemError{Code: lastStatus, Message: messageFor(lastStatus, r.Err)}
			resp.Failed++
			if lastStatus >= http.StatusInternalServerError {
				h.logger.Error("资源上传失败", zap.Int("index", r.Index), zap.Error(r.Err))
			}
		} else {
			item.Success = true
			item.Deduplicated = r.Deduplicated
			item.Asset = r.Asset
			resp.Succeeded++
		}
		resp.Results[i] = item
	}
	if resp.Succeeded > 0 {
		h.invalidateStats(c.Request.Context())
	}

	switch {
	case resp.Failed == 0:
		response.SuccessWithStatus(c, http.StatusOK, resp, "上传成功")
	case resp.Succeeded == 0 && len(results) == 1:
		response.FailWithData(c, lastStatus, resp.Results[0].Error.Message, resp)
	case resp.Succeeded == 0:
		response.FailWithData(c, http.StatusBadRequest, "全部上传失败", resp)
	default:
		response.SuccessWithStatus(c, http.StatusMultiStatus, resp, "部分上传成功")
	}
}

// Get 处理 GET /assets/:id
func (h *AssetHandler) Get(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, a, "获取成功")
}

// Delete 处理 DELETE /assets/:id，仅管理员可用
func (h *AssetHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.invalidateStats(c.Request.Context())
	response.Success(c, nil, "删除成功")
}

// Stats 处理 GET /assets/stats，结果短暂缓存
func (h *AssetHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	if h.cacheSvc != nil {
		if cached, err := h.cacheSvc.Get(ctx, statsCacheKey); err == nil && cached != "" {
			var stats asset.Stats
			if json.Unmarshal([]byte(cached), &stats) == nil {
				response.Success(c, stats, "获取成功")
				return
			}
		}
	}

	stats, err := h.svc.Stats(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	if h.cacheSvc != nil && h.statsTTL > 0 {
		if data, err := json.Marshal(stats); err == nil {
			if err := h.cacheSvc.Set(ctx, statsCacheKey, string(data), h.statsTTL); err != nil {
				h.logger.Warn("缓存资源统计失败", zap.Error(err))
			}
		}
	}
	response.Success(c, stats, "获取成功")
}

func (h *AssetHandler) invalidateStats(ctx context.Context) {
	if h.cacheSvc == nil {
		return
	}
	if err := h.cacheSvc.Delete(ctx, statsCacheKey); err != nil {
		h.logger.Warn("清除资源统计缓存失败", zap.Error(err))
	}
}

func (h *AssetHandler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("资源请求失败", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	_ = c.Error(err)
	response.Fail(c, status, messageFor(status, err))
}
