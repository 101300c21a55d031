/*
 * @Description: 评论后台接口的 HTTP 客户端
 * @Author: 安知鱼
 * @Date: 2025-08-11 18:02:37
 * @LastEditTime: 2026-10-17 19:15:50
 * @LastEditors: 安知鱼
 */
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBasePath 评论接口的版本化前缀
	DefaultBasePath = "/api/v1/article-comments"

	requestIDHeader = "X-Request-ID"

	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
	defaultMaxDelay    = 3 * time.Second
)

// Options 用于构造 Client
type Options struct {
	BaseURL    string
	BasePath   string
	Token      string
	HTTPClient *http.Client
	// MaxAttempts 为 GET 请求的最大尝试次数（含首次）
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *zap.Logger
}

// Client 是评论后台接口的客户端，所有响应均为 {data: T} 形式
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *zap.Logger
}

// NewClient 创建客户端实例
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	basePath := strings.TrimSpace(opts.BasePath)
	if basePath == "" {
		basePath = DefaultBasePath
	}
	basePath = "/" + strings.Trim(basePath, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     baseURL + basePath,
		token:       strings.TrimSpace(opts.Token),
		httpClient:  httpClient,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		logger:      logger.With(zap.String("component", "apiclient")),
	}
}

// envelope 是所有响应的外层结构
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// doJSON 发送请求并把 data 字段解码到 out。
// 只有 GET 会按 429/502/503/504 重试，变更类请求只发送一次。
func (c *Client) doJSON(ctx context.Context, method, requestPath string, body interface{}, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxAttempts
	}

	var lastErr *APIError
	for attempt := 1; attempt <= attempts; attempt++ {
		retryAfter, apiErr := c.doOnce(ctx, method, requestPath, bodyBytes, out)
		if apiErr == nil {
			return nil
		}
		lastErr = apiErr
		if !apiErr.Retryable() || attempt == attempts {
			break
		}

		delay := c.retryDelay(attempt, retryAfter)
		c.logger.Warn("请求失败，准备重试",
			zap.String("method", method),
			zap.String("path", requestPath),
			zap.Int("status", apiErr.StatusCode),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := waitWithContext(ctx, delay); err != nil {
			return Normalize(err)
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, requestPath string, bodyBytes []byte, out interface{}) (string, *APIError) {
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return "", Normalize(err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := Normalize(err)
		apiErr.RequestID = requestID
		return "", apiErr
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		apiErr := Normalize(readErr)
		apiErr.RequestID = requestID
		return "", apiErr
	}
	if id := resp.Header.Get(requestIDHeader); id != "" {
		requestID = id
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header.Get("Retry-After"), httpError(resp.StatusCode, payload, requestID)
	}
	if out == nil {
		return "", nil
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		apiErr := protocolError("响应不是合法的 JSON: %v", err)
		apiErr.RequestID = requestID
		return "", apiErr
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		apiErr := protocolError("响应缺少 data 字段")
		apiErr.RequestID = requestID
		return "", apiErr
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		apiErr := protocolError("data 字段格式错误: %v", err)
		apiErr.RequestID = requestID
		return "", apiErr
	}
	if v, ok := out.(validator); ok {
		if err := v.validate(); err != nil {
			apiErr := Normalize(err)
			apiErr.RequestID = requestID
			return "", apiErr
		}
	}
	return "", nil
}

// validator 由需要检查必需字段的响应类型实现
type validator interface {
	validate() error
}

// retryDelay 计算第 attempt 次失败后的等待时间，优先使用 Retry-After
func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsStatus 判断错误是否为指定状态码的 HttpError
func IsStatus(err error, statusCode int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Name == ErrNameHTTP && apiErr.StatusCode == statusCode
}
