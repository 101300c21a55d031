/*
 * @Description: 后台接口的统一错误结构
 * @Author: 安知鱼
 * @Date: 2025-08-11 18:20:05
 * @LastEditTime: 2026-10-17 19:02:14
 * @LastEditors: 安知鱼
 */
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// 错误名称，供界面区分展示方式
const (
	ErrNameHTTP     = "HttpError"
	ErrNameNetwork  = "NetworkError"
	ErrNameTimeout  = "TimeoutError"
	ErrNameProtocol = "ProtocolError"
)

// ErrProtocolViolation 表示响应缺少约定的字段，属于接口契约错误，不会重试
var ErrProtocolViolation = errors.New("响应不符合接口约定")

// APIError 是所有面向接口的失败在缓存层的统一表示
type APIError struct {
	Name       string      `json:"name"`
	StatusCode int         `json:"statusCode,omitempty"`
	ErrorCode  string      `json:"errorCode,omitempty"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`

	cause error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Name)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.ErrorCode != "" {
		b.WriteString(" " + e.ErrorCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Is 使 errors.Is(err, ErrProtocolViolation) 对协议错误成立
func (e *APIError) Is(target error) bool {
	return target == ErrProtocolViolation && e.Name == ErrNameProtocol
}

// Retryable 判断 GET 请求是否值得重试
func (e *APIError) Retryable() bool {
	if e.Name != ErrNameHTTP {
		return false
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func protocolError(format string, args ...interface{}) *APIError {
	return &APIError{
		Name:    ErrNameProtocol,
		Message: fmt.Sprintf(format, args...),
		cause:   ErrProtocolViolation,
	}
}

// errorBody 兼容两种常见的错误响应：顶层字段，或包在 error 对象里
type errorBody struct {
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
	Details   interface{}     `json:"details"`
	RequestID string          `json:"requestId"`
	Error     json.RawMessage `json:"error"`
}

// httpError 根据状态码与响应体构造 HttpError
func httpError(statusCode int, body []byte, requestID string) *APIError {
	apiErr := &APIError{
		Name:       ErrNameHTTP,
		StatusCode: statusCode,
		RequestID:  requestID,
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Message = parsed.Message
		apiErr.ErrorCode = parsed.ErrorCode
		apiErr.Details = parsed.Details
		if parsed.RequestID != "" {
			apiErr.RequestID = parsed.RequestID
		}
		if len(parsed.Error) > 0 {
			var nested errorBody
			if json.Unmarshal(parsed.Error, &nested) == nil {
				if nested.Message != "" {
					apiErr.Message = nested.Message
				}
				if nested.ErrorCode != "" {
					apiErr.ErrorCode = nested.ErrorCode
				}
				if nested.Details != nil {
					apiErr.Details = nested.Details
				}
			} else {
				var text string
				if json.Unmarshal(parsed.Error, &text) == nil && apiErr.Message == "" {
					apiErr.Message = text
				}
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

// Normalize 把任意错误转换为 *APIError，nil 保持为 nil
func Normalize(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &APIError{Name: ErrNameTimeout, Message: "请求超时", cause: err}
	case errors.Is(err, ErrProtocolViolation):
		return &APIError{Name: ErrNameProtocol, Message: err.Error(), cause: err}
	}
	return &APIError{Name: ErrNameNetwork, Message: err.Error(), cause: err}
}

// NormalizeError 与 Normalize 相同，但返回 error 接口，便于作为回调传入缓存
func NormalizeError(err error) error {
	if apiErr := Normalize(err); apiErr != nil {
		return apiErr
	}
	return nil
}
