/*
 * @Description: 上传超时与重试退避策略
 * @Author: 安知鱼
 * @Date: 2026-10-14 13:40:02
 * @LastEditTime: 2026-10-14 16:05:51
 * @LastEditors: 安知鱼
 */
package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrUploadTimeout 表示上传在限定时间内没有完成
var ErrUploadTimeout = errors.New("上传超时")

// TimeoutError 携带本次上传所使用的超时时长
type TimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("上传 %s 超时（%s）", e.Key, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrUploadTimeout || target == context.DeadlineExceeded
}

const (
	mb = 1 << 20

	// DefaultMaxRetries 默认的最大尝试次数
	DefaultMaxRetries = 3
	// DefaultBackoffBase 默认的退避基数
	DefaultBackoffBase = 500 * time.Millisecond
)

// sizeTimeouts 按文件大小分档的超时表
var sizeTimeouts = []struct {
	limit   int64
	timeout time.Duration
}{
	{2 * mb, 30 * time.Second},
	{5 * mb, 60 * time.Second},
	{10 * mb, 120 * time.Second},
	{20 * mb, 180 * time.Second},
}

// TimeoutForSize 根据文件大小返回上传超时，文件越大超时越长
func TimeoutForSize(size int64) time.Duration {
	for _, tier := range sizeTimeouts {
		if size <= tier.limit {
			return tier.timeout
		}
	}
	return 300 * time.Second
}

// backoffDelay 计算第 attempt 次失败后的等待时间：base*2^attempt + [0, base) 的抖动
func backoffDelay(base time.Duration, attempt int, jitter func(time.Duration) time.Duration) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	delay := base << attempt
	if jitter != nil {
		delay += jitter(base)
	}
	return delay
}

func randomJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base)))
}

// sleepContext 等待 d，ctx 结束时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
