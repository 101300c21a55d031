/*
 * @Description: 上传接口的频率限制中间件
 * @Author: 安知鱼
 * @Date: 2025-11-08 00:00:00
 * @LastEditTime: 2026-10-18 10:21:45
 * @LastEditors: 安知鱼
 */
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/auth"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/response"
)

// idleLimiterTTL 超过该时间未访问的调用方会在下一次清扫时被移除
const idleLimiterTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UploadLimiter 按调用方限制上传频率。已认证的请求按令牌主体计数，其余按客户端 IP。
type UploadLimiter struct {
	mu        sync.Mutex
	callers   map[string]*callerLimiter
	every     time.Duration
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewUploadLimiter 创建限流器；requestsPerMinute <= 0 表示不限流
func NewUploadLimiter(requestsPerMinute, burst int) *UploadLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &UploadLimiter{
		callers: make(map[string]*callerLimiter),
		burst:   burst,
		now:     time.Now,
	}
	if requestsPerMinute > 0 {
		l.every = time.Minute / time.Duration(requestsPerMinute)
	}
	return l
}

// reserve 返回调用方是否放行，以及被拒绝时建议的等待时间
func (l *UploadLimiter) reserve(caller string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleLimiterTTL {
		for key, c := range l.callers {
			if now.Sub(c.lastSeen) > idleLimiterTTL {
				delete(l.callers, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.callers[caller]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.callers[caller] = c
	}
	c.lastSeen = now

	r := c.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func callerKey(c *gin.Context) string {
	if v, ok := c.Get(auth.ClaimsKey); ok {
		if claims, ok := v.(*auth.CustomClaims); ok && claims.Subject != "" {
			return "sub:" + claims.Subject
		}
	}
	return "ip:" + c.ClientIP()
}

// Handler 返回 gin 中间件，需放在 JWTAuth 之后才能按令牌主体计数
func (l *UploadLimiter) Handler() gin.HandlerFunc {
	if l.every <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ok, wait := l.reserve(callerKey(c))
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
			response.Fail(c, http.StatusTooManyRequests, "上传过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}
