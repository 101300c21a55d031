/*
 * @Description: Prometheus 指标收集
 * @Author: 安知鱼
 * @Date: 2026-10-14 10:02:11
 * @LastEditTime: 2026-10-14 15:37:20
 * @LastEditors: 安知鱼
 */
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bdts"

// Metrics 汇总了资源服务用到的全部指标。
// 所有方法都允许在 nil 接收者上调用，方便测试时不注入指标。
type Metrics struct {
	uploadAttempts  *prometheus.CounterVec
	uploadRetries   *prometheus.CounterVec
	dedupHits       prometheus.Counter
	deletes         *prometheus.CounterVec
	gcPurged        prometheus.Counter
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New 在给定的注册器上创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		uploadAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "upload_attempts_total",
			Help:      "Total number of physical upload attempts",
		}, []string{"provider", "outcome"}),
		uploadRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "upload_retries_total",
			Help:      "Total number of upload retries",
		}, []string{"provider"}),
		dedupHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "dedup_hits_total",
			Help:      "Uploads that reused an existing physical object",
		}),
		deletes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "deletes_total",
			Help:      "Total number of physical object deletions",
		}, []string{"provider", "outcome"}),
		gcPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checksum",
			Name:      "gc_purged_total",
			Help:      "Orphaned checksum records removed by the collector",
		}),
		requestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "path"}),
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// UploadAttempt 记录一次物理上传尝试
func (m *Metrics) UploadAttempt(provider string, ok bool) {
	if m == nil {
		return
	}
	m.uploadAttempts.WithLabelValues(provider, outcomeLabel(ok)).Inc()
}

// UploadRetry 记录一次重试
func (m *Metrics) UploadRetry(provider string) {
	if m == nil {
		return
	}
	m.uploadRetries.WithLabelValues(provider).Inc()
}

// DedupHit 记录一次去重命中
func (m *Metrics) DedupHit() {
	if m == nil {
		return
	}
	m.dedupHits.Inc()
}

// Delete 记录一次物理删除
func (m *Metrics) Delete(provider string, ok bool) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(provider, outcomeLabel(ok)).Inc()
}

// GCPurged 累加被回收的孤儿记录数
func (m *Metrics) GCPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.gcPurged.Add(float64(n))
}

// Middleware 返回收集请求指标的 Gin 中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		// 使用路由模板而不是原始路径，避免标签基数爆炸
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestCounter.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
