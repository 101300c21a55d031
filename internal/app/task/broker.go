/*
 * @Description: 后台任务协调者：周期任务与事件触发的任务队列
 * @Author: 安知鱼
 * @Date: 2025-07-12 16:09:46
 * @LastEditTime: 2026-10-16 17:20:36
 * @LastEditors: 安知鱼
 */
package task

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobQueueSize = 1000

// Broker 是整个后台任务模块的核心协调者。
type Broker struct {
	cron     *cron.Cron
	logger   *zap.Logger
	gcJob    *ChecksumGCJob
	gcSpec   string
	jobQueue chan Job

	// 已排队但尚未执行的回收任务，避免孤儿事件密集时重复排队
	gcQueued atomic.Bool

	workers sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// cronLogger 让 cron 内部日志走 zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewBroker 是 Broker 的构造函数。gcSpec 为六段式 cron 表达式，为空时不注册周期回收。
func NewBroker(gcJob *ChecksumGCJob, gcSpec string, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("system", "task_broker"))

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger{sugar: logger.Sugar()}),
		cron.WithChain(
			NewPanicRecoveryWrapper(logger),
			NewLoggingWrapper(logger),
			cron.DelayIfStillRunning(cronLogger{sugar: logger.Sugar()}),
		),
	)

	broker := &Broker{
		cron:     c,
		logger:   logger,
		gcJob:    gcJob,
		gcSpec:   gcSpec,
		jobQueue: make(chan Job, jobQueueSize),
	}

	broker.startWorkerPool()

	return broker
}

// startWorkerPool 启动固定数量的 worker goroutine 来处理任务。
func (b *Broker) startWorkerPool() {
	workerCount := runtime.NumCPU()
	if workerCount <= 0 {
		workerCount = 4
	}
	b.logger.Info("启动任务 worker 池", zap.Int("concurrency", workerCount))

	chain := cron.NewChain(
		NewPanicRecoveryWrapper(b.logger),
		NewLoggingWrapper(b.logger),
	)
	for i := 0; i < workerCount; i++ {
		b.workers.Add(1)
		go func(workerID int) {
			defer b.workers.Done()
			for job := range b.jobQueue {
				b.logger.Debug("worker 领取任务", zap.Int("worker_id", workerID), zap.String("job_name", job.Name()))
				chain.Then(job).Run()
			}
		}(i + 1)
	}
}

// RegisterCronJobs 注册所有周期性任务。
func (b *Broker) RegisterCronJobs() error {
	if b.gcJob == nil || b.gcSpec == "" {
		b.logger.Info("未配置周期回收任务")
		return nil
	}
	if _, err := b.cron.AddJob(b.gcSpec, b.gcJob); err != nil {
		return err
	}
	b.logger.Info("已注册 'ChecksumGCJob'", zap.String("schedule", b.gcSpec))
	return nil
}

// Dispatch 将任务发送到队列中，队列已满时丢弃并返回 false。
func (b *Broker) Dispatch(job Job) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return false
	}
	select {
	case b.jobQueue <- job:
		return true
	default:
		b.logger.Warn("任务队列已满，丢弃任务", zap.String("job_name", job.Name()))
		return false
	}
}

// DispatchChecksumGC 派发一次校验和回收，已有回收在排队时直接合并。
func (b *Broker) DispatchChecksumGC() bool {
	if b.gcJob == nil {
		return false
	}
	if !b.gcQueued.CompareAndSwap(false, true) {
		return true
	}
	job := &queuedGCJob{broker: b}
	if !b.Dispatch(job) {
		b.gcQueued.Store(false)
		return false
	}
	b.logger.Debug("已排队校验和回收任务")
	return true
}

// queuedGCJob 在开始执行时清除排队标记，执行期间产生的新孤儿会触发下一次回收
type queuedGCJob struct {
	broker *Broker
}

func (j *queuedGCJob) Run() {
	j.broker.gcQueued.Store(false)
	j.broker.gcJob.Run()
}

func (j *queuedGCJob) Name() string {
	return j.broker.gcJob.Name()
}

// Start 启动 cron 调度器。
func (b *Broker) Start() {
	b.logger.Info("任务调度器已启动")
	b.cron.Start()
}

// Stop 优雅地停止 cron 调度器和所有 worker，等待已排队的任务执行完毕。
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.logger.Info("正在停止任务调度器...")
	ctx := b.cron.Stop()
	<-ctx.Done()

	b.mu.Lock()
	close(b.jobQueue)
	b.mu.Unlock()
	b.workers.Wait()
	b.logger.Info("任务调度器已停止")
}
