/*
 * @Description: 提供了用于 cron 任务的中间件（装饰器）。
 * @Author: 安知鱼
 * @Date: 2025-06-29 22:36:09
 * @LastEditTime: 2026-10-16 14:05:40
 * @LastEditors: 安知鱼
 */
package task

import (
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobWrapper 是 cron.JobWrapper 的类型别名，用于简化代码。
type JobWrapper = cron.JobWrapper

// NewLoggingWrapper 创建一个日志装饰器。
// 每次执行都带有唯一的执行ID，便于在日志中追踪。
func NewLoggingWrapper(logger *zap.Logger) JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			jobLogger := logger.With(
				zap.String("job_name", getJobName(j)),
				zap.String("execution_id", uuid.New().String()),
			)

			startTime := time.Now()
			jobLogger.Info("任务开始执行")

			j.Run()

			jobLogger.Info("任务执行完毕", zap.Duration("duration", time.Since(startTime)))
		})
	}
}

// NewPanicRecoveryWrapper 创建 panic 恢复装饰器，任务崩溃只记录日志，不影响进程。
func NewPanicRecoveryWrapper(logger *zap.Logger) JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("任务发生 panic",
						zap.String("job_name", getJobName(j)),
						zap.Any("panic", r),
						zap.String("stack_trace", string(debug.Stack())),
					)
				}
			}()

			j.Run()
		})
	}
}

// getJobName 优先使用任务自定义的 Name()，否则通过反射取类型名
func getJobName(j cron.Job) string {
	if namedJob, ok := j.(interface{ Name() string }); ok {
		return namedJob.Name()
	}

	jobType := reflect.TypeOf(j)
	if jobType.Kind() == reflect.Ptr {
		return jobType.Elem().String()
	}
	return jobType.String()
}
