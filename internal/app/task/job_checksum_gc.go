/*
 * @Description: 回收引用计数归零的校验和记录及其物理文件
 * @Author: 安知鱼
 * @Date: 2026-10-16 14:11:52
 * @LastEditTime: 2026-10-16 16:47:03
 * @LastEditors: 安知鱼
 */
package task

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/storage"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/metrics"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/checksum"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

const (
	defaultGCBatchLimit = 100
	gcRunTimeout        = 5 * time.Minute
)

// GCReport 是一次回收的统计
type GCReport struct {
	Scanned       int      `json:"scanned"`
	Purged        int      `json:"purged"`
	Revived       int      `json:"revived"`
	FailedObjects []string `json:"failed_objects"`
}

// ChecksumGCJob 清理无引用的校验和。
// 记录删除与对象删除都在该校验和的锁内完成，期间同内容的上传会等待，
// 因此不会出现新引用指向已删除对象的情况。
type ChecksumGCJob struct {
	checksums  checksum.Service
	provider   storage.AssetStorageProvider
	locker     *utility.KeyedLocker
	metrics    *metrics.Metrics
	logger     *zap.Logger
	batchLimit int
}

// NewChecksumGCJob 是任务的构造函数
func NewChecksumGCJob(
	checksums checksum.Service,
	provider storage.AssetStorageProvider,
	locker *utility.KeyedLocker,
	m *metrics.Metrics,
	logger *zap.Logger,
	batchLimit int,
) *ChecksumGCJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchLimit <= 0 {
		batchLimit = defaultGCBatchLimit
	}
	return &ChecksumGCJob{
		checksums:  checksums,
		provider:   provider,
		locker:     locker,
		metrics:    m,
		logger:     logger,
		batchLimit: batchLimit,
	}
}

// Run 是 Job 接口要求实现的方法
func (j *ChecksumGCJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), gcRunTimeout)
	defer cancel()

	report, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("校验和回收失败", zap.Error(err))
		return
	}
	j.logger.Info("校验和回收完成",
		zap.Int("scanned", report.Scanned),
		zap.Int("purged", report.Purged),
		zap.Int("revived", report.Revived),
		zap.Int("failedObjects", len(report.FailedObjects)))
}

// Name 方法让日志包装器可以打印出更有意义的任务名
func (j *ChecksumGCJob) Name() string {
	return "ChecksumGCJob"
}

// RunOnce 扫描一批孤儿记录并回收
func (j *ChecksumGCJob) RunOnce(ctx context.Context) (*GCReport, error) {
	report := &GCReport{FailedObjects: []string{}}

	orphans, err := j.checksums.Orphans(ctx, j.batchLimit)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(orphans)
	if len(orphans) == 0 {
		return report, nil
	}

	keys := make([]string, 0, len(orphans))
	for _, rec := range orphans {
		keys = append(keys, rec.Checksum)
	}
	unlock := j.locker.LockMany(keys)
	defer unlock()

	objectKeys := make([]string, 0, len(orphans))
	for _, rec := range orphans {
		purged, err := j.checksums.Purge(ctx, rec.Checksum)
		if err != nil {
			return report, err
		}
		if !purged {
			// 扫描之后又有新的引用
			report.Revived++
			continue
		}
		report.Purged++
		if rec.ObjectKey != "" {
			objectKeys = append(objectKeys, rec.ObjectKey)
		}
	}

	if len(objectKeys) > 0 {
		result := j.provider.DeleteMany(ctx, objectKeys)
		report.FailedObjects = append(report.FailedObjects, result.Failed...)
		for _, key := range result.Failed {
			j.logger.Warn("物理文件删除失败，文件将保留在存储中", zap.String("key", key))
		}
	}

	j.metrics.GCPurged(report.Purged)
	return report, nil
}
