/*
 * @Description: 校验和去重服务，负责物理文件的引用计数
 * @Author: 安知鱼
 * @Date: 2026-10-15 13:05:12
 * @LastEditTime: 2026-10-15 16:48:30
 * @LastEditors: 安知鱼
 */
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/repository"
)

const (
	// maxReserveAttempts 唯一键冲突时的最大尝试次数
	maxReserveAttempts = 5
	reserveBackoffStep = 20 * time.Millisecond
)

// ReserveOptions 创建新记录时写入的元数据
type ReserveOptions struct {
	ContentType string
	FileSize    int64
	Provider    constant.StoragePolicyType
}

// Reservation 是一次引用预留的结果。
// IsNew 为 true 表示调用方是该内容的第一个引用者，需要负责物理上传。
type Reservation struct {
	Record *model.ChecksumRecord
	IsNew  bool
}

// Service 定义了校验和去重相关的业务逻辑接口。
type Service interface {
	Compute(content []byte) string
	Reserve(ctx context.Context, checksum string, opts ReserveOptions) (*Reservation, error)
	Release(ctx context.Context, checksum string) (*model.ChecksumRecord, error)
	Attach(ctx context.Context, checksum string, upload *model.UploadedAsset) error
	Find(ctx context.Context, checksum string) (*model.ChecksumRecord, error)
	FindByID(ctx context.Context, id uint) (*model.ChecksumRecord, error)
	Orphans(ctx context.Context, limit int) ([]*model.ChecksumRecord, error)
	Purge(ctx context.Context, checksum string) (bool, error)
}

type service struct {
	repo   repository.ChecksumRepository
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewService 是 service 的构造函数
func NewService(repo repository.ChecksumRepository, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repo, logger: logger, sleep: sleepContext}
}

// Compute 返回内容的小写十六进制 sha256
func Compute(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *service) Compute(content []byte) string {
	return Compute(content)
}

// Reserve 原子地为校验和增加一个引用。
// 并发插入同一校验和时数据库可能报唯一键冲突，此时短暂退避后重试。
func (s *service) Reserve(ctx context.Context, checksum string, opts ReserveOptions) (*Reservation, error) {
	if checksum == "" {
		return nil, fmt.Errorf("%w: 校验和不能为空", constant.ErrBadRequest)
	}

	var lastErr error
	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		record, err := s.repo.IncrementOrCreate(ctx, &model.ChecksumRecord{
			Checksum:        checksum,
			StorageProvider: opts.Provider,
			ContentType:     opts.ContentType,
			FileSize:        opts.FileSize,
		})
		if err == nil {
			return &Reservation{Record: record, IsNew: record.RefCount == 1}, nil
		}
		if !errors.Is(err, constant.ErrDuplicateKey) {
			return nil, fmt.Errorf("预留校验和 %s 失败: %w", checksum, err)
		}

		lastErr = err
		s.logger.Debug("校验和写入冲突，准备重试",
			zap.String("checksum", checksum),
			zap.Int("attempt", attempt))
		if attempt < maxReserveAttempts {
			if sleepErr := s.sleep(ctx, time.Duration(attempt)*reserveBackoffStep); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
	return nil, fmt.Errorf("预留校验和 %s 失败，已重试 %d 次: %w", checksum, maxReserveAttempts, lastErr)
}

// Release 撤销一次引用，计数不会低于 0
func (s *service) Release(ctx context.Context, checksum string) (*model.ChecksumRecord, error) {
	record, err := s.repo.Decrement(ctx, checksum)
	if err != nil {
		return nil, fmt.Errorf("释放校验和 %s 失败: %w", checksum, err)
	}
	if record.RefCount == 0 {
		s.logger.Info("校验和已无引用", zap.String("checksum", checksum))
	}
	return record, nil
}

// Attach 在物理上传完成后写入访问地址等信息
func (s *service) Attach(ctx context.Context, checksum string, upload *model.UploadedAsset) error {
	if upload == nil {
		return fmt.Errorf("%w: 上传结果为空", constant.ErrBadRequest)
	}
	if err := s.repo.AttachUpload(ctx, checksum, upload); err != nil {
		return fmt.Errorf("写入校验和 %s 的上传信息失败: %w", checksum, err)
	}
	return nil
}

func (s *service) Find(ctx context.Context, checksum string) (*model.ChecksumRecord, error) {
	return s.repo.FindByChecksum(ctx, checksum)
}

func (s *service) FindByID(ctx context.Context, id uint) (*model.ChecksumRecord, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) Orphans(ctx context.Context, limit int) ([]*model.ChecksumRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListOrphans(ctx, limit)
}

// Purge 仅当记录仍然没有引用时删除它
func (s *service) Purge(ctx context.Context, checksum string) (bool, error) {
	return s.repo.DeleteIfOrphan(ctx, checksum)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
