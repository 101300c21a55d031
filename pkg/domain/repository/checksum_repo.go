/*
 * @Description: 校验和记录的持久化接口
 * @Author: 安知鱼
 * @Date: 2026-10-12 22:05:11
 * @LastEditTime: 2026-10-13 09:40:26
 * @LastEditors: 安知鱼
 */
package repository

import (
	"context"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// ChecksumRepository 定义了校验和记录的持久化操作接口。
// 唯一键冲突必须以 constant.ErrDuplicateKey 返回，未找到以 constant.ErrNotFound 返回。
type ChecksumRepository interface {
	// IncrementOrCreate 原子地插入记录（ref_count=1）或将已有记录的 ref_count 加一，返回操作后的记录
	IncrementOrCreate(ctx context.Context, record *model.ChecksumRecord) (*model.ChecksumRecord, error)
	// Decrement 将 ref_count 减一（不低于 0），返回操作后的记录
	Decrement(ctx context.Context, checksum string) (*model.ChecksumRecord, error)
	// AttachUpload 在物理上传完成后写入对象信息
	AttachUpload(ctx context.Context, checksum string, upload *model.UploadedAsset) error
	FindByChecksum(ctx context.Context, checksum string) (*model.ChecksumRecord, error)
	FindByID(ctx context.Context, id uint) (*model.ChecksumRecord, error)
	// ListOrphans 列出 ref_count 为 0 的记录
	ListOrphans(ctx context.Context, limit int) ([]*model.ChecksumRecord, error)
	// DeleteIfOrphan 仅当 ref_count 仍为 0 时删除记录
	DeleteIfOrphan(ctx context.Context, checksum string) (bool, error)
}
