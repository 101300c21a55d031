/*
 * @Description: 逻辑资源的持久化接口
 * @Author: 安知鱼
 * @Date: 2026-10-12 22:07:45
 * @LastEditTime: 2026-10-12 22:07:45
 * @LastEditors: 安知鱼
 */
package repository

import (
	"context"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// AssetRepository 定义了逻辑资源的持久化操作接口
type AssetRepository interface {
	// Create 创建资源记录，成功后回填 ID 与 CreatedAt
	Create(ctx context.Context, asset *model.Asset) error
	FindByID(ctx context.Context, id uint) (*model.Asset, error)
	Delete(ctx context.Context, id uint) error
	Count(ctx context.Context) (int64, error)
}
