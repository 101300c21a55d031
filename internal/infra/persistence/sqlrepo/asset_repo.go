/*
 * @Description: 逻辑资源仓储
 * @Author: 安知鱼
 * @Date: 2026-10-13 13:44:08
 * @LastEditTime: 2026-10-13 13:44:08
 * @LastEditors: 安知鱼
 */
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/database"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/repository"
)

type assetRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewAssetRepo 创建逻辑资源仓储
func NewAssetRepo(db *sql.DB, dialect database.Dialect) repository.AssetRepository {
	return &assetRepo{db: db, dialect: dialect, now: time.Now}
}

func (r *assetRepo) Create(ctx context.Context, asset *model.Asset) error {
	createdAt := r.now()
	insert := `INSERT INTO assets (checksum_id, checksum, file_name, created_at) VALUES (?, ?, ?, ?)`

	if r.dialect == database.DialectPostgres {
		var id int64
		err := r.db.QueryRowContext(ctx, rebind(r.dialect, insert+` RETURNING id`),
			asset.ChecksumID, asset.Checksum, asset.FileName, toMillis(createdAt)).Scan(&id)
		if err != nil {
			return fmt.Errorf("创建资源记录失败: %w", err)
		}
		asset.ID = uint(id)
	} else {
		res, err := r.db.ExecContext(ctx, insert, asset.ChecksumID, asset.Checksum, asset.FileName, toMillis(createdAt))
		if err != nil {
			return fmt.Errorf("创建资源记录失败: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("获取资源ID失败: %w", err)
		}
		asset.ID = uint(id)
	}

	asset.CreatedAt = fromMillis(toMillis(createdAt))
	return nil
}

func (r *assetRepo) FindByID(ctx context.Context, id uint) (*model.Asset, error) {
	var (
		asset     model.Asset
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, rebind(r.dialect,
		`SELECT id, checksum_id, checksum, file_name, created_at FROM assets WHERE id = ?`), id).
		Scan(&asset.ID, &asset.ChecksumID, &asset.Checksum, &asset.FileName, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, constant.ErrNotFound
		}
		return nil, err
	}
	asset.CreatedAt = fromMillis(createdAt)
	return &asset, nil
}

func (r *assetRepo) Delete(ctx context.Context, id uint) error {
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, `DELETE FROM assets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("删除资源记录失败: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return constant.ErrNotFound
	}
	return nil
}

func (r *assetRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
