/*
 * @Description: 校验和记录仓储（database/sql 实现，支持 MySQL/PostgreSQL/SQLite）
 * @Author: 安知鱼
 * @Date: 2026-10-13 13:10:21
 * @LastEditTime: 2026-10-14 09:12:40
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

const checksumColumns = `id, checksum, ref_count, storage_provider, object_key, public_url, content_type, file_size, created_at, updated_at`

type checksumRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewChecksumRepo 创建校验和记录仓储
func NewChecksumRepo(db *sql.DB, dialect database.Dialect) repository.ChecksumRepository {
	return &checksumRepo{db: db, dialect: dialect, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChecksumRecord(row rowScanner) (*model.ChecksumRecord, error) {
	var (
		rec                  model.ChecksumRecord
		provider             string
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.Checksum, &rec.RefCount, &provider, &rec.ObjectKey,
		&rec.PublicURL, &rec.ContentType, &rec.FileSize, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, constant.ErrNotFound
		}
		return nil, err
	}
	rec.StorageProvider = constant.StoragePolicyType(provider)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// upsertStatement 返回“插入或加一”的语句，整个操作由数据库保证原子性
func (r *checksumRepo) upsertStatement() string {
	insert := `INSERT INTO checksum_records (checksum, ref_count, storage_provider, content_type, file_size, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?)`
	if r.dialect == database.DialectMySQL {
		return insert + ` ON DUPLICATE KEY UPDATE ref_count = ref_count + 1, updated_at = VALUES(updated_at)`
	}
	return insert + ` ON CONFLICT (checksum) DO UPDATE SET ref_count = checksum_records.ref_count + 1, updated_at = excluded.updated_at`
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
func (r *checksumRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return translateError(tx.Commit())
}

func (r *checksumRepo) selectForUpdate(ctx context.Context, tx *sql.Tx, checksum string) (*model.ChecksumRecord, error) {
	query := rebind(r.dialect, `SELECT `+checksumColumns+` FROM checksum_records WHERE checksum = ?`+lockSuffix(r.dialect))
	return scanChecksumRecord(tx.QueryRowContext(ctx, query, checksum))
}

func (r *checksumRepo) IncrementOrCreate(ctx context.Context, record *model.ChecksumRecord) (*model.ChecksumRecord, error) {
	var result *model.ChecksumRecord
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(r.now())
		_, err := tx.ExecContext(ctx, rebind(r.dialect, r.upsertStatement()),
			record.Checksum, string(record.StorageProvider), record.ContentType, record.FileSize, now, now)
		if err != nil {
			return translateError(err)
		}
		result, err = r.selectForUpdate(ctx, tx, record.Checksum)
		return translateError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("预留校验和 %s 失败: %w", record.Checksum, err)
	}
	return result, nil
}

func (r *checksumRepo) Decrement(ctx context.Context, checksum string) (*model.ChecksumRecord, error) {
	var result *model.ChecksumRecord
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, rebind(r.dialect,
			`UPDATE checksum_records SET ref_count = CASE WHEN ref_count > 0 THEN ref_count - 1 ELSE 0 END, updated_at = ? WHERE checksum = ?`),
			toMillis(r.now()), checksum)
		if err != nil {
			return translateError(err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 && r.dialect != database.DialectMySQL {
			return constant.ErrNotFound
		}
		result, err = r.selectForUpdate(ctx, tx, checksum)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("释放校验和 %s 失败: %w", checksum, err)
	}
	return result, nil
}

func (r *checksumRepo) AttachUpload(ctx context.Context, checksum string, upload *model.UploadedAsset) error {
	res, err := r.db.ExecContext(ctx, rebind(r.dialect,
		`UPDATE checksum_records SET object_key = ?, public_url = ?, content_type = ?, file_size = ?, updated_at = ? WHERE checksum = ?`),
		upload.ProviderID, upload.URL, upload.ContentType, upload.FileSize, toMillis(r.now()), checksum)
	if err != nil {
		return fmt.Errorf("写入上传结果失败: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		// MySQL 在值未变化时也会返回 0，再确认一次记录是否存在
		if _, findErr := r.FindByChecksum(ctx, checksum); findErr != nil {
			return findErr
		}
	}
	return nil
}

func (r *checksumRepo) FindByChecksum(ctx context.Context, checksum string) (*model.ChecksumRecord, error) {
	query := rebind(r.dialect, `SELECT `+checksumColumns+` FROM checksum_records WHERE checksum = ?`)
	return scanChecksumRecord(r.db.QueryRowContext(ctx, query, checksum))
}

func (r *checksumRepo) FindByID(ctx context.Context, id uint) (*model.ChecksumRecord, error) {
	query := rebind(r.dialect, `SELECT `+checksumColumns+` FROM checksum_records WHERE id = ?`)
	return scanChecksumRecord(r.db.QueryRowContext(ctx, query, id))
}

func (r *checksumRepo) ListOrphans(ctx context.Context, limit int) ([]*model.ChecksumRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := rebind(r.dialect, `SELECT `+checksumColumns+` FROM checksum_records WHERE ref_count = 0 ORDER BY id LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询孤立校验和失败: %w", err)
	}
	defer rows.Close()

	var records []*model.ChecksumRecord
	for rows.Next() {
		rec, err := scanChecksumRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *checksumRepo) DeleteIfOrphan(ctx context.Context, checksum string) (bool, error) {
	res, err := r.db.ExecContext(ctx, rebind(r.dialect,
		`DELETE FROM checksum_records WHERE checksum = ? AND ref_count = 0
			AND NOT EXISTS (SELECT 1 FROM assets WHERE assets.checksum = ?)`), checksum, checksum)
	if err != nil {
		return false, fmt.Errorf("删除孤立校验和失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
