/*
 * @Description: 数据库迁移服务（按方言建表）
 * @Author: 安知鱼
 * @Date: 2025-12-08
 * @LastEditTime: 2026-10-13 12:31:17
 * @LastEditors: 安知鱼
 */
package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// MigrationService 数据库迁移服务
type MigrationService struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewMigrationService 创建迁移服务
func NewMigrationService(db *sql.DB, dialect Dialect, logger *zap.Logger) *MigrationService {
	return &MigrationService{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// RunMigrations 执行所有迁移，语句均为幂等
func (m *MigrationService) RunMigrations(ctx context.Context) error {
	m.logger.Info("📋 开始执行数据库迁移...")

	statements, err := m.schema()
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移语句失败: %w", err)
		}
	}

	m.logger.Info("✅ 数据库迁移完成", zap.Int("statements", len(statements)))
	return nil
}

func (m *MigrationService) schema() ([]string, error) {
	switch m.dialect {
	case DialectMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS checksum_records (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				checksum CHAR(64) NOT NULL,
				ref_count INT NOT NULL DEFAULT 0,
				storage_provider VARCHAR(32) NOT NULL DEFAULT '',
				object_key VARCHAR(512) NOT NULL DEFAULT '',
				public_url VARCHAR(1024) NOT NULL DEFAULT '',
				content_type VARCHAR(255) NOT NULL DEFAULT '',
				file_size BIGINT NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				UNIQUE KEY uk_checksum_records_checksum (checksum),
				KEY idx_checksum_records_ref_count (ref_count)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COMMENT='物理文件校验和与引用计数'`,
			`CREATE TABLE IF NOT EXISTS assets (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				checksum_id BIGINT UNSIGNED NOT NULL,
				checksum CHAR(64) NOT NULL,
				file_name VARCHAR(255) NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				KEY idx_assets_checksum_id (checksum_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COMMENT='逻辑资源'`,
		}, nil
	case DialectPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS checksum_records (
				id BIGSERIAL PRIMARY KEY,
				checksum CHAR(64) NOT NULL UNIQUE,
				ref_count INTEGER NOT NULL DEFAULT 0,
				storage_provider VARCHAR(32) NOT NULL DEFAULT '',
				object_key VARCHAR(512) NOT NULL DEFAULT '',
				public_url VARCHAR(1024) NOT NULL DEFAULT '',
				content_type VARCHAR(255) NOT NULL DEFAULT '',
				file_size BIGINT NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_checksum_records_ref_count ON checksum_records (ref_count)`,
			`CREATE TABLE IF NOT EXISTS assets (
				id BIGSERIAL PRIMARY KEY,
				checksum_id BIGINT NOT NULL REFERENCES checksum_records (id),
				checksum CHAR(64) NOT NULL,
				file_name VARCHAR(255) NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_assets_checksum_id ON assets (checksum_id)`,
		}, nil
	case DialectSQLite:
		return []string{
			`CREATE TABLE IF NOT EXISTS checksum_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				checksum TEXT NOT NULL UNIQUE,
				ref_count INTEGER NOT NULL DEFAULT 0,
				storage_provider TEXT NOT NULL DEFAULT '',
				object_key TEXT NOT NULL DEFAULT '',
				public_url TEXT NOT NULL DEFAULT '',
				content_type TEXT NOT NULL DEFAULT '',
				file_size INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_checksum_records_ref_count ON checksum_records (ref_count)`,
			`CREATE TABLE IF NOT EXISTS assets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				checksum_id INTEGER NOT NULL,
				checksum TEXT NOT NULL,
				file_name TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_assets_checksum_id ON assets (checksum_id)`,
		}, nil
	default:
		return nil, fmt.Errorf("不支持的数据库方言: %s", m.dialect)
	}
}
