/*
 * @Description: 数据库连接管理 (支持多种数据库)
 * @Author: 安知鱼
 * @Date: 2025-07-12 16:09:46
 * @LastEditTime: 2026-10-13 12:04:51
 * @LastEditors: 安知鱼
 */
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// Dialect 标识底层数据库方言，仓储层据此选择 SQL 语法
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 将配置中的数据库类型规范化为方言
func ParseDialect(dbType string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("不支持的数据库驱动: %s (支持: mysql/mariadb, postgres, sqlite)", dbType)
	}
}

// NewSQLDB 创建并返回一个标准的 *sql.DB 连接池以及对应的方言
func NewSQLDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.GetString(config.KeyDBType))
	if err != nil {
		return nil, "", err
	}

	dbUser := cfg.GetString(config.KeyDBUser)
	dbPass := cfg.GetString(config.KeyDBPassword)
	dbHost := cfg.GetString(config.KeyDBHost)
	dbPort := cfg.GetString(config.KeyDBPort)
	dbName := cfg.GetString(config.KeyDBName)

	var dsn, driverName string
	switch dialect {
	case DialectMySQL:
		driverName = "mysql"
		if dbUser == "" || dbHost == "" || dbPort == "" || dbName == "" {
			return nil, "", fmt.Errorf("MySQL 连接参数不完整 (需要 User, Host, Port, Name)")
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbUser, dbPass, dbHost, dbPort, dbName)
	case DialectPostgres:
		driverName = "postgres"
		if dbUser == "" || dbHost == "" || dbPort == "" || dbName == "" {
			return nil, "", fmt.Errorf("PostgreSQL 连接参数不完整 (需要 User, Host, Port, Name)")
		}
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPass, dbName)
	case DialectSQLite:
		driverName = "sqlite3"
		finalPath, err := sqlitePath(dbName)
		if err != nil {
			return nil, "", err
		}
		logger.Info("SQLite 数据库路径", zap.String("path", finalPath))
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", finalPath)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("打开 sql.DB 连接失败 (驱动: %s): %w", driverName, err)
	}

	if dialect == DialectSQLite {
		// SQLite 只允许单写者，串行化连接避免 database is locked
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(100)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("无法 Ping 通数据库 (驱动: %s): %w", driverName, err)
	}

	logger.Info("✅ 数据库连接池创建成功", zap.String("dialect", string(dialect)))
	return db, dialect, nil
}

// sqlitePath 计算 SQLite 文件路径。
// 名称中带目录时按原样使用，否则放在 ./data 下。
func sqlitePath(dbName string) (string, error) {
	if dbName == "" {
		dbName = "support_system.db"
	}
	if strings.ContainsRune(dbName, filepath.Separator) || strings.Contains(dbName, "/") {
		if err := os.MkdirAll(filepath.Dir(dbName), os.ModePerm); err != nil {
			return "", fmt.Errorf("无法创建数据库目录: %w", err)
		}
		return dbName, nil
	}

	dataDir := "./data"
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("无法创建 data 目录: %w", err)
	}
	return filepath.Join(dataDir, dbName), nil
}
