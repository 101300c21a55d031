/*
 * @Description: SQL 方言差异的辅助函数
 * @Author: 安知鱼
 * @Date: 2026-10-13 13:02:44
 * @LastEditTime: 2026-10-13 13:02:44
 * @LastEditors: 安知鱼
 */
package sqlrepo

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/database"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// rebind 将 ? 占位符转换为目标方言的占位符（PostgreSQL 使用 $n）
func rebind(dialect database.Dialect, query string) string {
	if dialect != database.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lockSuffix 返回行级锁的读语句后缀，SQLite 没有行锁
func lockSuffix(dialect database.Dialect) string {
	if dialect == database.DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// translateError 将驱动层的唯一键冲突转换为 constant.ErrDuplicateKey。
// MySQL 的死锁（1213）同样是并发插入导致的瞬时错误，一并归类。
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && (mysqlErr.Number == 1062 || mysqlErr.Number == 1213) {
		return errors.Join(constant.ErrDuplicateKey, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40P01") {
		return errors.Join(constant.ErrDuplicateKey, err)
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return errors.Join(constant.ErrDuplicateKey, err)
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
