/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-15 11:30:55
 * @LastEditTime: 2026-10-13 12:10:02
 * @LastEditors: 安知鱼
 */
package database

import (
	"context"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient 接收配置并返回 Redis 客户端或 nil（用于自动降级）
// 如果 Redis 未配置或连接失败，返回 nil 而不是 error，让上层决定是否降级到内存缓存
func NewRedisClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	redisAddr := cfg.GetString(config.KeyRedisAddr)
	if redisAddr == "" {
		logger.Warn("⚠️  Redis 地址未配置，将使用内存缓存")
		return nil
	}

	redisDB := cfg.GetInt(config.KeyRedisDB)
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.GetString(config.KeyRedisPassword),
		DB:       redisDB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("⚠️  连接 Redis 失败，将使用内存缓存",
			zap.String("addr", redisAddr), zap.Int("db", redisDB), zap.Error(err))
		rdb.Close()
		return nil
	}

	logger.Info("✅ 成功连接到 Redis", zap.String("addr", redisAddr), zap.Int("db", redisDB))
	return rdb
}
