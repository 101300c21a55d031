/*
 * @Description: Redis 缓存服务
 * @Author: 安知鱼
 * @Date: 2025-06-20 15:17:47
 * @LastEditTime: 2026-10-15 11:22:38
 * @LastEditors: 安知鱼
 */
package utility

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService 定义了缓存服务的接口，提供了基础的 Get/Set/Delete 操作。
// 键不存在时 Get 返回空字符串和 nil 错误。
type CacheService interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key ...string) error
	// Increment 原子地增加一个键的值
	Increment(ctx context.Context, key string) (int64, error)
	// Expire 设置键的过期时间
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// redisCacheService 是 CacheService 的 Redis 实现
type redisCacheService struct {
	client *redis.Client
}

// NewCacheService 是 redisCacheService 的构造函数，通过依赖注入接收 Redis 客户端
func NewCacheService(client *redis.Client) CacheService {
	return &redisCacheService{
		client: client,
	}
}

func (s *redisCacheService) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return s.client.Expire(ctx, key, expiration).Err()
}

func (s *redisCacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

func (s *redisCacheService) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *redisCacheService) Delete(ctx context.Context, key ...string) error {
	if len(key) == 0 {
		return nil
	}
	return s.client.Del(ctx, key...).Err()
}

func (s *redisCacheService) Increment(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}
