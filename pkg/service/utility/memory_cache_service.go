/*
 * @Description: 内存缓存服务实现（用于 Redis 不可用时的降级方案）
 * @Author: 安知鱼
 * @Date: 2025-10-05 00:00:00
 * @LastEditTime: 2026-10-15 11:40:02
 * @LastEditors: 安知鱼
 */
package utility

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// cacheItem 缓存项结构
type cacheItem struct {
	value      string
	expiration time.Time
}

func (item cacheItem) isExpired(now time.Time) bool {
	return !item.expiration.IsZero() && now.After(item.expiration)
}

// MemoryCacheService 是基于内存的缓存服务实现
type MemoryCacheService struct {
	mu   sync.Mutex
	data map[string]cacheItem
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewMemoryCacheService 创建内存缓存服务实例，并启动每分钟一次的过期清理
func NewMemoryCacheService() *MemoryCacheService {
	svc := &MemoryCacheService{
		data: make(map[string]cacheItem),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go svc.cleanupLoop(time.Minute)
	return svc
}

func (s *MemoryCacheService) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, item := range s.data {
				if item.isExpired(now) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Stop 停止清理任务，可重复调用
func (s *MemoryCacheService) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// load 读取未过期的条目，调用方必须持有锁
func (s *MemoryCacheService) load(key string) (cacheItem, bool) {
	item, ok := s.data[key]
	if !ok {
		return cacheItem{}, false
	}
	if item.isExpired(s.now()) {
		delete(s.data, key)
		return cacheItem{}, false
	}
	return item, true
}

func (s *MemoryCacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	item := cacheItem{value: stringify(value)}
	if expiration > 0 {
		item.expiration = s.now().Add(expiration)
	}
	s.mu.Lock()
	s.data[key] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryCacheService) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.load(key)
	if !ok {
		return "", nil
	}
	return item.value, nil
}

func (s *MemoryCacheService) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

// Increment 与 Redis INCR 一致：不存在的键从 0 开始，保留原有过期时间
func (s *MemoryCacheService) Increment(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, _ := s.load(key)
	var current int64
	if item.value != "" {
		parsed, err := strconv.ParseInt(item.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("键 %s 的值不是整数", key)
		}
		current = parsed
	}
	current++
	item.value = strconv.FormatInt(current, 10)
	s.data[key] = item
	return current, nil
}

func (s *MemoryCacheService) Expire(ctx context.Context, key string, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.load(key)
	if !ok {
		return fmt.Errorf("key not found")
	}
	item.expiration = s.now().Add(expiration)
	s.data[key] = item
	return nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
