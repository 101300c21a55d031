/*
 * @Description: 基于字符串键的进程内互斥锁
 * @Author: 安知鱼
 * @Date: 2025-07-14 01:41:43
 * @LastEditTime: 2026-10-15 11:04:27
 * @LastEditors: 安知鱼
 */
package utility

import (
	"slices"
	"sync"
)

type keyedLock struct {
	mu      sync.Mutex
	waiters int
}

// KeyedLocker 提供了一个基于字符串键（例如，文件校验和）的锁机制。
// 它能确保对同一个键的耗时操作（如物理上传与回收）不会被并发执行。
// 锁只在单个进程内生效。
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewKeyedLocker 创建一个新的 KeyedLocker 实例。
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{
		locks: make(map[string]*keyedLock),
	}
}

// Lock 为给定的键获取一个锁。
// 如果另一个goroutine已经持有了该键的锁，当前goroutine将会阻塞等待，直到锁被释放。
func (l *KeyedLocker) Lock(key string) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &keyedLock{}
		l.locks[key] = lock
	}
	lock.waiters++
	l.mu.Unlock()

	lock.mu.Lock()
}

// Unlock 释放给定键的锁。没有等待者时条目会被移除，map 不会无限增长。
func (l *KeyedLocker) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		return
	}
	lock.waiters--
	if lock.waiters <= 0 {
		delete(l.locks, key)
	}
	lock.mu.Unlock()
}

// LockMany 按字典序获取多个键的锁，返回的函数按相反顺序释放。
// 固定的加锁顺序避免了两个批量操作互相等待。
func (l *KeyedLocker) LockMany(keys []string) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, key := range sorted {
		l.Lock(key)
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			l.Unlock(sorted[i])
		}
	}
}

// Len 返回当前被持有或等待中的键数量
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
