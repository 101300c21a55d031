/*
 * @Description: 一个带固定Worker池的异步事件总线
 * @Author: 安知鱼
 * @Date: 2025-07-10 19:06:12
 * @LastEditTime: 2026-10-15 17:20:44
 * @LastEditors: 安知鱼
 */
package event

import (
	"sync"

	"go.uber.org/zap"
)

// 定义事件类型
type Topic string

const (
	// 资源事件
	AssetCreated Topic = "asset:created"
	AssetDeleted Topic = "asset:deleted"
	// ChecksumOrphaned 在物理文件的引用计数归零时发布
	ChecksumOrphaned Topic = "checksum:orphaned"
)

// 事件处理器函数类型
type Handler func(payload interface{})

// Event 是在通道中传递的事件结构
type Event struct {
	Topic   Topic
	Payload interface{}
}

// EventBus 实现了基于Worker池的异步事件总线
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[Topic][]Handler
	eventChan chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    bool
	logger    *zap.Logger
}

// 定义Worker池和通道的配置
const (
	DefaultWorkerCount = 4
	DefaultChannelSize = 1024
)

// NewEventBus 创建并启动一个新的事件总线
func NewEventBus(logger *zap.Logger) *EventBus {
	return NewEventBusWithSize(logger, DefaultWorkerCount, DefaultChannelSize)
}

// NewEventBusWithSize 按指定的worker数与缓冲区大小创建事件总线
func NewEventBusWithSize(logger *zap.Logger, workers, buffer int) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	bus := &EventBus{
		handlers:  make(map[Topic][]Handler),
		eventChan: make(chan Event, buffer),
		logger:    logger.Named("event"),
	}
	for i := 0; i < workers; i++ {
		bus.wg.Add(1)
		go bus.worker(i + 1)
	}
	return bus
}

// worker 是消费者，不断从通道中读取并处理事件
func (b *EventBus) worker(workerID int) {
	defer b.wg.Done()
	b.logger.Debug("worker started", zap.Int("worker", workerID))

	for event := range b.eventChan {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[event.Topic]...)
		b.mu.RUnlock()

		for _, handler := range handlers {
			b.dispatch(event, handler)
		}
	}
	b.logger.Debug("worker stopped", zap.Int("worker", workerID))
}

// dispatch 执行单个处理器，处理器的 panic 不会终止 worker
func (b *EventBus) dispatch(event Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("事件处理器发生panic", zap.String("topic", string(event.Topic)), zap.Any("panic", r))
		}
	}()
	handler(event.Payload)
}

// Subscribe 订阅一个事件
func (b *EventBus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish 发布一个事件，永远不会阻塞调用者。
// 通道已满或总线已关闭时事件会被丢弃，返回 false。
func (b *EventBus) Publish(topic Topic, payload interface{}) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	select {
	case b.eventChan <- Event{Topic: topic, Payload: payload}:
		return true
	default:
		b.logger.Warn("事件通道已满，丢弃事件", zap.String("topic", string(topic)))
		return false
	}
}

// Shutdown 优雅地关闭事件总线，等待已入队的事件处理完毕
func (b *EventBus) Shutdown() {
	b.closeOnce.Do(func() {
		b.logger.Info("正在关闭事件总线")
		b.mu.Lock()
		b.closed = true
		close(b.eventChan)
		b.mu.Unlock()
		b.wg.Wait()
		b.logger.Info("事件总线的所有worker已停止")
	})
}
