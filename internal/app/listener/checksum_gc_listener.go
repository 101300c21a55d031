/*
 * @Description: 监听校验和孤儿事件，派发回收任务。
 * @Author: 安知鱼
 * @Date: 2025-07-18 17:30:00
 * @LastEditTime: 2026-10-16 17:41:19
 * @LastEditors: 安知鱼
 */
package listener

import (
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/event"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/asset"
)

// GCDispatcher 由任务调度器实现
type GCDispatcher interface {
	DispatchChecksumGC() bool
}

// ChecksumGCListener 在引用归零时触发一次回收，避免孤儿文件等到下一次周期任务才被清理。
type ChecksumGCListener struct {
	dispatcher GCDispatcher
	logger     *zap.Logger
}

// NewChecksumGCListener 订阅 ChecksumOrphaned 事件
func NewChecksumGCListener(eventBus *event.EventBus, dispatcher GCDispatcher, logger *zap.Logger) *ChecksumGCListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &ChecksumGCListener{dispatcher: dispatcher, logger: logger}
	eventBus.Subscribe(event.ChecksumOrphaned, l.handleChecksumOrphaned)
	return l
}

func (l *ChecksumGCListener) handleChecksumOrphaned(payload interface{}) {
	orphan, ok := payload.(asset.OrphanEventPayload)
	if !ok {
		l.logger.Error("ChecksumOrphaned 事件负载类型不正确", zap.Any("payload", payload))
		return
	}

	if !l.dispatcher.DispatchChecksumGC() {
		l.logger.Warn("回收任务派发失败，等待周期任务处理", zap.String("checksum", orphan.Checksum))
		return
	}
	l.logger.Debug("已为孤儿校验和派发回收", zap.String("checksum", orphan.Checksum), zap.String("objectKey", orphan.ObjectKey))
}
