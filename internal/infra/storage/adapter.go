/*
 * @Description: 资源上传适配器，在厂商驱动之上统一探测、超时、重试与冲突处理
 * @Author: 安知鱼
 * @Date: 2026-10-14 13:58:44
 * @LastEditTime: 2026-10-15 10:17:32
 * @LastEditors: 安知鱼
 */
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/metrics"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// CreateOptions 控制一次上传
type CreateOptions struct {
	Checksum    string
	FileName    string
	ContentType string
	// Timeout 为 0 时按文件大小推算
	Timeout time.Duration
	// MaxRetries 为 0 时使用适配器默认值
	MaxRetries int
}

// DeleteManyResult 批量删除的结果
type DeleteManyResult struct {
	Success []string `json:"success"`
	Failed  []string `json:"failed"`
}

// AssetStorageProvider 是上层服务使用的存储接口
type AssetStorageProvider interface {
	Create(ctx context.Context, content []byte, opts CreateOptions) (*model.UploadedAsset, error)
	GetByChecksum(ctx context.Context, checksum string) (*model.UploadedAsset, error)
	Update(ctx context.Context, oldID string, content []byte, opts CreateOptions) (*model.UploadedAsset, error)
	Delete(ctx context.Context, id string) bool
	DeleteMany(ctx context.Context, ids []string) *DeleteManyResult
}

// AdapterOptions 适配器参数
type AdapterOptions struct {
	BasePath         string
	MaxRetries       int
	BackoffBase      time.Duration
	DeleteBatchSize  int
	DeleteBatchDelay time.Duration
}

func (o AdapterOptions) withDefaults() AdapterOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.DeleteBatchSize <= 0 {
		o.DeleteBatchSize = 10
	}
	if o.DeleteBatchDelay < 0 {
		o.DeleteBatchDelay = 0
	}
	return o
}

// Adapter 实现了 AssetStorageProvider
type Adapter struct {
	store   ObjectStore
	opts    AdapterOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(base time.Duration) time.Duration
}

// NewAdapter 创建上传适配器
func NewAdapter(store ObjectStore, opts AdapterOptions, logger *zap.Logger, m *metrics.Metrics) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		store:   store,
		opts:    opts.withDefaults(),
		logger:  logger.With(zap.String("provider", string(store.Name()))),
		metrics: m,
		sleep:   sleepContext,
		jitter:  randomJitter,
	}
}

var _ AssetStorageProvider = (*Adapter)(nil)

// objectKey 有校验和时按内容寻址，否则按日期 + uuid 生成
func (a *Adapter) objectKey(opts CreateOptions) string {
	if opts.Checksum != "" {
		return ChecksumObjectKey(a.opts.BasePath, opts.Checksum)
	}
	ext := strings.ToLower(path.Ext(opts.FileName))
	name := uuid.NewString() + ext
	return strings.TrimPrefix(path.Join(a.opts.BasePath, time.Now().Format("2006/01"), name), "/")
}

func (a *Adapter) toUploaded(info *ObjectInfo, opts CreateOptions) *model.UploadedAsset {
	url := info.URL
	if url == "" {
		url = a.store.PublicURL(info.Key)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = opts.ContentType
	}
	return &model.UploadedAsset{
		URL:         url,
		ProviderID:  info.Key,
		ContentType: contentType,
		FileName:    opts.FileName,
		FileSize:    info.Size,
		Checksum:    opts.Checksum,
	}
}

// wrapContextErr 把超时映射成 *TimeoutError，其它取消原样返回
func wrapContextErr(ctx context.Context, key string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Key: key, Timeout: timeout}
	}
	return ctx.Err()
}

// Create 上传内容并返回上传结果。
// 若对象已存在（探测命中或条件写入冲突），直接返回已有对象。
func (a *Adapter) Create(ctx context.Context, content []byte, opts CreateOptions) (*model.UploadedAsset, error) {
	if opts.ContentType == "" {
		opts.ContentType = mimetype.Detect(content).String()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = TimeoutForSize(int64(len(content)))
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = a.opts.MaxRetries
	}
	key := a.objectKey(opts)
	provider := string(a.store.Name())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if opts.Checksum != "" {
		existing, err := a.store.Head(ctx, key)
		switch {
		case err == nil:
			a.logger.Info("对象已存在，跳过上传", zap.String("key", key))
			return a.toUploaded(existing, opts), nil
		case errors.Is(err, ErrObjectNotFound):
		case ctx.Err() != nil:
			return nil, wrapContextErr(ctx, key, timeout)
		default:
			return nil, fmt.Errorf("探测对象 %s 失败: %w", key, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			a.metrics.UploadRetry(provider)
			delay := backoffDelay(a.opts.BackoffBase, attempt-1, a.jitter)
			if err := a.sleep(ctx, delay); err != nil {
				return nil, wrapContextErr(ctx, key, timeout)
			}
		}

		info, err := a.store.Put(ctx, key, content, opts.ContentType)
		if err == nil {
			a.metrics.UploadAttempt(provider, true)
			a.logger.Info("上传成功", zap.String("key", key), zap.Int("attempt", attempt+1))
			return a.toUploaded(info, opts), nil
		}
		a.metrics.UploadAttempt(provider, false)

		if errors.Is(err, ErrObjectExists) {
			// 条件写入冲突说明另一个写入者已经完成，重新探测并复用
			existing, probeErr := a.store.Head(ctx, key)
			if probeErr == nil {
				a.logger.Info("条件写入冲突，复用已有对象", zap.String("key", key))
				return a.toUploaded(existing, opts), nil
			}
			err = fmt.Errorf("对象已存在但探测失败: %w", probeErr)
		}
		if ctx.Err() != nil {
			return nil, wrapContextErr(ctx, key, timeout)
		}

		lastErr = err
		a.logger.Warn("上传失败",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetries", maxRetries),
			zap.Error(err))
	}

	return nil, fmt.Errorf("上传 %s 失败，已尝试 %d 次: %w", key, maxRetries, lastErr)
}

// GetByChecksum 按校验和查询已存在的对象
func (a *Adapter) GetByChecksum(ctx context.Context, checksum string) (*model.UploadedAsset, error) {
	if checksum == "" {
		return nil, ErrObjectNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, TimeoutForSize(0))
	defer cancel()

	key := ChecksumObjectKey(a.opts.BasePath, checksum)
	info, err := a.store.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	return a.toUploaded(info, CreateOptions{Checksum: checksum}), nil
}

// Update 先上传新对象，成功后再删除旧对象；上传失败时旧对象保持不变
func (a *Adapter) Update(ctx context.Context, oldID string, content []byte, opts CreateOptions) (*model.UploadedAsset, error) {
	created, err := a.Create(ctx, content, opts)
	if err != nil {
		return nil, err
	}
	if oldID != "" && oldID != created.ProviderID {
		if !a.Delete(ctx, oldID) {
			a.logger.Warn("替换后删除旧对象失败", zap.String("key", oldID))
		}
	}
	return created, nil
}

// Delete 删除对象，对象不存在同样视为成功
func (a *Adapter) Delete(ctx context.Context, id string) bool {
	provider := string(a.store.Name())
	err := a.store.Delete(ctx, id)
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		a.metrics.Delete(provider, true)
		return true
	}
	a.metrics.Delete(provider, false)
	a.logger.Error("删除对象失败", zap.String("key", id), zap.Error(err))
	return false
}

// DeleteMany 分批删除，批内并发，批间由限速器控制节奏
func (a *Adapter) DeleteMany(ctx context.Context, ids []string) *DeleteManyResult {
	result := &DeleteManyResult{Success: []string{}, Failed: []string{}}
	if len(ids) == 0 {
		return result
	}

	limit := rate.Inf
	if a.opts.DeleteBatchDelay > 0 {
		limit = rate.Every(a.opts.DeleteBatchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	size := a.opts.DeleteBatchSize
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		if err := limiter.Wait(ctx); err != nil {
			result.Failed = append(result.Failed, ids[start:]...)
			a.logger.Warn("批量删除被中断", zap.Int("remaining", len(ids)-start), zap.Error(err))
			break
		}

		batch := ids[start:end]
		outcomes := make([]bool, len(batch))
		var wg sync.WaitGroup
		for i, id := range batch {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				outcomes[i] = a.Delete(ctx, id)
			}(i, id)
		}
		wg.Wait()

		for i, ok := range outcomes {
			if ok {
				result.Success = append(result.Success, batch[i])
			} else {
				result.Failed = append(result.Failed, batch[i])
			}
		}
	}
	return result
}
