/*
 * @Description: 资源上传编排服务：解码、去重、上传、回滚
 * @Author: 安知鱼
 * @Date: 2026-10-15 18:32:06
 * @LastEditTime: 2026-10-16 11:27:48
 * @LastEditors: 安知鱼
 */
package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/storage"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/event"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/metrics"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/repository"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/idgen"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/checksum"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

// Result 是批量上传中单个条目的结果。Err 非空时其余字段无意义。
type Result struct {
	Index        int                   `json:"index"`
	Asset        *model.AssetResponse  `json:"asset,omitempty"`
	Record       *model.ChecksumRecord `json:"-"`
	Deduplicated bool                  `json:"deduplicated"`
	Err          error                 `json:"-"`
}

// Stats 资源统计
type Stats struct {
	TotalAssets    int64 `json:"total_assets"`
	PendingOrphans int   `json:"pending_orphans"`
}

// AssetEventPayload 资源事件载荷
type AssetEventPayload struct {
	PublicID string `json:"public_id"`
	Checksum string `json:"checksum"`
}

// OrphanEventPayload 在校验和引用归零时发布
type OrphanEventPayload struct {
	Checksum  string `json:"checksum"`
	ObjectKey string `json:"object_key"`
}

// Options 编排参数
type Options struct {
	Concurrency int
	MaxSize     int64
}

// Service 定义了资源上传相关的业务逻辑接口。
type Service interface {
	UploadMany(ctx context.Context, payloads []Payload) []Result
	Upload(ctx context.Context, payload Payload) (*Result, error)
	Get(ctx context.Context, publicID string) (*model.AssetResponse, error)
	Delete(ctx context.Context, publicID string) error
	Stats(ctx context.Context) (*Stats, error)
}

type service struct {
	checksums    checksum.Service
	assets       repository.AssetRepository
	provider     storage.AssetStorageProvider
	providerType constant.StoragePolicyType
	locker       *utility.KeyedLocker
	encoder      *idgen.Encoder
	bus          *event.EventBus
	metrics      *metrics.Metrics
	logger       *zap.Logger
	opts         Options
}

// NewService 是 service 的构造函数，注入所有依赖。
func NewService(
	checksums checksum.Service,
	assets repository.AssetRepository,
	provider storage.AssetStorageProvider,
	providerType constant.StoragePolicyType,
	locker *utility.KeyedLocker,
	encoder *idgen.Encoder,
	bus *event.EventBus,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &service{
		checksums:    checksums,
		assets:       assets,
		provider:     provider,
		providerType: providerType,
		locker:       locker,
		encoder:      encoder,
		bus:          bus,
		metrics:      m,
		logger:       logger,
		opts:         opts,
	}
}

// UploadMany 并发上传多个资源，每个条目独立成功或失败，结果顺序与输入一致
func (s *service) UploadMany(ctx context.Context, payloads []Payload) []Result {
	results := make([]Result, len(payloads))
	sem := semaphore.NewWeighted(int64(s.opts.Concurrency))
	var wg sync.WaitGroup

	for i, payload := range payloads {
		results[i].Index = i
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(payloads); j++ {
				results[j] = Result{Index: j, Err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int, payload Payload) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := s.upload(ctx, payload)
			if err != nil {
				results[i] = Result{Index: i, Err: err}
				return
			}
			res.Index = i
			results[i] = *res
		}(i, payload)
	}
	wg.Wait()
	return results
}

// Upload 上传单个资源
func (s *service) Upload(ctx context.Context, payload Payload) (*Result, error) {
	return s.upload(ctx, payload)
}

func (s *service) upload(ctx context.Context, payload Payload) (*Result, error) {
	decoded, err := decodePayload(payload, s.opts.MaxSize)
	if err != nil {
		return nil, err
	}
	sum := s.checksums.Compute(decoded.content)

	// 同一内容的预留、上传与回收串行执行
	s.locker.Lock(sum)
	defer s.locker.Unlock(sum)

	reservation, err := s.checksums.Reserve(ctx, sum, checksum.ReserveOptions{
		ContentType: decoded.contentType,
		FileSize:    int64(len(decoded.content)),
		Provider:    s.providerType,
	})
	if err != nil {
		return nil, err
	}

	record := reservation.Record
	deduplicated := !reservation.IsNew && record.IsUploaded()
	if !deduplicated {
		uploaded, err := s.provider.Create(ctx, decoded.content, storage.CreateOptions{
			Checksum:    sum,
			FileName:    decoded.fileName,
			ContentType: decoded.contentType,
		})
		if err != nil {
			return nil, s.rollback(ctx, sum, err)
		}
		if err := s.checksums.Attach(ctx, sum, uploaded); err != nil {
			return nil, s.rollback(ctx, sum, err)
		}
		record.ObjectKey = uploaded.ProviderID
		record.PublicURL = uploaded.URL
		record.ContentType = uploaded.ContentType
		record.FileSize = uploaded.FileSize
	}

	asset := &model.Asset{
		ChecksumID: record.ID,
		Checksum:   sum,
		FileName:   decoded.fileName,
	}
	if err := s.assets.Create(ctx, asset); err != nil {
		return nil, s.rollback(ctx, sum, fmt.Errorf("创建资源记录失败: %w", err))
	}

	resp, err := s.toResponse(asset, record)
	if err != nil {
		return nil, err
	}
	resp.Deduplicated = deduplicated
	if deduplicated {
		s.metrics.DedupHit()
	}

	s.logger.Info("资源上传完成",
		zap.String("publicID", resp.ID),
		zap.String("checksum", sum),
		zap.Bool("deduplicated", deduplicated),
		zap.Int("refCount", record.RefCount))
	s.publish(event.AssetCreated, AssetEventPayload{PublicID: resp.ID, Checksum: sum})

	return &Result{Asset: resp, Record: record, Deduplicated: deduplicated}, nil
}

// rollback 撤销本次预留，保证失败的上传不会留下多余的引用
func (s *service) rollback(ctx context.Context, sum string, cause error) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := s.checksums.Release(releaseCtx, sum); err != nil {
		s.logger.Error("回滚校验和引用失败", zap.String("checksum", sum), zap.Error(err))
		return errors.Join(cause, err)
	}
	s.logger.Warn("上传失败，已回滚引用", zap.String("checksum", sum), zap.Error(cause))
	return cause
}

func (s *service) toResponse(asset *model.Asset, record *model.ChecksumRecord) (*model.AssetResponse, error) {
	publicID, err := s.encoder.Encode(asset.ID, idgen.EntityTypeAsset)
	if err != nil {
		return nil, err
	}
	return &model.AssetResponse{
		ID:          publicID,
		URL:         record.PublicURL,
		Checksum:    asset.Checksum,
		FileName:    asset.FileName,
		ContentType: record.ContentType,
		FileSize:    record.FileSize,
		RefCount:    record.RefCount,
		CreatedAt:   asset.CreatedAt,
	}, nil
}

func (s *service) publish(topic event.Topic, payload interface{}) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

// Get 按公共 ID 查询资源
func (s *service) Get(ctx context.Context, publicID string) (*model.AssetResponse, error) {
	id, err := s.encoder.Decode(publicID, idgen.EntityTypeAsset)
	if err != nil {
		return nil, err
	}
	asset, err := s.assets.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := s.checksums.FindByID(ctx, asset.ChecksumID)
	if err != nil {
		return nil, fmt.Errorf("查询资源 %s 的物理文件失败: %w", publicID, err)
	}
	return s.toResponse(asset, record)
}

// Delete 删除资源并释放其引用，引用归零时发布孤儿事件交由回收任务处理
func (s *service) Delete(ctx context.Context, publicID string) error {
	id, err := s.encoder.Decode(publicID, idgen.EntityTypeAsset)
	if err != nil {
		return err
	}
	asset, err := s.assets.FindByID(ctx, id)
	if err != nil {
		return err
	}

	s.locker.Lock(asset.Checksum)
	defer s.locker.Unlock(asset.Checksum)

	if err := s.assets.Delete(ctx, id); err != nil {
		return err
	}
	record, err := s.checksums.Release(ctx, asset.Checksum)
	if err != nil {
		return err
	}

	s.publish(event.AssetDeleted, AssetEventPayload{PublicID: publicID, Checksum: asset.Checksum})
	if record.RefCount == 0 {
		s.publish(event.ChecksumOrphaned, OrphanEventPayload{Checksum: record.Checksum, ObjectKey: record.ObjectKey})
	}
	return nil
}

// Stats 返回资源数量与待回收的孤儿数量
func (s *service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.assets.Count(ctx)
	if err != nil {
		return nil, err
	}
	orphans, err := s.checksums.Orphans(ctx, 1000)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalAssets: total, PendingOrphans: len(orphans)}, nil
}
