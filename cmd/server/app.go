/*
 * @Description: 应用装配：配置、基础设施、服务、路由与后台任务
 * @Author: 安知鱼
 * @Date: 2025-10-17 10:35:28
 * @LastEditTime: 2026-10-17 14:48:30
 * @LastEditors: 安知鱼
 */
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/app/listener"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/app/middleware"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/app/task"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/database"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/sqlrepo"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/router"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/storage"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/event"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/metrics"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/version"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/config"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	asset_handler "github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/handler/asset"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/idgen"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/asset"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/checksum"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
)

const shutdownTimeout = 15 * time.Second

// App 结构体，用于封装应用的所有核心组件
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	engine     *gin.Engine
	taskBroker *task.Broker
	gcJob      *task.ChecksumGCJob
	sqlDB      *sql.DB
	eventBus   *event.EventBus
	cacheSvc   utility.CacheService
	assetSvc   asset.Service
	appVersion string
}

// PolicyFromConfig 由配置构建唯一的存储策略
func PolicyFromConfig(cfg *config.Config) *model.StoragePolicy {
	policyType := constant.StoragePolicyType(cfg.GetString(config.KeyStorageType))
	if policyType == "" {
		policyType = constant.PolicyTypeLocal
	}
	return &model.StoragePolicy{
		Name:       string(policyType),
		Type:       policyType,
		Server:     cfg.GetString(config.KeyStorageServer),
		BucketName: cfg.GetString(config.KeyStorageBucket),
		AccessKey:  cfg.GetString(config.KeyStorageAK),
		SecretKey:  cfg.GetString(config.KeyStorageSK),
		BasePath:   cfg.GetString(config.KeyStorageBasePath),
		Settings: model.StoragePolicySettings{
			constant.CDNDomainSettingKey: cfg.GetString(config.KeyStorageCDN),
			constant.RegionSettingKey:    cfg.GetString(config.KeyStorageRegion),
		},
	}
}

func millis(cfg *config.Config, key string) time.Duration {
	return time.Duration(cfg.GetInt(key)) * time.Millisecond
}

// NewApp 是应用的构造函数，它执行所有的初始化和依赖注入工作
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	appVersion := version.GetVersion()

	// --- Phase 1: 初始化基础设施 ---
	sqlDB, dialect, err := database.NewSQLDB(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("创建数据库连接池失败: %w", err)
	}
	if err := database.NewMigrationService(sqlDB, dialect, logger).RunMigrations(context.Background()); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	// Redis 不可用时自动降级到内存缓存
	redisClient := database.NewRedisClient(context.Background(), cfg, logger)
	cacheSvc := utility.NewCacheServiceWithFallback(redisClient, logger)

	eventBus := event.NewEventBus(logger)

	cleanup := func() {
		logger.Info("执行清理操作：关闭事件总线与数据库连接...")
		eventBus.Shutdown()
		if mem, ok := cacheSvc.(*utility.MemoryCacheService); ok {
			mem.Stop()
		}
		closeRedis(redisClient, logger)
		if err := sqlDB.Close(); err != nil {
			logger.Warn("关闭数据库连接失败", zap.Error(err))
		}
	}

	// --- Phase 2: 指标与存储 ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	policy := PolicyFromConfig(cfg)
	store, err := storage.NewObjectStore(policy, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("初始化存储驱动失败: %w", err)
	}
	adapter := storage.NewAdapter(store, storage.AdapterOptions{
		BasePath:         policy.CleanBasePath(),
		MaxRetries:       cfg.GetInt(config.KeyUploadRetries),
		BackoffBase:      millis(cfg, config.KeyUploadBackoffMS),
		DeleteBatchDelay: millis(cfg, config.KeyDeleteBatchMS),
	}, logger, appMetrics)

	// --- Phase 3: 数据仓库与业务服务 ---
	checksumSvc := checksum.NewService(sqlrepo.NewChecksumRepo(sqlDB, dialect), logger)
	assetRepo := sqlrepo.NewAssetRepo(sqlDB, dialect)
	locker := utility.NewKeyedLocker()

	encoder, err := idgen.NewEncoder(cfg.GetString(config.KeyIDSeed))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("初始化ID编码器失败: %w", err)
	}

	assetSvc := asset.NewService(
		checksumSvc,
		assetRepo,
		adapter,
		policy.Type,
		locker,
		encoder,
		eventBus,
		appMetrics,
		logger,
		asset.Options{
			Concurrency: cfg.GetInt(config.KeyUploadConc),
			MaxSize:     int64(cfg.GetInt(config.KeyUploadMaxSizeMB)) << 20,
		},
	)

	// --- Phase 4: 后台任务与事件监听 ---
	gcJob := task.NewChecksumGCJob(checksumSvc, adapter, locker, appMetrics, logger, 0)
	taskBroker := task.NewBroker(gcJob, cfg.GetString(config.KeyChecksumGCSpec), logger)
	listener.NewChecksumGCListener(eventBus, taskBroker, logger)

	// --- Phase 5: HTTP 层 ---
	secret := cfg.GetString(config.KeyJWTSecret)
	if secret == "" {
		generated, err := idgen.GenerateRandomSeed()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		secret = generated
		logger.Warn("未配置 System.JWTSecret，已生成临时密钥，重启后已签发的令牌将失效")
	}

	if !cfg.GetBool(config.KeyServerDebug) {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(logger))

	localRoot := ""
	if local, ok := store.(*storage.LocalStore); ok && policy.CDNDomain() == "" {
		localRoot = local.Root()
	}

	cacheTTL := time.Duration(cfg.GetInt(config.KeyCacheTTLSeconds)) * time.Second
	router.NewRouter(
		asset_handler.NewAssetHandler(assetSvc, cacheSvc, cacheTTL, logger),
		middleware.NewMiddleware([]byte(secret), logger),
		appMetrics,
		registry,
		sqlDB.PingContext,
		localRoot,
	).Setup(engine)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		taskBroker: taskBroker,
		gcJob:      gcJob,
		sqlDB:      sqlDB,
		eventBus:   eventBus,
		cacheSvc:   cacheSvc,
		assetSvc:   assetSvc,
		appVersion: appVersion,
	}
	return app, cleanup, nil
}

func closeRedis(client *redis.Client, logger *zap.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("关闭 Redis 连接失败", zap.Error(err))
	}
}

func (a *App) PrintBanner() {
	a.logger.Info("BD Travel Spirit 支持系统",
		zap.String("version", version.GetVersionString()),
		zap.String("storage", a.cfg.GetString(config.KeyStorageType)),
		zap.String("cache", string(utility.GetCacheServiceType(a.cacheSvc))))
}

// Engine 返回 gin 引擎，主要用于测试
func (a *App) Engine() *gin.Engine {
	return a.engine
}

// GCJob 返回校验和回收任务，供命令行手动触发
func (a *App) GCJob() *task.ChecksumGCJob {
	return a.gcJob
}

func (a *App) AssetService() asset.Service {
	return a.assetSvc
}

func (a *App) Version() string {
	return a.appVersion
}

// Run 启动后台任务与 HTTP 服务，ctx 取消后优雅退出
func (a *App) Run(ctx context.Context) error {
	if err := a.taskBroker.RegisterCronJobs(); err != nil {
		return fmt.Errorf("注册周期任务失败: %w", err)
	}
	a.taskBroker.Start()

	port := a.cfg.GetString(config.KeyServerPort)
	if port == "" {
		port = "8091"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("应用程序启动成功", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("收到退出信号，正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务关闭失败: %w", err)
	}
	return nil
}

// Stop 停止后台任务，等待已排队的任务完成
func (a *App) Stop() {
	if a.taskBroker != nil {
		a.taskBroker.Stop()
	}
}
