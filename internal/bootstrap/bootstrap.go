// Package bootstrap 组装各进程共享的存储与可观测性组件
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crowdfund/internal/auth"
	"crowdfund/internal/cache"
	"crowdfund/internal/clock"
	"crowdfund/internal/config"
	"crowdfund/internal/service/lifecycle"
	"crowdfund/internal/store"
	"crowdfund/internal/store/memstore"
	"crowdfund/internal/store/pgstore"
	"crowdfund/pkg/db"
	"crowdfund/pkg/otel"
	"crowdfund/pkg/outbox"
	"crowdfund/pkg/redis"
)

const serviceVersion = "1.0.0"

// Storage 是业务存储与其 outbox 的组合
type Storage struct {
	Store  store.Store
	Events outbox.EventStore
	// InProcess 为 true 时事件只存在于本进程，需要本进程自行派发
	InProcess bool

	close func()
}

func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage 按 store.driver 选择 PostgreSQL 或内存实现
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store; state is lost on restart")
		ms := memstore.New()
		return &Storage{Store: ms, Events: ms, InProcess: true}, nil

	case config.StoreDriverPostgres:
		pool, err := db.NewConnection(cfg.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		ps := pgstore.New(pool, logger)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Database connection established")
		return &Storage{
			Store:  ps,
			Events: outbox.NewRepository(pool),
			close:  pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// InitTracing 初始化 OpenTelemetry；失败时降级为不追踪
func InitTracing(service string, cfg *config.Config, logger *zap.Logger) func() {
	shutdown, err := otel.Init(otel.Config{
		ServiceName:    service,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize OpenTelemetry, tracing disabled", zap.Error(err))
		return func() {}
	}
	return shutdown
}

// OpenProductCache 连接 Redis 并返回商品缓存；Redis 不可用时返回 nil，读请求直接走存储
func OpenProductCache(cfg *config.Config, logger *zap.Logger) (*cache.ProductCache, func()) {
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, product cache disabled", zap.Error(err))
		return nil, func() {}
	}
	return cache.NewProductCache(rdb, cfg.Cache.TTL, logger), func() { _ = rdb.Close() }
}

// NewLifecycleService 构造引擎；pc 非 nil 时每次提交后失效对应商品缓存
func NewLifecycleService(st store.Store, pc *cache.ProductCache, logger *zap.Logger, opts ...lifecycle.Option) *lifecycle.Service {
	if pc != nil {
		opts = append(opts, lifecycle.WithAfterCommit(pc.Invalidate))
	}
	return lifecycle.NewService(st, auth.ContextAuthenticator{}, clock.System{}, logger, opts...)
}
