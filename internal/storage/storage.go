// Package storage 根据配置组装收件箱存储后端。
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage/memory"
	"tempinbox/backend/internal/storage/redis"
	sqlstore "tempinbox/backend/internal/storage/sql"
)

// Open 按 database.type 创建存储，启用 Redis 时再包一层缓存
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.Store, error) {
	var store domain.Store

	switch cfg.Database.Type {
	case "memory":
		store = memory.NewStore()
		logger.Info("使用内存存储")
	default:
		sqlStore, err := sqlstore.Open(ctx, cfg.Database.Type, cfg.Database.DSN, sqlstore.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
		}
		store = sqlStore
		logger.Info("使用 SQL 存储", zap.String("type", cfg.Database.Type))
	}

	if !cfg.Redis.Enabled {
		return store, nil
	}

	client, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("启用 Redis 缓存",
		zap.String("address", cfg.Redis.Address),
		zap.Int("db", cfg.Redis.DB),
		zap.Duration("cache_ttl", cfg.Redis.CacheTTL),
	)
	return redis.NewCachedStore(store, client, cfg.Redis.CacheTTL, logger), nil
}
