package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/storage/memory"
	"tempinbox/backend/internal/storage/redis"
	sqlstore "tempinbox/backend/internal/storage/sql"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("内存存储", func(t *testing.T) {
		store, err := Open(ctx, &config.Config{Database: config.DatabaseConfig{Type: "memory"}}, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("SQLite存储", func(t *testing.T) {
		cfg := &config.Config{Database: config.DatabaseConfig{
			Type: "sqlite",
			DSN:  filepath.Join(t.TempDir(), "inbox.db"),
		}}

		store, err := Open(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &sqlstore.Store{}, store)
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("启用Redis缓存", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{
			Database: config.DatabaseConfig{Type: "memory"},
			Redis:    config.RedisConfig{Enabled: true, Address: mr.Addr()},
		}

		store, err := Open(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &redis.CachedStore{}, store)
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("Redis连接失败", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := &config.Config{
			Database: config.DatabaseConfig{Type: "memory"},
			Redis:    config.RedisConfig{Enabled: true, Address: addr},
		}

		_, err := Open(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})
}
