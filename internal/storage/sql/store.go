package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempinbox/backend/internal/domain"
)

// 单条 IN 语句最多携带的地址数
const sweepBatchSize = 500

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 GORM 的 SQL 存储实现（支持 PostgreSQL、MySQL 和 SQLite）
//
// 地址唯一性依赖主键约束，其余操作都是单语句，无需显式事务。
type Store struct {
	db *gorm.DB
}

// Dialector 根据数据库类型返回对应的 GORM dialector
func Dialector(dbType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbType)
	}
}

// Open 连接数据库、配置连接池并执行迁移
func Open(ctx context.Context, dbType, dsn string, pool PoolConfig) (*Store, error) {
	dialector, err := Dialector(dbType, dsn)
	if err != nil {
		return nil, err
	}
	return NewStoreWithDialector(ctx, dialector, pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(ctx context.Context, dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 自动迁移 addresses 和 inbox 表
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&domain.Address{}, &domain.Message{})
}

// CreateAddress 插入新地址，主键冲突时返回 ErrDuplicateKey
func (s *Store) CreateAddress(ctx context.Context, address *domain.Address) error {
	row := domain.Address{
		Value:     address.Value,
		CreatedAt: address.CreatedAt.UTC(),
		ExpiresAt: address.ExpiresAt.UTC(),
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("insert address: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDuplicateKey
	}
	return nil
}

// FindLiveAddress 查找 expires_at > now 的地址
func (s *Store) FindLiveAddress(ctx context.Context, value string, now time.Time) (*domain.Address, error) {
	var address domain.Address
	err := s.db.WithContext(ctx).
		Where("value = ? AND expires_at > ?", value, now.UTC()).
		First(&address).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query address: %w", err)
	}
	return &address, nil
}

// AppendMessage 插入邮件
func (s *Store) AppendMessage(ctx context.Context, message *domain.Message) error {
	row := *message
	row.ReceivedAt = row.ReceivedAt.UTC()
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages 按接收时间倒序返回邮件
func (s *Store) ListMessages(ctx context.Context, addressValue string) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	err := s.db.WithContext(ctx).
		Where("email_address = ?", addressValue).
		Order("received_at DESC").
		Order("id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// MarkRead 标记已读，未匹配任何行时不报错
func (s *Store) MarkRead(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// DeleteMessage 删除邮件，未匹配任何行时不报错
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{}).Error; err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SweepExpired 分批删除过期地址的邮件，再删除地址本身
//
// 中途失败时已删除的部分不回滚，下一次清理会处理剩余数据。
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []string
	err := s.db.WithContext(ctx).
		Model(&domain.Address{}).
		Where("expires_at <= ?", now.UTC()).
		Pluck("value", &expired).Error
	if err != nil {
		return 0, fmt.Errorf("select expired addresses: %w", err)
	}

	removed := 0
	for start := 0; start < len(expired); start += sweepBatchSize {
		end := min(start+sweepBatchSize, len(expired))
		batch := expired[start:end]

		if err := s.db.WithContext(ctx).Where("email_address IN ?", batch).Delete(&domain.Message{}).Error; err != nil {
			return removed, fmt.Errorf("delete expired messages: %w", err)
		}

		result := s.db.WithContext(ctx).
			Where("value IN ? AND expires_at <= ?", batch, now.UTC()).
			Delete(&domain.Address{})
		if result.Error != nil {
			return removed, fmt.Errorf("delete expired addresses: %w", result.Error)
		}
		removed += int(result.RowsAffected)
	}

	return removed, nil
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ domain.Store = (*Store)(nil)
