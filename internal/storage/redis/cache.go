package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
)

// CachedStore 在任意 domain.Store 之前加一层 Redis 读缓存
//
// 地址按剩余有效期缓存；邮件列表按固定 TTL 缓存，写操作时失效。
// Redis 出错时只记录日志并直接访问底层存储。
type CachedStore struct {
	inner  domain.Store
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCachedStore 创建带缓存的存储
func NewCachedStore(inner domain.Store, client *goredis.Client, listTTL time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if listTTL <= 0 {
		listTTL = 30 * time.Second
	}
	return &CachedStore{
		inner:  inner,
		client: client,
		ttl:    listTTL,
		logger: logger,
		now:    time.Now,
	}
}

const (
	addressKeyPrefix  = "inbox:addr:"
	messagesKeyPrefix = "inbox:msgs:"

	scanBatch = 100
)

func addressKey(value string) string {
	return addressKeyPrefix + value
}

func messagesKey(value string) string {
	return messagesKeyPrefix + value
}

func ownerKey(messageID string) string {
	return fmt.Sprintf("inbox:msgaddr:%s", messageID)
}

// CreateAddress 写入底层存储后缓存地址
func (c *CachedStore) CreateAddress(ctx context.Context, address *domain.Address) error {
	if err := c.inner.CreateAddress(ctx, address); err != nil {
		return err
	}
	c.cacheAddress(ctx, address)
	return nil
}

// FindLiveAddress 优先读缓存，缓存中的地址同样按 now 判断是否过期
func (c *CachedStore) FindLiveAddress(ctx context.Context, value string, now time.Time) (*domain.Address, error) {
	data, err := c.client.Get(ctx, addressKey(value)).Bytes()
	switch {
	case err == nil:
		var address domain.Address
		if jsonErr := json.Unmarshal(data, &address); jsonErr == nil {
			if !address.IsLive(now) {
				return nil, domain.ErrNotFound
			}
			return &address, nil
		}
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("读取地址缓存失败", zap.String("address", value), zap.Error(err))
	}

	address, err := c.inner.FindLiveAddress(ctx, value, now)
	if err != nil {
		return nil, err
	}
	c.cacheAddress(ctx, address)
	return address, nil
}

// AppendMessage 写入邮件并使该地址的列表缓存失效
func (c *CachedStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	if err := c.inner.AppendMessage(ctx, message); err != nil {
		return err
	}
	c.invalidate(ctx, messagesKey(message.AddressValue))
	return nil
}

// ListMessages 优先返回缓存的列表
func (c *CachedStore) ListMessages(ctx context.Context, addressValue string) ([]domain.Message, error) {
	key := messagesKey(addressValue)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		messages := make([]domain.Message, 0)
		if jsonErr := json.Unmarshal(data, &messages); jsonErr == nil {
			return messages, nil
		}
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("读取邮件列表缓存失败", zap.String("address", addressValue), zap.Error(err))
	}

	messages, err := c.inner.ListMessages(ctx, addressValue)
	if err != nil {
		return nil, err
	}
	c.cacheMessages(ctx, addressValue, messages)
	return messages, nil
}

// MarkRead 更新底层存储并使所属列表缓存失效
func (c *CachedStore) MarkRead(ctx context.Context, id string) error {
	if err := c.inner.MarkRead(ctx, id); err != nil {
		return err
	}
	c.invalidateOwner(ctx, id, false)
	return nil
}

// DeleteMessage 删除邮件并使所属列表缓存失效
func (c *CachedStore) DeleteMessage(ctx context.Context, id string) error {
	if err := c.inner.DeleteMessage(ctx, id); err != nil {
		return err
	}
	c.invalidateOwner(ctx, id, true)
	return nil
}

// SweepExpired 清理底层存储后删除已过期地址的缓存键
func (c *CachedStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed, err := c.inner.SweepExpired(ctx, now)
	if err != nil {
		return removed, err
	}
	c.forgetExpired(ctx, now)
	return removed, nil
}

// Ping 同时检查底层存储和 Redis
func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx); err != nil {
		return err
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接和底层存储
func (c *CachedStore) Close() error {
	return errors.Join(c.client.Close(), c.inner.Close())
}

func (c *CachedStore) cacheAddress(ctx context.Context, address *domain.Address) {
	ttl := address.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(address)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, addressKey(address.Value), data, ttl).Err(); err != nil {
		c.logger.Warn("写入地址缓存失败", zap.String("address", address.Value), zap.Error(err))
	}
}

// cacheMessages 缓存列表，同时记录每封邮件所属地址，供已读和删除时定位列表
func (c *CachedStore) cacheMessages(ctx context.Context, addressValue string, messages []domain.Message) {
	data, err := json.Marshal(messages)
	if err != nil {
		return
	}

	_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, m := range messages {
			pipe.Set(ctx, ownerKey(m.ID), addressValue, c.ttl)
		}
		pipe.Set(ctx, messagesKey(addressValue), data, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("写入邮件列表缓存失败", zap.String("address", addressValue), zap.Error(err))
	}
}

// forgetExpired 删除 ExpiresAt <= now 的地址缓存及其列表缓存，
// 再删除所属地址已不在缓存中的列表
func (c *CachedStore) forgetExpired(ctx context.Context, now time.Time) {
	var stale []string

	addrIter := c.client.Scan(ctx, 0, addressKey("*"), scanBatch).Iterator()
	for addrIter.Next(ctx) {
		key := addrIter.Val()
		data, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var address domain.Address
		if json.Unmarshal(data, &address) != nil || !address.IsLive(now) {
			stale = append(stale, key, messagesKey(strings.TrimPrefix(key, addressKeyPrefix)))
		}
	}
	if err := addrIter.Err(); err != nil {
		c.logger.Warn("扫描地址缓存失败", zap.Error(err))
		return
	}
	if len(stale) > 0 {
		c.invalidate(ctx, stale...)
	}

	stale = stale[:0]
	listIter := c.client.Scan(ctx, 0, messagesKey("*"), scanBatch).Iterator()
	for listIter.Next(ctx) {
		key := listIter.Val()
		exists, err := c.client.Exists(ctx, addressKey(strings.TrimPrefix(key, messagesKeyPrefix))).Result()
		if err == nil && exists == 0 {
			stale = append(stale, key)
		}
	}
	if err := listIter.Err(); err != nil {
		c.logger.Warn("扫描邮件列表缓存失败", zap.Error(err))
		return
	}
	if len(stale) > 0 {
		c.invalidate(ctx, stale...)
	}
}

func (c *CachedStore) invalidateOwner(ctx context.Context, messageID string, forget bool) {
	owner, err := c.client.Get(ctx, ownerKey(messageID)).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("读取邮件归属缓存失败", zap.String("id", messageID), zap.Error(err))
		}
		return
	}

	keys := []string{messagesKey(owner)}
	if forget {
		keys = append(keys, ownerKey(messageID))
	}
	c.invalidate(ctx, keys...)
}

func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("清除缓存失败", zap.Strings("keys", keys), zap.Error(err))
	}
}

var _ domain.Store = (*CachedStore)(nil)
