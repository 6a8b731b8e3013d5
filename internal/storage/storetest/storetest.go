// Package storetest 提供所有 domain.Store 实现共用的契约测试。
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/service"
)

// Factory 为每个子测试创建一个全新的空存储
type Factory func(t *testing.T) domain.Store

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newAddress(value string, createdAt time.Time) *domain.Address {
	return &domain.Address{
		Value:     value,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(domain.DefaultTTL),
	}
}

func newMessage(id, address string, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:           id,
		AddressValue: address,
		From:         "sender@example.com",
		Subject:      "subject " + id,
		PlainText:    "body " + id,
		HTML:         "<p>body " + id + "</p>",
		ReceivedAt:   receivedAt,
	}
}

// Run 执行完整的存储契约测试
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("创建地址", func(t *testing.T) {
		store := factory(t)

		require.NoError(t, store.CreateAddress(ctx, newAddress("abc@ainewmail.online", base)))

		got, err := store.FindLiveAddress(ctx, "abc@ainewmail.online", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "abc@ainewmail.online", got.Value)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.True(t, got.ExpiresAt.Equal(base.Add(domain.DefaultTTL)))
	})

	t.Run("重复地址返回ErrDuplicateKey", func(t *testing.T) {
		store := factory(t)

		require.NoError(t, store.CreateAddress(ctx, newAddress("dup@ainewmail.online", base)))
		err := store.CreateAddress(ctx, newAddress("dup@ainewmail.online", base.Add(time.Second)))

		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("过期地址查找不到", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.CreateAddress(ctx, newAddress("old@ainewmail.online", base)))

		_, err := store.FindLiveAddress(ctx, "old@ainewmail.online", base.Add(domain.DefaultTTL-time.Millisecond))
		assert.NoError(t, err)

		_, err = store.FindLiveAddress(ctx, "old@ainewmail.online", base.Add(domain.DefaultTTL))
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.FindLiveAddress(ctx, "missing@ainewmail.online", base)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("邮件按时间倒序列出", func(t *testing.T) {
		store := factory(t)
		addr := "list@ainewmail.online"
		require.NoError(t, store.CreateAddress(ctx, newAddress(addr, base)))

		require.NoError(t, store.AppendMessage(ctx, newMessage("m1", addr, base.Add(1*time.Second))))
		require.NoError(t, store.AppendMessage(ctx, newMessage("m3", addr, base.Add(3*time.Second))))
		require.NoError(t, store.AppendMessage(ctx, newMessage("m2", addr, base.Add(2*time.Second))))
		require.NoError(t, store.AppendMessage(ctx, newMessage("other", "other@ainewmail.online", base)))

		messages, err := store.ListMessages(ctx, addr)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, "m3", messages[0].ID)
		assert.Equal(t, "m2", messages[1].ID)
		assert.Equal(t, "m1", messages[2].ID)
		assert.Equal(t, "body m3", messages[0].PlainText)
		assert.Equal(t, "<p>body m3</p>", messages[0].HTML)
		assert.False(t, messages[0].Read)
	})

	t.Run("没有邮件时返回空切片", func(t *testing.T) {
		store := factory(t)

		messages, err := store.ListMessages(ctx, "empty@ainewmail.online")
		require.NoError(t, err)
		assert.NotNil(t, messages)
		assert.Empty(t, messages)
	})

	t.Run("追加邮件不校验地址", func(t *testing.T) {
		store := factory(t)

		require.NoError(t, store.AppendMessage(ctx, newMessage("orphan", "nobody@ainewmail.online", base)))

		messages, err := store.ListMessages(ctx, "nobody@ainewmail.online")
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("标记已读幂等", func(t *testing.T) {
		store := factory(t)
		addr := "read@ainewmail.online"
		require.NoError(t, store.AppendMessage(ctx, newMessage("r1", addr, base)))

		require.NoError(t, store.MarkRead(ctx, "r1"))
		require.NoError(t, store.MarkRead(ctx, "r1"))
		require.NoError(t, store.MarkRead(ctx, "unknown"))

		messages, err := store.ListMessages(ctx, addr)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.True(t, messages[0].Read)
	})

	t.Run("删除邮件幂等", func(t *testing.T) {
		store := factory(t)
		addr := "del@ainewmail.online"
		require.NoError(t, store.AppendMessage(ctx, newMessage("d1", addr, base)))
		require.NoError(t, store.AppendMessage(ctx, newMessage("d2", addr, base.Add(time.Second))))

		require.NoError(t, store.DeleteMessage(ctx, "d1"))
		require.NoError(t, store.DeleteMessage(ctx, "d1"))
		require.NoError(t, store.DeleteMessage(ctx, "unknown"))

		messages, err := store.ListMessages(ctx, addr)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "d2", messages[0].ID)
	})

	t.Run("返回值是副本", func(t *testing.T) {
		store := factory(t)
		addr := "copy@ainewmail.online"
		original := newAddress(addr, base)
		require.NoError(t, store.CreateAddress(ctx, original))
		original.ExpiresAt = base

		got, err := store.FindLiveAddress(ctx, addr, base.Add(time.Minute))
		require.NoError(t, err)
		got.ExpiresAt = base

		_, err = store.FindLiveAddress(ctx, addr, base.Add(time.Minute))
		assert.NoError(t, err)

		msg := newMessage("c1", addr, base)
		require.NoError(t, store.AppendMessage(ctx, msg))
		msg.Subject = "changed"
		messages, err := store.ListMessages(ctx, addr)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "subject c1", messages[0].Subject)
	})

	t.Run("清理过期地址和邮件", func(t *testing.T) {
		store := factory(t)
		expired := "gone@ainewmail.online"
		live := "live@ainewmail.online"
		require.NoError(t, store.CreateAddress(ctx, newAddress(expired, base)))
		require.NoError(t, store.CreateAddress(ctx, newAddress(live, base.Add(30*time.Minute))))
		require.NoError(t, store.AppendMessage(ctx, newMessage("g1", expired, base.Add(time.Minute))))
		require.NoError(t, store.AppendMessage(ctx, newMessage("g2", expired, base.Add(2*time.Minute))))
		require.NoError(t, store.AppendMessage(ctx, newMessage("l1", live, base.Add(31*time.Minute))))

		now := base.Add(domain.DefaultTTL)
		removed, err := store.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.FindLiveAddress(ctx, expired, base)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		messages, err := store.ListMessages(ctx, expired)
		require.NoError(t, err)
		assert.Empty(t, messages)

		_, err = store.FindLiveAddress(ctx, live, now)
		assert.NoError(t, err)
		messages, err = store.ListMessages(ctx, live)
		require.NoError(t, err)
		assert.Len(t, messages, 1)

		removed, err = store.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("按当前时间创建的地址清理后不可见", func(t *testing.T) {
		store := factory(t)
		now := time.Now()
		addr := "fresh@ainewmail.online"
		require.NoError(t, store.CreateAddress(ctx, newAddress(addr, now)))
		require.NoError(t, store.AppendMessage(ctx, newMessage("f1", addr, now)))

		_, err := store.FindLiveAddress(ctx, addr, now)
		require.NoError(t, err)
		messages, err := store.ListMessages(ctx, addr)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		removed, err := store.SweepExpired(ctx, now.Add(domain.DefaultTTL+time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.FindLiveAddress(ctx, addr, now)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		messages, err = store.ListMessages(ctx, addr)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("生成的地址过期一毫秒后被清理", func(t *testing.T) {
		store := factory(t)
		generator := service.NewAddressGenerator(store, service.GeneratorConfig{Domain: "ainewmail.online"}, nil, nil)

		address, err := generator.Generate(ctx)
		require.NoError(t, err)
		require.NoError(t, store.AppendMessage(ctx, newMessage("gen1", address.Value, address.CreatedAt)))
		messages, err := store.ListMessages(ctx, address.Value)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		removed, err := store.SweepExpired(ctx, address.CreatedAt.Add(3_600_001*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.FindLiveAddress(ctx, address.Value, address.CreatedAt)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		messages, err = store.ListMessages(ctx, address.Value)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("清理后可复用同一地址", func(t *testing.T) {
		store := factory(t)
		addr := "reuse@ainewmail.online"
		require.NoError(t, store.CreateAddress(ctx, newAddress(addr, base)))

		_, err := store.SweepExpired(ctx, base.Add(2*domain.DefaultTTL))
		require.NoError(t, err)

		assert.NoError(t, store.CreateAddress(ctx, newAddress(addr, base.Add(2*domain.DefaultTTL))))
	})

	t.Run("并发写入", func(t *testing.T) {
		store := factory(t)
		addr := "busy@ainewmail.online"

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("p%02d", i)
				assert.NoError(t, store.AppendMessage(ctx, newMessage(id, addr, base.Add(time.Duration(i)*time.Second))))
			}(i)
		}
		wg.Wait()

		messages, err := store.ListMessages(ctx, addr)
		require.NoError(t, err)
		assert.Len(t, messages, 50)
		assert.Equal(t, "p49", messages[0].ID)
	})

	t.Run("Ping", func(t *testing.T) {
		store := factory(t)
		assert.NoError(t, store.Ping(ctx))
	})
}
