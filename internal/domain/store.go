package domain

import (
	"context"
	"time"
)

// Store 是地址和邮件的唯一持有者，返回给调用方的都是副本
type Store interface {
	// CreateAddress 保存新地址，值已存在时返回 ErrDuplicateKey
	CreateAddress(ctx context.Context, address *Address) error
	// FindLiveAddress 查找在 now 时刻仍然有效的地址，不存在或已过期返回 ErrNotFound
	FindLiveAddress(ctx context.Context, value string, now time.Time) (*Address, error)

	// AppendMessage 追加一封邮件，不校验地址是否存在
	AppendMessage(ctx context.Context, message *Message) error
	// ListMessages 按接收时间倒序返回地址下的全部邮件，没有邮件时返回空切片
	ListMessages(ctx context.Context, addressValue string) ([]Message, error)
	// MarkRead 标记已读，未知 ID 不报错
	MarkRead(ctx context.Context, id string) error
	// DeleteMessage 删除邮件，未知 ID 不报错
	DeleteMessage(ctx context.Context, id string) error

	// SweepExpired 删除所有 ExpiresAt <= now 的地址及其邮件，返回删除的地址数
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
