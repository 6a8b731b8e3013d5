package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
)

// InboxService 封装收件箱读取、已读和删除操作
type InboxService struct {
	store   domain.Store
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewInboxService 创建收件箱服务
func NewInboxService(store domain.Store, metrics *monitoring.Metrics) *InboxService {
	return &InboxService{
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// List 返回有效地址下的全部邮件，按接收时间倒序
//
// 地址为空返回 ErrMalformedInput，不存在或已过期返回 ErrNotFound。
func (s *InboxService) List(ctx context.Context, address string) ([]domain.Message, error) {
	value := domain.NormalizeAddress(address)
	if value == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrMalformedInput)
	}

	if _, err := s.store.FindLiveAddress(ctx, value, s.now()); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, value)
}

// MarkRead 标记邮件已读，未知 ID 同样视为成功
func (s *InboxService) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrMalformedInput)
	}
	if err := s.store.MarkRead(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordMessageRead()
	return nil
}

// Delete 删除邮件，未知 ID 同样视为成功
func (s *InboxService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrMalformedInput)
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordMessageDeleted()
	return nil
}
