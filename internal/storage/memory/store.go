package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempinbox/backend/internal/domain"
)

// Store 使用内存保存地址与邮件，主要用于开发和测试。
//
// 所有 map 由同一把读写锁保护，返回值都是副本。
type Store struct {
	mu        sync.RWMutex
	addresses map[string]*domain.Address
	messages  map[string]*domain.Message     // messageID -> message
	byAddress map[string]map[string]struct{} // address -> messageIDs
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		addresses: make(map[string]*domain.Address),
		messages:  make(map[string]*domain.Message),
		byAddress: make(map[string]map[string]struct{}),
	}
}

// CreateAddress 保存新地址。
func (s *Store) CreateAddress(ctx context.Context, address *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addresses[address.Value]; exists {
		return domain.ErrDuplicateKey
	}
	cp := *address
	s.addresses[address.Value] = &cp
	return nil
}

// FindLiveAddress 查找未过期的地址。
func (s *Store) FindLiveAddress(ctx context.Context, value string, now time.Time) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	address, ok := s.addresses[value]
	if !ok || !address.IsLive(now) {
		return nil, domain.ErrNotFound
	}
	cp := *address
	return &cp, nil
}

// AppendMessage 追加邮件。
func (s *Store) AppendMessage(ctx context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.messages[message.ID]; exists {
		delete(s.byAddress[old.AddressValue], old.ID)
	}

	cp := *message
	s.messages[message.ID] = &cp
	ids, ok := s.byAddress[message.AddressValue]
	if !ok {
		ids = make(map[string]struct{})
		s.byAddress[message.AddressValue] = ids
	}
	ids[message.ID] = struct{}{}
	return nil
}

// ListMessages 按接收时间倒序列出邮件。
func (s *Store) ListMessages(ctx context.Context, addressValue string) ([]domain.Message, error) {
	s.mu.RLock()
	ids := s.byAddress[addressValue]
	result := make([]domain.Message, 0, len(ids))
	for id := range ids {
		result = append(result, *s.messages[id])
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	return result, nil
}

// MarkRead 标记已读。
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message, ok := s.messages[id]; ok {
		message.Read = true
	}
	return nil
}

// DeleteMessage 删除邮件。
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteMessageLocked(id)
	return nil
}

// SweepExpired 删除过期地址及其邮件。
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, address := range s.addresses {
		if address.IsLive(now) {
			continue
		}
		for id := range s.byAddress[value] {
			s.deleteMessageLocked(id)
		}
		delete(s.byAddress, value)
		delete(s.addresses, value)
		removed++
	}
	return removed, nil
}

// Ping 内存存储始终可用。
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

func (s *Store) deleteMessageLocked(id string) {
	message, ok := s.messages[id]
	if !ok {
		return
	}
	delete(s.messages, id)
	if ids, ok := s.byAddress[message.AddressValue]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byAddress, message.AddressValue)
		}
	}
}

var _ domain.Store = (*Store)(nil)
