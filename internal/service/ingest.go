package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/normalizer"
)

// Envelope 由收信传输层（SMTP、Webhook）构造的入站邮件
type Envelope struct {
	To        string
	From      string
	Subject   string
	Message   normalizer.RawMessage
	Transport string // 仅用于日志和指标，例如 "smtp"、"webhook"
}

func (e Envelope) transport() string {
	if e.Transport == "" {
		return "unknown"
	}
	return e.Transport
}

// Ingestor 把入站邮件规范化后写入存储
type Ingestor struct {
	store      domain.Store
	normalizer normalizer.Normalizer
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	now        func() time.Time
	newID      func() string
}

// NewIngestor 创建收信处理器
func NewIngestor(store domain.Store, n normalizer.Normalizer, logger *zap.Logger, metrics *monitoring.Metrics) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:      store,
		normalizer: n,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Receive 处理一封入站邮件，任何错误和 panic 都只记录日志，不会传回传输层
func (i *Ingestor) Receive(ctx context.Context, env Envelope) {
	transport := env.transport()

	defer func() {
		if r := recover(); r != nil {
			i.metrics.RecordPanic("ingest")
			i.metrics.RecordIngestFailure(transport)
			i.logger.Error("处理入站邮件时发生 panic",
				zap.Any("panic", r),
				zap.String("to", env.To),
				zap.String("transport", transport),
			)
		}
	}()

	if _, err := i.Deliver(ctx, env); err != nil {
		i.metrics.RecordIngestFailure(transport)
		i.logger.Error("保存入站邮件失败",
			zap.String("from", env.From),
			zap.String("to", env.To),
			zap.String("transport", transport),
			zap.Error(err),
		)
	}
}

// Deliver 规范化并保存邮件，返回保存的副本
func (i *Ingestor) Deliver(ctx context.Context, env Envelope) (*domain.Message, error) {
	to := domain.NormalizeAddress(env.To)
	if to == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrMalformedInput)
	}

	subject := env.Subject
	if strings.TrimSpace(subject) == "" {
		subject = domain.DefaultSubject
	}

	body := i.normalizer.Normalize(ctx, env.Message)

	message := &domain.Message{
		ID:           i.newID(),
		AddressValue: to,
		From:         strings.TrimSpace(env.From),
		Subject:      subject,
		PlainText:    body.PlainText,
		HTML:         body.HTML,
		ReceivedAt:   i.now().UTC(),
		Read:         false,
	}

	if err := i.store.AppendMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	i.metrics.RecordMessageReceived(env.transport())
	i.logger.Info("收到邮件",
		zap.String("id", message.ID),
		zap.String("from", message.From),
		zap.String("to", to),
		zap.String("transport", env.transport()),
	)
	return message, nil
}
