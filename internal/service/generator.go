package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// 大于等于该值的随机字节被丢弃，保证取模后分布均匀
	tokenRejectAbove = 256 - 256%len(tokenAlphabet)

	defaultTokenLength = 12
	defaultMaxAttempts = 10
)

// GeneratorConfig 地址生成参数
type GeneratorConfig struct {
	Domain      string
	TTL         time.Duration
	TokenLength int
	MaxAttempts int
}

// AddressGenerator 生成随机一次性地址
type AddressGenerator struct {
	store   domain.Store
	cfg     GeneratorConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics
	random  io.Reader
	now     func() time.Time
}

// NewAddressGenerator 创建地址生成器
func NewAddressGenerator(store domain.Store, cfg GeneratorConfig, logger *zap.Logger, metrics *monitoring.Metrics) *AddressGenerator {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.DefaultTTL
	}
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = defaultTokenLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AddressGenerator{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		random:  rand.Reader,
		now:     time.Now,
	}
}

// TTL 返回地址有效期
func (g *AddressGenerator) TTL() time.Duration {
	return g.cfg.TTL
}

// Generate 创建并保存一个新地址
//
// token 冲突时换一个重新尝试，超过 MaxAttempts 返回 ErrGenerationExhausted。
func (g *AddressGenerator) Generate(ctx context.Context) (*domain.Address, error) {
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		token, err := g.token()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		now := g.now().UTC()
		address := &domain.Address{
			Value:     token + "@" + g.cfg.Domain,
			CreatedAt: now,
			ExpiresAt: now.Add(g.cfg.TTL),
		}

		err = g.store.CreateAddress(ctx, address)
		if err == nil {
			g.metrics.RecordAddressGenerated(attempt)
			return address, nil
		}
		if !errors.Is(err, domain.ErrDuplicateKey) {
			return nil, fmt.Errorf("create address: %w", err)
		}

		g.logger.Debug("地址冲突，重新生成", zap.String("address", address.Value), zap.Int("attempt", attempt+1))
	}

	g.metrics.RecordGenerationExhausted(g.cfg.MaxAttempts)
	g.logger.Error("地址生成重试次数用尽", zap.Int("attempts", g.cfg.MaxAttempts))
	return nil, domain.ErrGenerationExhausted
}

// token 使用拒绝采样从 [a-z0-9] 中均匀取字符
func (g *AddressGenerator) token() (string, error) {
	out := make([]byte, 0, g.cfg.TokenLength)
	buf := make([]byte, g.cfg.TokenLength*2)

	for len(out) < g.cfg.TokenLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= tokenRejectAbove {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == g.cfg.TokenLength {
				break
			}
		}
	}
	return string(out), nil
}
