package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/pool"
)

// 单次后台清理的超时时间
const sweepTimeout = 30 * time.Second

// Sweeper 删除过期地址及其邮件
//
// Trigger 由每个 API 请求调用，不阻塞请求；两次清理之间至少间隔 minGap，
// 协程池队列已满时直接跳过，下一次触发会重新处理。定时任务走 Enqueue，不会被跳过。
type Sweeper struct {
	store   domain.Store
	pool    *pool.WorkerPool
	minGap  time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
	lastRun atomic.Int64 // 上次派发清理的 UnixNano
}

// NewSweeper 创建过期清理器
func NewSweeper(store domain.Store, workers *pool.WorkerPool, minGap time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:   store,
		pool:    workers,
		minGap:  minGap,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Sweep 同步执行一次清理，返回删除的地址数
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.store.SweepExpired(ctx, s.now())
	s.metrics.RecordSweep(removed, time.Since(start), err)
	if err != nil {
		return removed, fmt.Errorf("sweep expired: %w", err)
	}
	if removed > 0 {
		s.logger.Info("清理过期地址", zap.Int("removed", removed), zap.Duration("took", time.Since(start)))
	}
	return removed, nil
}

// Trigger 异步派发一次清理，返回是否真正派发
func (s *Sweeper) Trigger() bool {
	now := s.now().UnixNano()
	last := s.lastRun.Load()
	if last != 0 && now-last < int64(s.minGap) {
		s.metrics.RecordSweepSkipped()
		return false
	}
	if !s.lastRun.CompareAndSwap(last, now) {
		s.metrics.RecordSweepSkipped()
		return false
	}

	dispatched := s.pool.TrySubmit(s.run)
	if !dispatched {
		s.metrics.RecordSweepSkipped()
	}
	return dispatched
}

// Enqueue 派发一次清理，不受 minGap 限制，队列满时等待直到 ctx 结束
func (s *Sweeper) Enqueue(ctx context.Context) error {
	s.lastRun.Store(s.now().UnixNano())
	return s.pool.Submit(ctx, s.run)
}

// Schedule 注册定时清理任务，ctx 结束后不再派发
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		err := s.Enqueue(ctx)
		if err != nil && !errors.Is(err, pool.ErrStopped) && ctx.Err() == nil {
			s.logger.Warn("定时清理派发失败", zap.Error(err))
		}
	})
}

func (s *Sweeper) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	if _, err := s.Sweep(runCtx); err != nil {
		s.logger.Warn("后台清理失败", zap.Error(err))
	}
}
