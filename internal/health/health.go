package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
)

const (
	defaultPingTimeout    = 3 * time.Second
	defaultGoroutineLimit = 10000
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	store   domain.Store
	logger  *zap.Logger
	timeout time.Duration
}

// NewHealthChecker 创建健康检查器
//
// liveness 只看进程本身，readiness 额外要求存储可用。
func NewHealthChecker(store domain.Store, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		store:   store,
		logger:  logger,
		timeout: defaultPingTimeout,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(defaultGoroutineLimit))
	hc.health.AddReadinessCheck("store", hc.storeCheck)

	return hc
}

func (hc *HealthChecker) storeCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	if err := hc.store.Ping(ctx); err != nil {
		hc.logger.Warn("存储健康检查失败", zap.Error(err))
		return err
	}
	return nil
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行一次完整检查，返回每项结果以及是否全部通过
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := map[string]string{
		"store":     "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := hc.storeCheck(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
		return results, false
	}
	return results, true
}
