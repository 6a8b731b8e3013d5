package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/logger"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/normalizer"
	"tempinbox/backend/internal/pool"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
	"tempinbox/backend/internal/storage"
	httptransport "tempinbox/backend/internal/transport/http"
)

// 清理任务队列长度，队列满时请求触发的清理直接跳过
const sweepQueueSize = 4

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempinbox server",
		zap.String("domain", cfg.Inbox.Domain),
		zap.Duration("ttl", cfg.Inbox.TTL),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 30*time.Second)
	store, err := storage.Open(openCtx, cfg, log)
	cancelOpen()
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("store close error", zap.Error(err))
		}
	}()
	log.Info("storage initialized",
		zap.String("type", cfg.Database.Type),
		zap.Bool("redis_cache", cfg.Redis.Enabled),
	)

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)

	// 初始化服务层
	generator := service.NewAddressGenerator(store, service.GeneratorConfig{
		Domain:      cfg.Inbox.Domain,
		TTL:         cfg.Inbox.TTL,
		TokenLength: cfg.Inbox.TokenLength,
		MaxAttempts: cfg.Inbox.MaxGenerateAttempts,
	}, log, metrics)
	ingestor := service.NewIngestor(store, normalizer.NewHeuristicNormalizer(log), log, metrics)
	inboxService := service.NewInboxService(store, metrics)

	var simulator *service.Simulator
	if cfg.Inbox.EnableSimulate {
		simulator = service.NewSimulator(store, ingestor)
	}

	sweepPool := pool.NewWorkerPool(cfg.Inbox.SweepWorkers, sweepQueueSize,
		pool.WithLogger(log),
		pool.WithPanicHook(func() { metrics.RecordPanic("sweeper") }),
	)
	sweeper := service.NewSweeper(store, sweepPool, cfg.Inbox.SweepMinGap, log, metrics)

	scheduler := cron.New()
	if _, err := sweeper.Schedule(ctx, scheduler, cfg.Inbox.SweepSchedule); err != nil {
		log.Fatal("failed to schedule sweeper", zap.Error(err))
	}

	deps := httptransport.RouterDependencies{
		Config:    cfg,
		Generator: generator,
		Inbox:     inboxService,
		Receiver:  ingestor,
		Sweeper:   sweeper,
		Health:    healthChecker,
		Metrics:   metrics,
		Logger:    log,
	}
	if simulator != nil {
		deps.Simulator = simulator
	}
	router := httptransport.NewRouter(deps)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	sweepPool.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		smtpServer = newSMTPServer(groupCtx, cfg, ingestor, log, metrics)
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 定时清理
	group.Go(func() error {
		log.Info("starting sweep scheduler", zap.String("schedule", cfg.Inbox.SweepSchedule))
		scheduler.Start()
		<-groupCtx.Done()
		<-scheduler.Stop().Done()
		log.Info("sweep scheduler stopped")
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("SMTP server shutdown warning", zap.Error(err))
			}
		}

		sweepPool.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// newSMTPServer 创建只收信的 SMTP 服务器
func newSMTPServer(ctx context.Context, cfg *config.Config, ingestor *service.Ingestor, log *zap.Logger, metrics *monitoring.Metrics) *gosmtp.Server {
	backend := smtp.NewBackend(ingestor, cfg.Inbox.Domain, log, metrics,
		smtp.WithLimits(cfg.SMTP.MaxMessageBytes, cfg.SMTP.MaxRecipients),
		smtp.WithConnectionLimiter(smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.MaxConnsPerSecond)),
		smtp.WithBaseContext(ctx),
	)

	server := gosmtp.NewServer(backend)
	server.Addr = cfg.SMTP.BindAddr
	server.Domain = cfg.SMTP.Domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	server.MaxRecipients = cfg.SMTP.MaxRecipients
	server.ErrorLog = zap.NewStdLog(log.Named("smtp"))
	return server
}
