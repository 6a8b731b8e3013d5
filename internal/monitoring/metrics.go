package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tempinbox"

// Metrics 监控指标
//
// 所有 Record 方法允许在 nil 接收者上调用，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 地址指标
	AddressesGenerated  prometheus.Counter
	GenerateCollisions  prometheus.Counter
	GenerateExhaustions prometheus.Counter

	// 邮件指标
	MessagesReceived *prometheus.CounterVec
	IngestFailures   *prometheus.CounterVec
	MessagesRead     prometheus.Counter
	MessagesDeleted  prometheus.Counter

	// 清理指标
	SweepRuns     *prometheus.CounterVec
	SweepRemoved  prometheus.Counter
	SweepDuration prometheus.Histogram
	SweepsSkipped prometheus.Counter

	// SMTP 指标
	SMTPConnections prometheus.Gauge

	// 错误指标
	PanicsTotal     *prometheus.CounterVec
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在独立的 registry 上创建监控指标，并注册 Go 运行时和进程采集器
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		AddressesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "addresses_generated_total",
			Help:      "Total number of disposable addresses generated",
		}),
		GenerateCollisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_collisions_total",
			Help:      "Total number of token collisions during generation",
		}),
		GenerateExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_generation_exhausted_total",
			Help:      "Total number of generations that ran out of attempts",
		}),

		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of stored inbound messages",
			},
			[]string{"transport"},
		),
		IngestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_failures_total",
				Help:      "Total number of inbound messages dropped",
			},
			[]string{"transport"},
		),
		MessagesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_read_total",
			Help:      "Total number of mark-read requests",
		}),
		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Total number of delete requests",
		}),

		SweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of expiry sweeps",
			},
			[]string{"result"},
		),
		SweepRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_addresses_total",
			Help:      "Total number of expired addresses removed",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Expiry sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_skipped_total",
			Help:      "Total number of sweep triggers skipped by the rate bound or a full queue",
		}),

		SMTPConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "smtp_connections",
			Help:      "Number of open SMTP connections",
		}),

		PanicsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
			[]string{"component"},
		),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Total number of requests rejected by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAddressGenerated 记录地址生成结果
func (m *Metrics) RecordAddressGenerated(collisions int) {
	if m == nil {
		return
	}
	m.AddressesGenerated.Inc()
	m.GenerateCollisions.Add(float64(collisions))
}

// RecordGenerationExhausted 记录重试次数用尽
func (m *Metrics) RecordGenerationExhausted(collisions int) {
	if m == nil {
		return
	}
	m.GenerateExhaustions.Inc()
	m.GenerateCollisions.Add(float64(collisions))
}

// RecordMessageReceived 记录成功入库的邮件
func (m *Metrics) RecordMessageReceived(transport string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(transport).Inc()
}

// RecordIngestFailure 记录被丢弃的邮件
func (m *Metrics) RecordIngestFailure(transport string) {
	if m == nil {
		return
	}
	m.IngestFailures.WithLabelValues(transport).Inc()
}

// RecordMessageRead 记录已读操作
func (m *Metrics) RecordMessageRead() {
	if m == nil {
		return
	}
	m.MessagesRead.Inc()
}

// RecordMessageDeleted 记录删除操作
func (m *Metrics) RecordMessageDeleted() {
	if m == nil {
		return
	}
	m.MessagesDeleted.Inc()
}

// RecordSweep 记录一次清理
func (m *Metrics) RecordSweep(removed int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepRuns.WithLabelValues(result).Inc()
	m.SweepRemoved.Add(float64(removed))
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordSweepSkipped 记录被跳过的清理触发
func (m *Metrics) RecordSweepSkipped() {
	if m == nil {
		return
	}
	m.SweepsSkipped.Inc()
}

// SMTPConnectionOpened SMTP 连接数加一
func (m *Metrics) SMTPConnectionOpened() {
	if m == nil {
		return
	}
	m.SMTPConnections.Inc()
}

// SMTPConnectionClosed SMTP 连接数减一
func (m *Metrics) SMTPConnectionClosed() {
	if m == nil {
		return
	}
	m.SMTPConnections.Dec()
}

// RecordPanic 记录被恢复的 panic
func (m *Metrics) RecordPanic(component string) {
	if m == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(component).Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// Registry 返回底层 registry，测试中用于读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus 抓取端点
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
