package smtp

import (
	"context"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/mimeparse"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
)

const (
	defaultMaxMessageBytes = 10 << 20
	defaultMaxRecipients   = 50
	deliverTimeout         = 30 * time.Second
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本服务域名的邮件，不做中继。收件地址是否已生成不在 RCPT 阶段检查，
// 写入后由过期清理负责回收，和 HTTP Webhook 的行为保持一致。
type Backend struct {
	ingestor        *service.Ingestor
	domain          string
	maxMessageBytes int64
	maxRecipients   int
	limiter         *ConnectionLimiter
	logger          *zap.Logger
	metrics         *monitoring.Metrics
	baseCtx         context.Context
}

// Option 配置 Backend
type Option func(*Backend)

// WithLimits 设置单封邮件大小和单次会话收件人数量上限
func WithLimits(maxMessageBytes int64, maxRecipients int) Option {
	return func(b *Backend) {
		if maxMessageBytes > 0 {
			b.maxMessageBytes = maxMessageBytes
		}
		if maxRecipients > 0 {
			b.maxRecipients = maxRecipients
		}
	}
}

// WithConnectionLimiter 设置连接限流器
func WithConnectionLimiter(limiter *ConnectionLimiter) Option {
	return func(b *Backend) {
		b.limiter = limiter
	}
}

// WithBaseContext 设置投递使用的父 context，服务关闭时取消
func WithBaseContext(ctx context.Context) Option {
	return func(b *Backend) {
		if ctx != nil {
			b.baseCtx = ctx
		}
	}
}

// NewBackend 创建 SMTP Backend。
func NewBackend(ingestor *service.Ingestor, mailDomain string, logger *zap.Logger, metrics *monitoring.Metrics, opts ...Option) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		ingestor:        ingestor,
		domain:          domain.NormalizeAddress(mailDomain),
		maxMessageBytes: defaultMaxMessageBytes,
		maxRecipients:   defaultMaxRecipients,
		logger:          logger,
		metrics:         metrics,
		baseCtx:         context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		b.metrics.RecordRateLimitBlock("smtp")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	b.metrics.SMTPConnectionOpened()

	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{backend: b, remote: remote}, nil
}

type session struct {
	backend     *Backend
	remote      string
	fromAddress string
	recipients  []string
	closed      bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 外部域名一律返回 550，防止被当作开放中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)

	if err := domain.ValidateAddress(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !domain.HasDomain(addr, s.backend.domain) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	if len(s.recipients) >= s.backend.maxRecipients {
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "too many recipients",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxMessageBytes))
	if err != nil {
		return err
	}

	parsed, err := mimeparse.Parse(raw)
	if err != nil {
		s.backend.logger.Warn("MIME 解析失败，按原始内容处理",
			zap.String("remote", s.remote),
			zap.Error(err),
		)
	}

	subject := ""
	if parsed != nil {
		subject = parsed.Subject
	}

	ctx, cancel := context.WithTimeout(s.backend.baseCtx, deliverTimeout)
	defer cancel()

	for _, rcpt := range s.recipients {
		// 每个收件人需要独立的原始流
		s.backend.ingestor.Receive(ctx, service.Envelope{
			To:        rcpt,
			From:      domain.NormalizeAddress(s.fromAddress),
			Subject:   subject,
			Message:   parsed.RawMessage(raw),
			Transport: "smtp",
		})
	}

	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.backend.metrics.SMTPConnectionClosed()
	return nil
}
