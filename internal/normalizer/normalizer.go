// Package normalizer 将入站邮件的 HTML、纯文本或原始流统一转换为 (纯文本, HTML) 两种形式。
package normalizer

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
)

const (
	// Placeholder 正文为空时使用的占位文本
	Placeholder = "No content"
	// TruncationMarker 正文被截断时追加的标记
	TruncationMarker = "\n\n[Email truncated...]"
	// MaxPlainTextRunes 原始流正文保留的最大字符数
	MaxPlainTextRunes = 5000
	// DefaultMaxRawBytes 原始流最多读取的字节数
	DefaultMaxRawBytes = 10 << 20
)

// RawMessage 入站邮件的三种可能来源，按 HTML > Text > Raw 的优先级选择
type RawMessage struct {
	HTML string
	Text string
	Raw  io.Reader
}

// Body 规范化结果，两个字段都保证非空
type Body struct {
	PlainText string
	HTML      string
}

// Normalizer 把入站邮件转换为规范化正文，永远不返回错误
type Normalizer interface {
	Normalize(ctx context.Context, msg RawMessage) Body
}

// HeuristicNormalizer 基于正则的实现
type HeuristicNormalizer struct {
	logger      *zap.Logger
	maxRawBytes int64
}

// Option 配置 HeuristicNormalizer
type Option func(*HeuristicNormalizer)

// WithMaxRawBytes 限制原始流读取上限
func WithMaxRawBytes(n int64) Option {
	return func(h *HeuristicNormalizer) {
		if n > 0 {
			h.maxRawBytes = n
		}
	}
}

// NewHeuristicNormalizer 创建正则规范化器
func NewHeuristicNormalizer(logger *zap.Logger, opts ...Option) *HeuristicNormalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HeuristicNormalizer{
		logger:      logger,
		maxRawBytes: DefaultMaxRawBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Normalize 按优先级选择来源并生成正文
func (h *HeuristicNormalizer) Normalize(ctx context.Context, msg RawMessage) Body {
	var body Body

	switch {
	case msg.HTML != "":
		body.HTML = msg.HTML
		body.PlainText = StripHTML(msg.HTML)
	case msg.Text != "":
		body.PlainText = msg.Text
		body.HTML = textToHTML(msg.Text)
	case msg.Raw != nil:
		raw, err := h.readRaw(msg.Raw)
		if err != nil {
			h.logger.Warn("读取原始邮件流失败，使用占位正文", zap.Error(err))
			break
		}
		body.PlainText = ExtractRawBody(raw)
	}

	return finalize(body)
}

// finalize 保证两个字段都非空
func finalize(body Body) Body {
	body.PlainText = strings.TrimSpace(body.PlainText)
	if body.PlainText == "" {
		body.PlainText = Placeholder
	}
	if strings.TrimSpace(body.HTML) == "" {
		body.HTML = textToHTML(body.PlainText)
	}
	return body
}

func textToHTML(text string) string {
	return strings.ReplaceAll(text, "\n", "<br>")
}
