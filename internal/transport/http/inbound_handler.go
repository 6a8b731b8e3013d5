package httptransport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/mimeparse"
	"tempinbox/backend/internal/normalizer"
	"tempinbox/backend/internal/service"
)

const maxInboundMIMEBytes = 20 << 20

// MailReceiver 接收入站邮件，错误由实现方自行记录
type MailReceiver interface {
	Receive(ctx context.Context, env service.Envelope)
}

// InboundHandler 处理 Mailgun 风格的入站 Webhook
type InboundHandler struct {
	receiver   MailReceiver
	domain     string
	signingKey string
	maxAge     time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewInboundHandler 创建入站 Webhook 处理器，signingKey 为空时不校验签名
func NewInboundHandler(receiver MailReceiver, mailDomain, signingKey string, maxAge time.Duration, logger *zap.Logger) *InboundHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &InboundHandler{
		receiver:   receiver,
		domain:     strings.ToLower(strings.TrimSpace(mailDomain)),
		signingKey: signingKey,
		maxAge:     maxAge,
		logger:     logger,
		now:        time.Now,
	}
}

// VerifySignature 校验 HMAC-SHA256(timestamp + token)
func VerifySignature(timestamp, token, signature, signingKey string) bool {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))

	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func (h *InboundHandler) verify(c *gin.Context) (string, bool) {
	if h.signingKey == "" {
		return "", true
	}

	timestamp := c.PostForm("timestamp")
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return MsgInvalidTimestamp, false
	}
	age := h.now().Sub(time.Unix(ts, 0))
	if age > h.maxAge || age < -h.maxAge {
		return MsgInvalidTimestamp, false
	}

	if !VerifySignature(timestamp, c.PostForm("token"), c.PostForm("signature"), h.signingKey) {
		return MsgInvalidSignature, false
	}
	return "", true
}

// Receive 接收入站邮件
// @Summary 入站 Webhook
// @Description 接收邮件服务商推送的邮件，签名校验通过后总是返回 200，避免服务商重试
// @Tags Inbound
// @Accept multipart/form-data
// @Produce json
// @Param recipient formData string true "收件人，可用逗号分隔多个"
// @Param sender formData string false "发件人"
// @Param subject formData string false "主题"
// @Param body-html formData string false "HTML 正文"
// @Param body-plain formData string false "纯文本正文"
// @Param body-mime formData string false "完整 MIME 原文"
// @Success 200 {object} map[string]interface{}
// @Failure 406 {object} errorResponse
// @Router /api/inbound [post]
func (h *InboundHandler) Receive(c *gin.Context) {
	if msg, valid := h.verify(c); !valid {
		h.logger.Warn("入站 Webhook 被拒绝",
			zap.String("reason", msg),
			zap.String("ip", c.ClientIP()),
		)
		c.JSON(http.StatusNotAcceptable, errorResponse{Error: msg})
		return
	}

	recipients := h.recipients(c.PostForm("recipient"))
	if len(recipients) == 0 {
		h.logger.Info("入站邮件没有本域收件人",
			zap.String("recipient", c.PostForm("recipient")),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	raw := h.rawMIME(c)
	subject := c.PostForm("subject")
	from := c.PostForm("sender")

	var parsed *mimeparse.Parsed
	if len(raw) > 0 {
		p, err := mimeparse.Parse(raw)
		if err != nil {
			h.logger.Warn("MIME 解析失败，按原始内容处理", zap.Error(err))
		}
		parsed = p
		if parsed != nil {
			if subject == "" {
				subject = parsed.Subject
			}
			if from == "" {
				from = parsed.From
			}
		}
	}

	for _, to := range recipients {
		message := normalizer.RawMessage{
			HTML: c.PostForm("body-html"),
			Text: c.PostForm("body-plain"),
		}
		if len(raw) > 0 {
			message = parsed.RawMessage(raw)
		}

		h.receiver.Receive(c.Request.Context(), service.Envelope{
			To:        to,
			From:      from,
			Subject:   subject,
			Message:   message,
			Transport: "webhook",
		})
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "accepted": len(recipients)})
}

// recipients 拆分逗号分隔的收件人，只保留本域地址
func (h *InboundHandler) recipients(field string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(field, ",") {
		addr := domain.NormalizeAddress(part)
		if addr == "" || !domain.HasDomain(addr, h.domain) {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// rawMIME 读取 body-mime，Mailgun 可能以普通字段或文件形式提交
func (h *InboundHandler) rawMIME(c *gin.Context) []byte {
	if v := c.PostForm("body-mime"); v != "" {
		return []byte(v)
	}

	file, err := c.FormFile("body-mime")
	if err != nil {
		return nil
	}
	src, err := file.Open()
	if err != nil {
		h.logger.Warn("打开 MIME 附件失败", zap.Error(err))
		return nil
	}
	defer src.Close()

	raw, err := io.ReadAll(io.LimitReader(src, maxInboundMIMEBytes))
	if err != nil {
		h.logger.Warn("读取 MIME 附件失败", zap.Error(err))
		return nil
	}
	return raw
}
