package smtp

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempinbox/backend/internal/normalizer"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/storage/memory"
)

const testDomain = "ainewmail.online"

func newTestBackend(store *memory.Store, opts ...Option) *Backend {
	ingestor := service.NewIngestor(store, normalizer.NewHeuristicNormalizer(zap.NewNop()), zap.NewNop(), nil)
	return NewBackend(ingestor, testDomain, zap.NewNop(), nil, opts...)
}

func newTestSession(t *testing.T, b *Backend) *session {
	t.Helper()
	sess, err := b.NewSession(nil)
	require.NoError(t, err)
	return sess.(*session)
}

func smtpCode(err error) int {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code
	}
	return 0
}

func TestSession_Rcpt(t *testing.T) {
	testCases := []struct {
		name string
		to   string
		code int
	}{
		{name: "本域地址接受", to: "<abc123def456@ainewmail.online>", code: 0},
		{name: "大小写不敏感", to: "ABC123DEF456@AINEWMAIL.ONLINE", code: 0},
		{name: "外部域名拒绝中继", to: "someone@gmail.com", code: 550},
		{name: "子域名不属于本域", to: "x@mx.ainewmail.online", code: 550},
		{name: "缺少@", to: "not-an-address", code: 501},
		{name: "空地址", to: "", code: 501},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sess := newTestSession(t, newTestBackend(memory.NewStore()))
			err := sess.Rcpt(tc.to, nil)
			if tc.code == 0 {
				assert.NoError(t, err)
				assert.Len(t, sess.recipients, 1)
				return
			}
			assert.Equal(t, tc.code, smtpCode(err))
			assert.Empty(t, sess.recipients)
		})
	}

	t.Run("超过收件人上限", func(t *testing.T) {
		sess := newTestSession(t, newTestBackend(memory.NewStore(), WithLimits(0, 2)))
		require.NoError(t, sess.Rcpt("a1@ainewmail.online", nil))
		require.NoError(t, sess.Rcpt("a2@ainewmail.online", nil))

		err := sess.Rcpt("a3@ainewmail.online", nil)
		assert.Equal(t, 452, smtpCode(err))
	})
}

func TestSession_Data(t *testing.T) {
	ctx := context.Background()

	t.Run("多部分邮件按HTML正文入库", func(t *testing.T) {
		store := memory.NewStore()
		sess := newTestSession(t, newTestBackend(store))

		require.NoError(t, sess.Mail("<Alice@Example.com>", nil))
		require.NoError(t, sess.Rcpt("box1@ainewmail.online", nil))
		require.NoError(t, sess.Rcpt("box2@ainewmail.online", nil))

		raw := "From: Alice <alice@example.com>\r\n" +
			"To: box1@ainewmail.online\r\n" +
			"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
			"\r\n" +
			"--b1\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Hi there plain\r\n" +
			"--b1\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<p>Hi</p><p>there</p>\r\n" +
			"--b1--\r\n"

		require.NoError(t, sess.Data(strings.NewReader(raw)))

		for _, addr := range []string{"box1@ainewmail.online", "box2@ainewmail.online"} {
			messages, err := store.ListMessages(ctx, addr)
			require.NoError(t, err)
			require.Len(t, messages, 1, addr)
			assert.Equal(t, "alice@example.com", messages[0].From)
			assert.Equal(t, "你好", messages[0].Subject)
			assert.Equal(t, "Hi there", messages[0].PlainText)
			assert.Equal(t, "<p>Hi</p><p>there</p>", strings.TrimSpace(messages[0].HTML))
			assert.False(t, messages[0].Read)
		}
	})

	t.Run("无MIME结构时从原始内容提取", func(t *testing.T) {
		store := memory.NewStore()
		sess := newTestSession(t, newTestBackend(store))
		require.NoError(t, sess.Rcpt("box@ainewmail.online", nil))

		raw := "Received: from mx.example.com\r\n" +
			"X-Spam: no\r\n" +
			"\r\n" +
			"plain body line\r\n"
		require.NoError(t, sess.Data(strings.NewReader(raw)))

		messages, err := store.ListMessages(ctx, "box@ainewmail.online")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "No Subject", messages[0].Subject)
		assert.Equal(t, "plain body line", messages[0].PlainText)
	})

	t.Run("超过大小限制的内容被截断", func(t *testing.T) {
		store := memory.NewStore()
		sess := newTestSession(t, newTestBackend(store, WithLimits(64, 0)))
		require.NoError(t, sess.Rcpt("box@ainewmail.online", nil))

		raw := "Subject: big\r\n\r\n" + strings.Repeat("x", 1000)
		require.NoError(t, sess.Data(strings.NewReader(raw)))

		messages, err := store.ListMessages(ctx, "box@ainewmail.online")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Less(t, len(messages[0].PlainText), 64)
	})

	t.Run("Reset清空收件人", func(t *testing.T) {
		store := memory.NewStore()
		sess := newTestSession(t, newTestBackend(store))
		require.NoError(t, sess.Rcpt("box@ainewmail.online", nil))

		sess.Reset()
		require.NoError(t, sess.Data(strings.NewReader("Subject: x\r\n\r\nbody")))

		messages, err := store.ListMessages(ctx, "box@ainewmail.online")
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestBackend_ConnectionLimit(t *testing.T) {
	limiter := NewConnectionLimiter(1, 0)
	b := newTestBackend(memory.NewStore(), WithConnectionLimiter(limiter))

	first, err := b.NewSession(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.Current())

	_, err = b.NewSession(nil)
	assert.Equal(t, 421, smtpCode(err))

	require.NoError(t, first.Logout())
	require.NoError(t, first.Logout(), "重复Logout只释放一次")
	assert.Equal(t, 0, limiter.Current())

	second, err := b.NewSession(nil)
	require.NoError(t, err)
	require.NoError(t, second.Logout())
}

func TestServer_EndToEnd(t *testing.T) {
	store := memory.NewStore()
	server := gosmtp.NewServer(newTestBackend(store))
	server.Domain = testDomain
	server.ReadTimeout = 5 * time.Second
	server.WriteTimeout = 5 * time.Second

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(func() { _ = server.Close() })

	client, err := gosmtp.Dial(listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	msg := "Subject: Hello\r\n\r\nWelcome aboard\r\n"
	err = client.SendMail("sender@example.com", []string{"e2ebox@ainewmail.online"}, strings.NewReader(msg))
	require.NoError(t, err)

	messages, err := store.ListMessages(context.Background(), "e2ebox@ainewmail.online")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello", messages[0].Subject)
	assert.Equal(t, "Welcome aboard", messages[0].PlainText)
	assert.Equal(t, "sender@example.com", messages[0].From)

	err = client.SendMail("sender@example.com", []string{"someone@gmail.com"}, strings.NewReader(msg))
	assert.Equal(t, 550, smtpCode(err))
}
