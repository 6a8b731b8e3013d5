package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/normalizer"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/storage/memory"
)

const testDomain = "ainewmail.online"

func init() {
	gin.SetMode(gin.TestMode)
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Trigger() bool {
	s.calls.Add(1)
	return true
}

type failingStore struct {
	*memory.Store
}

func (failingStore) CreateAddress(context.Context, *domain.Address) error {
	return errors.New("disk full")
}

func (failingStore) FindLiveAddress(context.Context, string, time.Time) (*domain.Address, error) {
	return nil, errors.New("disk full")
}

type unreachableStore struct {
	*memory.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

type testEnv struct {
	router   *gin.Engine
	store    domain.Store
	sweeper  *countingSweeper
	ingestor *service.Ingestor
}

func testConfig() *config.Config {
	return &config.Config{
		Inbox: config.InboxConfig{
			Domain:         testDomain,
			TTL:            time.Hour,
			TokenLength:    12,
			EnableSimulate: true,
		},
		Webhook: config.WebhookConfig{
			Enabled: true,
			MaxAge:  5 * time.Minute,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config, store domain.Store) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if store == nil {
		store = memory.NewStore()
	}

	metrics := monitoring.NewMetrics()
	generator := service.NewAddressGenerator(store, service.GeneratorConfig{
		Domain:      cfg.Inbox.Domain,
		TTL:         cfg.Inbox.TTL,
		TokenLength: cfg.Inbox.TokenLength,
	}, zap.NewNop(), metrics)
	ingestor := service.NewIngestor(store, normalizer.NewHeuristicNormalizer(zap.NewNop()), zap.NewNop(), metrics)
	sweeper := &countingSweeper{}

	router := NewRouter(RouterDependencies{
		Config:    cfg,
		Generator: generator,
		Inbox:     service.NewInboxService(store, metrics),
		Simulator: service.NewSimulator(store, ingestor),
		Receiver:  ingestor,
		Sweeper:   sweeper,
		Health:    health.NewHealthChecker(store, zap.NewNop()),
		Metrics:   metrics,
		Logger:    zap.NewNop(),
	})

	return &testEnv{router: router, store: store, sweeper: sweeper, ingestor: ingestor}
}

func (e *testEnv) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) generate(t *testing.T) string {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/generate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Email
}

func (e *testEnv) inbox(t *testing.T, email string) []messageResponse {
	t.Helper()
	rec := e.do(http.MethodGet, "/api/inbox/"+url.PathEscape(email), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp inboxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Emails
}

func TestRouter_Generate(t *testing.T) {
	t.Run("生成地址并返回剩余毫秒数", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		rec := env.do(http.MethodPost, "/api/generate", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Regexp(t, `^[a-z0-9]{12}@ainewmail\.online$`, resp.Email)
		assert.InDelta(t, 3600000, resp.ExpiresIn, 5000)
	})

	t.Run("存储失败返回500", func(t *testing.T) {
		env := newTestEnv(t, nil, failingStore{memory.NewStore()})

		rec := env.do(http.MethodPost, "/api/generate", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Internal Server Error", resp.Error)
		assert.Contains(t, resp.Message, "disk full")
	})

	t.Run("单IP限流返回429", func(t *testing.T) {
		cfg := testConfig()
		cfg.Inbox.GenerateRate = 0.001
		cfg.Inbox.GenerateBurst = 1
		env := newTestEnv(t, cfg, nil)

		assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/generate", "", nil).Code)
		assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, "/api/generate", "", nil).Code)
	})
}

func TestRouter_Inbox(t *testing.T) {
	ctx := context.Background()

	t.Run("新地址收件箱为空数组", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		email := env.generate(t)

		rec := env.do(http.MethodGet, "/api/inbox/"+email, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"emails":[]}`, rec.Body.String())
	})

	t.Run("未知地址返回404", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		rec := env.do(http.MethodGet, "/api/inbox/nobody@ainewmail.online", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Email not found or expired"}`, rec.Body.String())
	})

	t.Run("空白地址返回400", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		rec := env.do(http.MethodGet, "/api/inbox/%20", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("存储失败返回500", func(t *testing.T) {
		env := newTestEnv(t, nil, failingStore{memory.NewStore()})

		rec := env.do(http.MethodGet, "/api/inbox/x@ainewmail.online", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("收信后读取、标记已读并删除", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		email := env.generate(t)

		env.ingestor.Receive(ctx, service.Envelope{
			To:      email,
			From:    "alice@example.com",
			Subject: "Greetings",
			Message: normalizer.RawMessage{HTML: "<p>Hi</p><p>there</p>"},
		})

		emails := env.inbox(t, email)
		require.Len(t, emails, 1)
		msg := emails[0]
		assert.Equal(t, email, msg.EmailAddress)
		assert.Equal(t, "alice@example.com", msg.From)
		assert.Equal(t, "Greetings", msg.Subject)
		assert.Equal(t, "Hi there", msg.Body)
		assert.Equal(t, "<p>Hi</p><p>there</p>", msg.HTMLBody)
		assert.Equal(t, 0, msg.Read)
		assert.InDelta(t, time.Now().UnixMilli(), msg.Timestamp, 5000)

		path := "/api/email/" + email + "/" + msg.ID + "/read"
		for i := 0; i < 2; i++ {
			rec := env.do(http.MethodPut, path, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"success":true}`, rec.Body.String())
		}
		assert.Equal(t, 1, env.inbox(t, email)[0].Read)

		for i := 0; i < 2; i++ {
			rec := env.do(http.MethodDelete, "/api/delete/"+msg.ID, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"success":true}`, rec.Body.String())
		}
		assert.Empty(t, env.inbox(t, email))
	})

	t.Run("未生成地址的来信入库但收件箱返回404", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		orphan := "nobody@ainewmail.online"

		rec := postForm(env, map[string]string{
			"recipient":  orphan,
			"sender":     "bob@example.com",
			"subject":    "Lost",
			"body-plain": "anyone?",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","accepted":1}`, rec.Body.String())

		stored, err := env.store.ListMessages(ctx, orphan)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "Lost", stored[0].Subject)

		rec = env.do(http.MethodGet, "/api/inbox/"+orphan, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Email not found or expired"}`, rec.Body.String())
	})

	t.Run("未知id标记已读和删除仍然成功", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		assert.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/email/x@ainewmail.online/unknown/read", "", nil).Code)
		assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/delete/unknown", "", nil).Code)
	})
}

func TestRouter_Simulate(t *testing.T) {
	t.Run("向有效地址投递演示邮件", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		email := env.generate(t)

		rec := env.do(http.MethodPost, "/api/simulate-receive", `{"to":"`+email+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var msg messageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
		assert.Equal(t, email, msg.EmailAddress)
		assert.True(t, strings.HasPrefix(msg.From, "noreply@"))
		assert.NotEmpty(t, msg.Subject)
		assert.Contains(t, msg.HTMLBody, "font-family: Arial")

		assert.Len(t, env.inbox(t, email), 1)
	})

	t.Run("无效地址返回404", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		rec := env.do(http.MethodPost, "/api/simulate-receive", `{"to":"ghost@ainewmail.online"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("请求体格式错误返回400", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		rec := env.do(http.MethodPost, "/api/simulate-receive", `{"to":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("关闭后不注册", func(t *testing.T) {
		cfg := testConfig()
		cfg.Inbox.EnableSimulate = false
		env := newTestEnv(t, cfg, nil)

		rec := env.do(http.MethodPost, "/api/simulate-receive", `{"to":"a@ainewmail.online"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())
	})
}

func TestRouter_CORSAndFallback(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	t.Run("预检请求返回204", func(t *testing.T) {
		rec := env.do(http.MethodOptions, "/api/generate", "", map[string]string{
			"Origin":                        "http://localhost:3000",
			"Access-Control-Request-Method": "POST",
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	})

	t.Run("无Origin的OPTIONS同样返回204", func(t *testing.T) {
		rec := env.do(http.MethodOptions, "/anything", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("跨域请求带CORS头", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/generate", "", map[string]string{"Origin": "http://localhost:3000"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("无Origin的请求也带CORS头", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/generate", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
	})

	t.Run("指定Origin列表时不加通配头", func(t *testing.T) {
		cfg := testConfig()
		cfg.CORS.AllowedOrigins = []string{"https://ainewmail.online"}
		restricted := newTestEnv(t, cfg, nil)

		rec := restricted.do(http.MethodGet, "/api/inbox/nobody@ainewmail.online", "", nil)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("未知路由返回404", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/unknown", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())
	})
}

func TestRouter_TriggersSweep(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	env.do(http.MethodPost, "/api/generate", "", nil)
	env.do(http.MethodGet, "/api/inbox/nobody@ainewmail.online", "", nil)
	env.do(http.MethodGet, "/not-found", "", nil)
	assert.Equal(t, int32(3), env.sweeper.calls.Load())

	env.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, int32(3), env.sweeper.calls.Load(), "健康检查不触发清理")
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		assert.Equal(t, http.StatusOK, env.do(http.MethodGet, path, "", nil).Code, path)
	}

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	env.do(http.MethodPost, "/api/generate", "", nil)
	rec = env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tempinbox_addresses_generated_total 1")
}

func TestRouter_HealthDegraded(t *testing.T) {
	env := newTestEnv(t, nil, unreachableStore{memory.NewStore()})

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "connection refused")

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/health/ready", "", nil).Code)
}

func postForm(env *testEnv, fields map[string]string) *httptest.ResponseRecorder {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Inbound(t *testing.T) {
	t.Run("表单字段入库", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		email := env.generate(t)

		rec := postForm(env, map[string]string{
			"recipient":  strings.ToUpper(email) + ", other@gmail.com",
			"sender":     "bob@example.com",
			"subject":    "Your code",
			"body-plain": "Code: 42",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","accepted":1}`, rec.Body.String())

		emails := env.inbox(t, email)
		require.Len(t, emails, 1)
		assert.Equal(t, "Your code", emails[0].Subject)
		assert.Equal(t, "Code: 42", emails[0].Body)
		assert.Equal(t, "Code: 42", emails[0].HTMLBody)
	})

	t.Run("外部域名被忽略", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)

		rec := postForm(env, map[string]string{"recipient": "x@gmail.com"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
	})

	t.Run("body-mime文件按MIME解析", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		email := env.generate(t)

		raw := "From: Carol <carol@example.com>\r\n" +
			"Subject: From MIME\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<style>p{}</style><p>Hello</p>\r\n"

		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("recipient", email))
		part, err := w.CreateFormFile("body-mime", "message.mime")
		require.NoError(t, err)
		_, err = part.Write([]byte(raw))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/inbound", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		emails := env.inbox(t, email)
		require.Len(t, emails, 1)
		assert.Equal(t, "From MIME", emails[0].Subject)
		assert.Equal(t, "carol@example.com", emails[0].From)
		assert.Equal(t, "Hello", emails[0].Body)
	})

	t.Run("签名校验", func(t *testing.T) {
		cfg := testConfig()
		cfg.Webhook.SigningKey = "key-secret"
		env := newTestEnv(t, cfg, nil)
		email := env.generate(t)

		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		token := "random-token"
		signature := sign(timestamp, token, "key-secret")

		rec := postForm(env, map[string]string{
			"recipient":  email,
			"body-plain": "signed",
			"timestamp":  timestamp,
			"token":      token,
			"signature":  signature,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, env.inbox(t, email), 1)

		rec = postForm(env, map[string]string{
			"recipient": email,
			"timestamp": timestamp,
			"token":     token,
			"signature": sign(timestamp, token, "wrong-key"),
		})
		assert.Equal(t, http.StatusNotAcceptable, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())

		old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
		rec = postForm(env, map[string]string{
			"recipient": email,
			"timestamp": old,
			"token":     token,
			"signature": sign(old, token, "key-secret"),
		})
		assert.Equal(t, http.StatusNotAcceptable, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid timestamp"}`, rec.Body.String())

		assert.Len(t, env.inbox(t, email), 1)
	})

	t.Run("关闭后不注册", func(t *testing.T) {
		cfg := testConfig()
		cfg.Webhook.Enabled = false
		env := newTestEnv(t, cfg, nil)

		rec := postForm(env, map[string]string{"recipient": "a@ainewmail.online"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
