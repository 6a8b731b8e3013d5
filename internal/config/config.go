package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// InboxConfig 定义临时收件箱的核心业务配置
type InboxConfig struct {
	Domain              string        // 生成地址使用的固定域名
	TTL                 time.Duration // 地址生存时间，默认 1 小时
	TokenLength         int           // 随机前缀长度，最少 10
	MaxGenerateAttempts int           // 地址冲突时的最大重试次数
	SweepSchedule       string        // 定时清理的 cron 表达式
	SweepMinGap         time.Duration // 请求触发清理的最小间隔
	SweepWorkers        int           // 清理任务协程数
	GenerateRate        float64       // 单 IP 每秒允许生成的地址数，0 表示不限制
	GenerateBurst       int           // 单 IP 突发生成上限
	EnableSimulate      bool          // 是否开放模拟收信接口
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	Enabled           bool   // 是否启动 SMTP 接收服务
	BindAddr          string // 监听地址，格式 "host:port"，默认 ":25"
	Domain            string // HELO/EHLO 响应使用的域名
	MaxMessageBytes   int64  // 单封邮件最大字节数
	MaxRecipients     int    // 单封邮件最大收件人数
	MaxConns          int    // 最大并发连接数
	MaxConnsPerSecond int    // 每秒最大新建连接数
}

// WebhookConfig 定义第三方入站 Webhook 的配置
type WebhookConfig struct {
	Enabled    bool          // 是否开放 /api/inbound
	SigningKey string        // HMAC-SHA256 签名密钥，留空表示不校验
	MaxAge     time.Duration // 签名时间戳允许的最大偏差
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
	MaxSize     int    // 单个日志文件大小 (MB)
	MaxBackups  int    // 保留的旧日志文件数量
	MaxAge      int    // 旧日志保留天数
	Compress    bool   // 是否压缩旧日志
}

// DatabaseConfig 定义存储后端配置
type DatabaseConfig struct {
	Type            string // "memory"、"sqlite"、"postgres" 或 "mysql"
	DSN             string // 数据库连接字符串
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig 定义 Redis 缓存配置
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	CacheTTL time.Duration // 邮件列表缓存时间
}

// Config 是系统配置的根结构体
type Config struct {
	Server   ServerConfig
	Inbox    InboxConfig
	SMTP     SMTPConfig
	Webhook  WebhookConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// 地址前缀允许的最短长度（约 51 bit 熵）
const minTokenLength = 10

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: INBOX_
// 例如: INBOX_SERVER_PORT, INBOX_INBOX_DOMAIN, INBOX_DATABASE_TYPE
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("inbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("inbox.domain", "ainewmail.online")
	v.SetDefault("inbox.ttl", "1h")
	v.SetDefault("inbox.token_length", 12)
	v.SetDefault("inbox.max_generate_attempts", 10)
	v.SetDefault("inbox.sweep_schedule", "@every 5m")
	v.SetDefault("inbox.sweep_min_gap", "10s")
	v.SetDefault("inbox.sweep_workers", 1)
	v.SetDefault("inbox.generate_rate", 1.0)
	v.SetDefault("inbox.generate_burst", 10)
	v.SetDefault("smtp.enabled", true)
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.domain", "")
	v.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.max_conns", 200)
	v.SetDefault("smtp.max_conns_per_second", 50)
	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.signing_key", "")
	v.SetDefault("webhook.max_age", "5m")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "30s")

	development := v.GetBool("log.development")
	// 模拟收信默认只在开发模式开放
	v.SetDefault("inbox.enable_simulate", development)

	ttl, err := time.ParseDuration(v.GetString("inbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid inbox.ttl: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("inbox.ttl must be positive")
	}

	inboxDomain := strings.ToLower(strings.TrimSpace(v.GetString("inbox.domain")))
	if inboxDomain == "" || strings.Contains(inboxDomain, "@") {
		return nil, fmt.Errorf("inbox.domain is invalid: %q", inboxDomain)
	}

	tokenLength := v.GetInt("inbox.token_length")
	if tokenLength < minTokenLength {
		return nil, fmt.Errorf("inbox.token_length must be at least %d", minTokenLength)
	}

	maxAttempts := v.GetInt("inbox.max_generate_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	sweepSchedule := strings.TrimSpace(v.GetString("inbox.sweep_schedule"))
	if sweepSchedule != "" {
		if _, err := cron.ParseStandard(sweepSchedule); err != nil {
			return nil, fmt.Errorf("invalid inbox.sweep_schedule: %w", err)
		}
	}

	sweepMinGap, err := time.ParseDuration(v.GetString("inbox.sweep_min_gap"))
	if err != nil {
		return nil, fmt.Errorf("invalid inbox.sweep_min_gap: %w", err)
	}

	sweepWorkers := v.GetInt("inbox.sweep_workers")
	if sweepWorkers <= 0 {
		sweepWorkers = 1
	}

	webhookMaxAge, err := time.ParseDuration(v.GetString("webhook.max_age"))
	if err != nil {
		webhookMaxAge = 5 * time.Minute
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cacheTTL, err := time.ParseDuration(v.GetString("redis.cache_ttl"))
	if err != nil || cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	dbType := strings.ToLower(strings.TrimSpace(v.GetString("database.type")))
	switch dbType {
	case "", "memory":
		dbType = "memory"
	case "sqlite", "postgres", "mysql":
		if v.GetString("database.dsn") == "" {
			return nil, fmt.Errorf("database.dsn is required for database type %s", dbType)
		}
	case "postgresql":
		dbType = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database.type: %s (supported: memory, sqlite, postgres, mysql)", dbType)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	smtpDomain := v.GetString("smtp.domain")
	if smtpDomain == "" {
		smtpDomain = inboxDomain
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Inbox: InboxConfig{
			Domain:              inboxDomain,
			TTL:                 ttl,
			TokenLength:         tokenLength,
			MaxGenerateAttempts: maxAttempts,
			SweepSchedule:       sweepSchedule,
			SweepMinGap:         sweepMinGap,
			SweepWorkers:        sweepWorkers,
			GenerateRate:        v.GetFloat64("inbox.generate_rate"),
			GenerateBurst:       v.GetInt("inbox.generate_burst"),
			EnableSimulate:      v.GetBool("inbox.enable_simulate"),
		},
		SMTP: SMTPConfig{
			Enabled:           v.GetBool("smtp.enabled"),
			BindAddr:          v.GetString("smtp.bind_addr"),
			Domain:            smtpDomain,
			MaxMessageBytes:   v.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:     v.GetInt("smtp.max_recipients"),
			MaxConns:          v.GetInt("smtp.max_conns"),
			MaxConnsPerSecond: v.GetInt("smtp.max_conns_per_second"),
		},
		Webhook: WebhookConfig{
			Enabled:    v.GetBool("webhook.enabled"),
			SigningKey: v.GetString("webhook.signing_key"),
			MaxAge:     webhookMaxAge,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: development,
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: cacheTTL,
		},
	}

	return cfg, nil
}

// HTTPAddr 返回 HTTP 服务监听地址
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
