package config

import (
	"fmt"
	"time"

	"event-voucher/internal/pkg/errs"

	"github.com/kelseyhightower/envconfig"
)

// -----------------------------------------------------------------------------
// Environment variable configuration guidelines:
// - required: Values that differ between environments (port, DB connection, etc.), security settings
// - default: Values common across all environments (timezone, timeout, etc.), standard settings
// -----------------------------------------------------------------------------

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Store     StoreConfig
	CORS      CORSConfig
	Log       LogConfig
	JWT       JWTConfig
	Lease     LeaseConfig
	Notify    NotifyConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port string `envconfig:"PORT" required:"true"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	DBName   string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	TimeZone string `envconfig:"DB_TIMEZONE" default:"Asia/Tokyo"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"20"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	// namespace for every key written by the store and the job queue
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"ev"`
}

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

type StoreConfig struct {
	Backend string `envconfig:"STORE_BACKEND" default:"postgres"`
}

type CORSConfig struct {
	AllowOrigins     []string      `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:3000,http://localhost:8080"`
	AllowMethods     []string      `envconfig:"CORS_ALLOW_METHODS" default:"GET,POST,PUT,PATCH,DELETE,OPTIONS"`
	AllowHeaders     []string      `envconfig:"CORS_ALLOW_HEADERS" default:"Origin,Content-Type,Accept,Authorization"`
	ExposeHeaders    []string      `envconfig:"CORS_EXPOSE_HEADERS" default:"Content-Length"`
	AllowCredentials bool          `envconfig:"CORS_ALLOW_CREDENTIALS" default:"true"`
	MaxAge           time.Duration `envconfig:"CORS_MAX_AGE" default:"12h"`
}

type LogConfig struct {
	Level          string `envconfig:"LOG_LEVEL" default:"info"`
	TimeZone       string `envconfig:"LOG_TIMEZONE" default:"Asia/Tokyo"`
	TimeFormat     string `envconfig:"LOG_TIME_FORMAT" default:"2006-01-02 15:04:05.000"`
	TimeZoneOffset int    `envconfig:"LOG_TIMEZONE_OFFSET" default:"32400"` // 9*60*60
}

type JWTConfig struct {
	Secret   string `envconfig:"JWT_SECRET" required:"true"`
	Duration string `envconfig:"JWT_DURATION" default:"24h"`
}

const (
	LeaseStrategyRecord  = "record"
	LeaseStrategyIndexed = "indexed"
)

type LeaseConfig struct {
	TTL           time.Duration `envconfig:"LEASE_TTL" default:"5m"`
	SweepInterval time.Duration `envconfig:"LEASE_SWEEP_INTERVAL" default:"60s"`
	SweepBatch    int           `envconfig:"LEASE_SWEEP_BATCH" default:"100"`
	// record: lease lives on the event only; indexed: also keeps the lease side index
	Strategy string `envconfig:"LEASE_STRATEGY" default:"record"`
}

const (
	CommitModeAfterCommit = "after_commit"
	CommitModeGated       = "gated"
)

const (
	TransportSMTP  = "smtp"
	TransportNATS  = "nats"
	TransportKafka = "kafka"
)

type NotifyConfig struct {
	Delay        time.Duration `envconfig:"NOTIFY_DELAY" default:"5s"`
	MaxAttempts  int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"3"`
	Backoff      time.Duration `envconfig:"NOTIFY_BACKOFF" default:"1s"`
	Timeout      time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	Workers      int           `envconfig:"NOTIFY_WORKERS" default:"2"`
	PollInterval time.Duration `envconfig:"NOTIFY_POLL_INTERVAL" default:"500ms"`
	BatchSize    int           `envconfig:"NOTIFY_BATCH_SIZE" default:"10"`
	CommitMode   string        `envconfig:"NOTIFY_COMMIT_MODE" default:"after_commit"`
}

type MailConfig struct {
	// empty host means deliveries are only logged
	Host     string `envconfig:"SMTP_HOST" default:""`
	Port     string `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USERNAME" default:""`
	Password string `envconfig:"SMTP_PASSWORD" default:""`
	From     string `envconfig:"MAIL_FROM" default:"no-reply@example.com"`

	// smtp, nats or kafka
	Transport    string   `envconfig:"NOTIFY_TRANSPORT" default:"smtp"`
	NATSURL      string   `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSSubject  string   `envconfig:"NATS_SUBJECT" default:"vouchers.issued"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"vouchers.issued"`
}

type RateLimitConfig struct {
	ClaimRPS   float64 `envconfig:"RATE_LIMIT_CLAIM_RPS" default:"5"`
	ClaimBurst int     `envconfig:"RATE_LIMIT_CLAIM_BURST" default:"10"`
}

// vouchers never change once issued, so lookups by code are cached in process
type CacheConfig struct {
	VoucherTTL     time.Duration `envconfig:"CACHE_VOUCHER_TTL" default:"10m"`
	VoucherEntries int64         `envconfig:"CACHE_VOUCHER_ENTRIES" default:"10000"`
}

type TelemetryConfig struct {
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
	ServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"event-voucher"`
}

func (c *DBConfig) BuildDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&timezone=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.TimeZone,
	)
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendRedis:
	default:
		return errs.Newf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Lease.Strategy {
	case LeaseStrategyRecord, LeaseStrategyIndexed:
	default:
		return errs.Newf("unknown LEASE_STRATEGY %q", c.Lease.Strategy)
	}
	switch c.Notify.CommitMode {
	case CommitModeAfterCommit, CommitModeGated:
	default:
		return errs.Newf("unknown NOTIFY_COMMIT_MODE %q", c.Notify.CommitMode)
	}
	switch c.Mail.Transport {
	case TransportSMTP, TransportNATS, TransportKafka:
	default:
		return errs.Newf("unknown NOTIFY_TRANSPORT %q", c.Mail.Transport)
	}
	if c.Lease.TTL <= 0 || c.Lease.SweepInterval <= 0 {
		return errs.New("lease ttl and sweep interval must be positive")
	}
	if c.Notify.MaxAttempts < 1 {
		return errs.New("NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Notify.Timeout <= 0 || c.Notify.Backoff < 0 || c.Notify.Delay < 0 {
		return errs.New("notify timings must not be negative and timeout must be positive")
	}
	return nil
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return Config{}, errs.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errs.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func NewTestConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: "8889", // Test port
		},
		DB: DBConfig{
			Host:     "localhost",
			Port:     "15433", // Test DB port
			User:     "test",
			Password: "test",
			DBName:   "test_db",
			SSLMode:  "disable",
			TimeZone: "Asia/Tokyo",
			MaxConns: 20,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "test",
		},
		Store: StoreConfig{Backend: StoreBackendPostgres},
		Log: LogConfig{
			Level:          "error", // Error level only for tests
			TimeZone:       "Asia/Tokyo",
			TimeFormat:     "2006-01-02 15:04:05.000",
			TimeZoneOffset: 32400,
		},
		JWT: JWTConfig{
			Secret:   "test-secret-key-for-signing-tokens",
			Duration: "1h",
		},
		Lease: LeaseConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 60 * time.Second,
			SweepBatch:    100,
			Strategy:      LeaseStrategyRecord,
		},
		Notify: NotifyConfig{
			Delay:        5 * time.Second,
			MaxAttempts:  3,
			Backoff:      time.Second,
			Timeout:      10 * time.Second,
			Workers:      1,
			PollInterval: 100 * time.Millisecond,
			BatchSize:    10,
			CommitMode:   CommitModeAfterCommit,
		},
		Mail: MailConfig{
			From:      "no-reply@example.com",
			Transport: "smtp",
		},
		RateLimit: RateLimitConfig{
			ClaimRPS:   1000,
			ClaimBurst: 1000,
		},
		Cache: CacheConfig{
			VoucherTTL:     time.Minute,
			VoucherEntries: 100,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "event-voucher-test",
		},
	}
}
