package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

type Config struct {
	Env           string
	Port          int
	APIPrefix     string
	StorageDriver string

	Database      DatabaseConfig
	Mongo         MongoConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Billing       BillingConfig
	Cache         CacheConfig
	Gateway       GatewayConfig
	Mail          MailConfig
	Notifications NotificationConfig
	Scheduler     SchedulerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// MongoConfig points at the document store used when STORAGE_DRIVER=mongo.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BillingConfig carries the fee rules shared by the API and the scheduler.
type BillingConfig struct {
	GracePeriod        time.Duration
	BlockAfter         time.Duration
	UnblockOverride    time.Duration
	UnblockRequestTTL  time.Duration
	EnforceAmount      bool
	MaxMonths          int
	Currency           string
	IdempotencyLockTTL time.Duration
}

// CacheConfig toggles the Redis-backed fee ledger cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// GatewayConfig holds payment provider credentials.
type GatewayConfig struct {
	ServerKey  string
	Production bool
}

// MailConfig configures outbound notification email.
type MailConfig struct {
	SendGridAPIKey string
	FromName       string
	FromEmail      string
}

// NotificationConfig sizes the notification worker pool.
type NotificationConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// SchedulerConfig holds cron specs for the billing jobs. An empty MetricsAddr
// disables the scheduler's /metrics listener.
type SchedulerConfig struct {
	BlockSpec   string
	ExpireSpec  string
	MetricsAddr string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.StorageDriver = strings.ToLower(v.GetString("STORAGE_DRIVER"))
	if cfg.StorageDriver != StorageDriverMongo {
		cfg.StorageDriver = StorageDriverPostgres
	}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Mongo = MongoConfig{
		URI:      v.GetString("MONGO_URI"),
		Database: v.GetString("MONGO_DATABASE"),
		Timeout:  parseDuration(v.GetString("MONGO_TIMEOUT"), 10*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxMonths := v.GetInt("BILLING_MAX_MONTHS")
	if maxMonths <= 0 {
		maxMonths = 12
	}
	cfg.Billing = BillingConfig{
		GracePeriod:        parseDuration(v.GetString("BILLING_GRACE_PERIOD"), 7*24*time.Hour),
		BlockAfter:         parseDuration(v.GetString("BILLING_BLOCK_AFTER"), 30*24*time.Hour),
		UnblockOverride:    parseDuration(v.GetString("BILLING_UNBLOCK_OVERRIDE"), 7*24*time.Hour),
		UnblockRequestTTL:  parseDuration(v.GetString("UNBLOCK_REQUEST_TTL"), 0),
		EnforceAmount:      v.GetBool("BILLING_ENFORCE_AMOUNT"),
		MaxMonths:          maxMonths,
		Currency:           strings.ToUpper(v.GetString("BILLING_CURRENCY")),
		IdempotencyLockTTL: parseDuration(v.GetString("IDEMPOTENCY_LOCK_TTL"), 30*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("FEE_CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("FEE_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Gateway = GatewayConfig{
		ServerKey:  v.GetString("MIDTRANS_SERVER_KEY"),
		Production: v.GetBool("MIDTRANS_PRODUCTION"),
	}

	cfg.Mail = MailConfig{
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		FromEmail:      v.GetString("MAIL_FROM_EMAIL"),
	}

	cfg.Notifications = NotificationConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Scheduler = SchedulerConfig{
		BlockSpec:   v.GetString("SCHEDULER_BLOCK_SPEC"),
		ExpireSpec:  v.GetString("SCHEDULER_EXPIRE_SPEC"),
		MetricsAddr: v.GetString("SCHEDULER_METRICS_ADDR"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms_billing")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "lms_billing")
	v.SetDefault("MONGO_TIMEOUT", "10s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BILLING_GRACE_PERIOD", "168h")
	v.SetDefault("BILLING_BLOCK_AFTER", "720h")
	v.SetDefault("BILLING_UNBLOCK_OVERRIDE", "168h")
	v.SetDefault("UNBLOCK_REQUEST_TTL", "0s")
	v.SetDefault("BILLING_ENFORCE_AMOUNT", true)
	v.SetDefault("BILLING_MAX_MONTHS", 12)
	v.SetDefault("BILLING_CURRENCY", "IDR")
	v.SetDefault("IDEMPOTENCY_LOCK_TTL", "30s")

	v.SetDefault("FEE_CACHE_ENABLED", true)
	v.SetDefault("FEE_CACHE_TTL", "5m")

	v.SetDefault("MIDTRANS_SERVER_KEY", "")
	v.SetDefault("MIDTRANS_PRODUCTION", false)

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_NAME", "LMS Billing")
	v.SetDefault("MAIL_FROM_EMAIL", "billing@example.com")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("SCHEDULER_BLOCK_SPEC", "0 15 0 * * *")
	v.SetDefault("SCHEDULER_EXPIRE_SPEC", "0 0 * * * *")
	v.SetDefault("SCHEDULER_METRICS_ADDR", ":9091")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
