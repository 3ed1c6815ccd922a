package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds every tunable of the service. It is loaded once at
// startup, validated, and injected into the components that need it;
// nothing reads viper after Load returns.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Argon2    Argon2Config    `mapstructure:"argon2"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	LogLevel  string          `mapstructure:"log_level" validate:"required"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            string        `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gt=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gt=0"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type JWTConfig struct {
	SecretKey   string `mapstructure:"secret_key" validate:"required"`
	ExpiryHours int    `mapstructure:"expiry_hours" validate:"gt=0"`
}

type Argon2Config struct {
	Time       int `mapstructure:"time" validate:"gt=0"`
	Memory     int `mapstructure:"memory" validate:"gt=0"`
	Threads    int `mapstructure:"threads" validate:"gt=0"`
	KeyLength  int `mapstructure:"key_length" validate:"gt=0"`
	SaltLength int `mapstructure:"salt_length" validate:"gt=0"`
}

// GatewayConfig configures the PIX billing gateway client.
type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	APIKey        string        `mapstructure:"api_key" validate:"required"`
	WebhookSecret string        `mapstructure:"webhook_secret" validate:"required"`
	CallTimeout   time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	ThrottleDelay time.Duration `mapstructure:"throttle_delay" validate:"gte=0"`
}

// ReconcileConfig holds the reconciliation job tunables.
type ReconcileConfig struct {
	CronSchedule       string        `mapstructure:"cron_schedule" validate:"required"`
	BatchSize          int           `mapstructure:"batch_size" validate:"gt=0"`
	ExecutionTimeout   time.Duration `mapstructure:"execution_timeout" validate:"gt=0"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gt=0"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	LockTTL            time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	MinOrderAge        time.Duration `mapstructure:"min_order_age" validate:"gte=0"`
	MaxOrderAge        time.Duration `mapstructure:"max_order_age" validate:"gt=0"`
	PriceTolerance     float64       `mapstructure:"price_tolerance" validate:"gte=0,lte=1"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days" validate:"gt=0"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "bilheteria")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("jwt.expiry_hours", 12)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("gateway.call_timeout", 10*time.Second)
	viper.SetDefault("gateway.throttle_delay", 500*time.Millisecond)

	viper.SetDefault("reconcile.cron_schedule", "*/10 * * * *")
	viper.SetDefault("reconcile.batch_size", 50)
	viper.SetDefault("reconcile.execution_timeout", 3*time.Minute)
	viper.SetDefault("reconcile.max_retries", 3)
	viper.SetDefault("reconcile.retry_delay", 2*time.Second)
	viper.SetDefault("reconcile.backoff_multiplier", 2.0)
	viper.SetDefault("reconcile.lock_ttl", 5*time.Minute)
	viper.SetDefault("reconcile.min_order_age", 2*time.Minute)
	viper.SetDefault("reconcile.max_order_age", 48*time.Hour)
	viper.SetDefault("reconcile.price_tolerance", 0.01)
	viper.SetDefault("reconcile.audit_retention_days", 30)
}

func bindEnv() {
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("log_level", "LOG_LEVEL")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.api_key", "GATEWAY_API_KEY")
	viper.BindEnv("gateway.webhook_secret", "GATEWAY_WEBHOOK_SECRET")
	viper.BindEnv("gateway.call_timeout", "GATEWAY_CALL_TIMEOUT")
	viper.BindEnv("gateway.throttle_delay", "GATEWAY_THROTTLE_DELAY")

	viper.BindEnv("reconcile.cron_schedule", "RECONCILE_CRON_SCHEDULE")
	viper.BindEnv("reconcile.batch_size", "RECONCILE_BATCH_SIZE")
	viper.BindEnv("reconcile.execution_timeout", "RECONCILE_EXECUTION_TIMEOUT")
	viper.BindEnv("reconcile.max_retries", "RECONCILE_MAX_RETRIES")
	viper.BindEnv("reconcile.retry_delay", "RECONCILE_RETRY_DELAY")
	viper.BindEnv("reconcile.backoff_multiplier", "RECONCILE_BACKOFF_MULTIPLIER")
	viper.BindEnv("reconcile.lock_ttl", "RECONCILE_LOCK_TTL")
	viper.BindEnv("reconcile.min_order_age", "RECONCILE_MIN_ORDER_AGE")
	viper.BindEnv("reconcile.max_order_age", "RECONCILE_MAX_ORDER_AGE")
	viper.BindEnv("reconcile.price_tolerance", "RECONCILE_PRICE_TOLERANCE")
	viper.BindEnv("reconcile.audit_retention_days", "AUDIT_RETENTION_DAYS")
}

// Load reads .env plus environment overrides, fills defaults and
// returns a validated Config. The job must refuse to run on invalid
// tunables, so any validation failure is returned as an error here.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.ReadInConfig() // missing .env is fine, env vars still apply

	setDefaults()
	bindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the field rules plus the cross-field constraints
// the scheduler depends on.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if _, err := cron.ParseStandard(c.Reconcile.CronSchedule); err != nil {
		return fmt.Errorf("config: invalid cron schedule %q: %w", c.Reconcile.CronSchedule, err)
	}
	// The lease must outlive the cycle, otherwise a concurrent instance
	// could reclaim the lock while the holder is still running.
	if c.Reconcile.LockTTL <= c.Reconcile.ExecutionTimeout {
		return fmt.Errorf("config: reconcile.lock_ttl (%s) must exceed reconcile.execution_timeout (%s)",
			c.Reconcile.LockTTL, c.Reconcile.ExecutionTimeout)
	}
	if c.Reconcile.MinOrderAge >= c.Reconcile.MaxOrderAge {
		return fmt.Errorf("config: reconcile.min_order_age (%s) must be below reconcile.max_order_age (%s)",
			c.Reconcile.MinOrderAge, c.Reconcile.MaxOrderAge)
	}
	return nil
}
