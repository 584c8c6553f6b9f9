// Package config loads server settings: built-in defaults, then an optional
// YAML file, then KEYGATE_* environment variables, then validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "KEYGATE"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Redis struct {
	Addr     string `yaml:"addr" envconfig:"ADDR" validate:"required_with=Password"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB" validate:"gte=0"`
	Prefix   string `yaml:"prefix" envconfig:"PREFIX"`
}

type Limiter struct {
	Window   time.Duration `yaml:"window" envconfig:"WINDOW" validate:"gt=0"`
	MaxFails int           `yaml:"max_fails" envconfig:"MAX_FAILS" validate:"gt=0"`
	BlockFor time.Duration `yaml:"block_for" envconfig:"BLOCK_FOR" validate:"gt=0"`
}

type AMQP struct {
	URL      string `yaml:"url" envconfig:"URL"`
	Exchange string `yaml:"exchange" envconfig:"EXCHANGE" validate:"required_with=URL"`
}

// Config is the complete server configuration.
type Config struct {
	GRPCAddr  string `yaml:"grpc_addr" envconfig:"GRPC_ADDR" validate:"required,hostname_port"`
	AdminAddr string `yaml:"admin_addr" envconfig:"ADMIN_ADDR" validate:"required,hostname_port"`
	TLSCert   string `yaml:"tls_cert" envconfig:"TLS_CERT" validate:"required_with=TLSKey"`
	TLSKey    string `yaml:"tls_key" envconfig:"TLS_KEY" validate:"required_with=TLSCert"`

	Store         string        `yaml:"store" envconfig:"STORE" validate:"oneof=memory redis postgres"`
	Redis         Redis         `yaml:"redis" envconfig:"REDIS"`
	PostgresDSN   string        `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN" validate:"required_if=Store postgres"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL" validate:"gte=0"`

	ServerSecret   string   `yaml:"server_secret" envconfig:"SERVER_SECRET" validate:"required,min=16"`
	AdminSecret    string   `yaml:"admin_secret" envconfig:"ADMIN_SECRET" validate:"required,min=8"`
	AdminAllowList []string `yaml:"admin_allow_list" envconfig:"ADMIN_ALLOW_LIST"`
	AdminRateLimit float64  `yaml:"admin_rate_limit" envconfig:"ADMIN_RATE_LIMIT" validate:"gt=0"`
	AdminBurst     int      `yaml:"admin_burst" envconfig:"ADMIN_BURST" validate:"gt=0"`

	// AdminTrustedProxies may set X-Real-IP / X-Forwarded-For for the allow-list check.
	AdminTrustedProxies []string `yaml:"admin_trusted_proxies" envconfig:"ADMIN_TRUSTED_PROXIES"`

	SessionTTL         time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL" validate:"gt=0"`
	KeyRotation        time.Duration `yaml:"key_rotation" envconfig:"KEY_ROTATION" validate:"gt=0"`
	TimestampTolerance time.Duration `yaml:"timestamp_tolerance" envconfig:"TIMESTAMP_TOLERANCE" validate:"gt=0"`

	LockMode  string        `yaml:"lock_mode" envconfig:"LOCK_MODE" validate:"oneof=auto advisory"`
	LockTTL   time.Duration `yaml:"lock_ttl" envconfig:"LOCK_TTL" validate:"gt=0"`
	LockRetry time.Duration `yaml:"lock_retry" envconfig:"LOCK_RETRY" validate:"gt=0"`
	LockWait  time.Duration `yaml:"lock_wait" envconfig:"LOCK_WAIT" validate:"gt=0"`

	Limiter Limiter `yaml:"limiter" envconfig:"LIMITER"`
	AMQP    AMQP    `yaml:"amqp" envconfig:"AMQP"`

	StdoutTracing bool `yaml:"stdout_tracing" envconfig:"STDOUT_TRACING"`
	Debug         bool `yaml:"debug" envconfig:"DEBUG"`
	Dev           bool `yaml:"dev" envconfig:"DEV"`
}

// Default returns the built-in settings. Secrets have no default.
func Default() Config {
	return Config{
		GRPCAddr:           ":8443",
		AdminAddr:          "127.0.0.1:8080",
		Store:              StoreMemory,
		SweepInterval:      time.Minute,
		AdminRateLimit:     10,
		AdminBurst:         20,
		SessionTTL:         5 * time.Minute,
		KeyRotation:        24 * time.Hour,
		TimestampTolerance: 60 * time.Second,
		LockMode:           "auto",
		LockTTL:            30 * time.Second,
		LockRetry:          100 * time.Millisecond,
		LockWait:           5 * time.Second,
		Limiter:            Limiter{Window: 5 * time.Minute, MaxFails: 10, BlockFor: 15 * time.Minute},
		AMQP:               AMQP{Exchange: "keygate.events"},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("env config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
