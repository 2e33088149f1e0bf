package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates all runtime settings.
type Config struct {
	App      AppConfig      `envPrefix:"AUTH_"`
	HTTP     HTTPConfig     `envPrefix:"AUTH_HTTP_"`
	Database DatabaseConfig `envPrefix:"AUTH_DB_"`
	Redis    RedisConfig    `envPrefix:"AUTH_REDIS_"`
	Token    TokenConfig    `envPrefix:"AUTH_TOKEN_"`
	Security SecurityConfig `envPrefix:"AUTH_SECURITY_"`
}

type AppConfig struct {
	Environment string `env:"ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"oauth-service"`
}

type HTTPConfig struct {
	Host              string        `env:"HOST" envDefault:"0.0.0.0"`
	Port              int           `env:"PORT" envDefault:"4102"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"25s"`
}

type DatabaseConfig struct {
	URL             string        `env:"URL"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"20"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	RunMigrations   bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

type RedisConfig struct {
	Addr      string `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	EnableTLS bool   `env:"ENABLE_TLS" envDefault:"false"`
	Namespace string `env:"NAMESPACE" envDefault:"oauth"`
}

type TokenConfig struct {
	Issuer              string        `env:"ISSUER" envDefault:"https://auth.crestline.local"`
	PrivateKeyPath      string        `env:"PRIVATE_KEY_PATH"`
	PublicKeyPath       string        `env:"PUBLIC_KEY_PATH"`
	AuthCodeTTL         time.Duration `env:"CODE_TTL" envDefault:"5m"`
	AccessTokenTTL      time.Duration `env:"ACCESS_TTL" envDefault:"1h"`
	RefreshTokenTTL     time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	IDTokenTTL          time.Duration `env:"ID_TOKEN_TTL" envDefault:"1h"`
	RotateRefreshTokens bool          `env:"ROTATE_REFRESH" envDefault:"true"`
	ClockSkewGrace      time.Duration `env:"CLOCK_SKEW_GRACE" envDefault:"5s"`
}

type SecurityConfig struct {
	// SecretEncryptionKey holds a base64-encoded 32-byte key used to encrypt
	// client secrets at rest.
	SecretEncryptionKey string `env:"SECRET_ENCRYPTION_KEY"`
}

// MaxAuthCodeTTL caps configured authorization code lifetimes.
const MaxAuthCodeTTL = 10 * time.Minute

// Load parses environment variables into Config and performs validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("AUTH_DB_URL is required")
	}
	if cfg.Token.PrivateKeyPath == "" || cfg.Token.PublicKeyPath == "" {
		return nil, fmt.Errorf("AUTH_TOKEN_PRIVATE_KEY_PATH and AUTH_TOKEN_PUBLIC_KEY_PATH are required")
	}
	if _, err := cfg.SecretKey(); err != nil {
		return nil, err
	}

	if cfg.Token.AuthCodeTTL <= 0 || cfg.Token.AuthCodeTTL > MaxAuthCodeTTL {
		cfg.Token.AuthCodeTTL = MaxAuthCodeTTL
	}
	if cfg.Token.ClockSkewGrace > 30*time.Second {
		return nil, fmt.Errorf("AUTH_TOKEN_CLOCK_SKEW_GRACE must not exceed 30s")
	}

	return cfg, nil
}

// SecretKey decodes the client-secret encryption key.
func (c *Config) SecretKey() ([]byte, error) {
	if c.Security.SecretEncryptionKey == "" {
		return nil, fmt.Errorf("AUTH_SECURITY_SECRET_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Security.SecretEncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("AUTH_SECURITY_SECRET_ENCRYPTION_KEY must be base64 of 32 bytes")
	}
	return key, nil
}
