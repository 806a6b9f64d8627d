package config

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/bcrypt"

	pkgconfig "github.com/utafrali/rentchain/pkg/config"
	"github.com/utafrali/rentchain/pkg/database"
	"github.com/utafrali/rentchain/pkg/tracing"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the session service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"SESSION_HTTP_PORT" envDefault:"8010"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// StorageBackend selects the repositories: "postgres", or "memory" for
	// local development without a database.
	StorageBackend string `env:"SESSION_STORAGE_BACKEND" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"rentchain"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"rentchain_secret"`
	PostgresDB   string `env:"SESSION_DB_NAME" envDefault:"session_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns           int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns           int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThresholdMS int           `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis backs the refresh rate limiter when enabled so limits hold across replicas.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Credentials
	JWTSecret               string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	AccessTokenTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"10m"`
	RefreshTokenTTL         time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	RefreshCookieName       string        `env:"REFRESH_COOKIE_NAME" envDefault:"refresh_token"`
	RefreshCookieSecure     bool          `env:"REFRESH_COOKIE_SECURE" envDefault:"true"`
	RefreshRateLimit        int           `env:"REFRESH_RATE_LIMIT" envDefault:"5"`
	RefreshRateWindow       time.Duration `env:"REFRESH_RATE_WINDOW" envDefault:"1m"`
	CredentialHashCost      int           `env:"CREDENTIAL_HASH_COST" envDefault:"10"`
	CredentialPurgeInterval time.Duration `env:"CREDENTIAL_PURGE_INTERVAL" envDefault:"1h"`

	// WalletHeaderAuth accepts X-Wallet-Address as an identity hint when no
	// bearer token is present.
	WalletHeaderAuth bool `env:"WALLET_HEADER_AUTH" envDefault:"true"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// pprof is only reachable from these networks.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Forwarding headers are believed only from peers in these networks.
	TrustedProxyCIDRs []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`

	// Tracing
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	ServiceVersion string  `env:"SERVICE_VERSION" envDefault:"dev"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load session config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}

	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", c.AccessTokenTTL)
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL (%s) must exceed ACCESS_TOKEN_TTL (%s)", c.RefreshTokenTTL, c.AccessTokenTTL)
	}
	if c.RefreshRateLimit < 1 || c.RefreshRateWindow <= 0 {
		return fmt.Errorf("refresh rate limit must be positive, got %d per %s", c.RefreshRateLimit, c.RefreshRateWindow)
	}
	if c.CredentialHashCost < bcrypt.MinCost || c.CredentialHashCost > bcrypt.MaxCost {
		return fmt.Errorf("CREDENTIAL_HASH_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.CredentialHashCost)
	}
	if c.CredentialPurgeInterval <= 0 {
		return fmt.Errorf("CREDENTIAL_PURGE_INTERVAL must be positive, got %s", c.CredentialPurgeInterval)
	}
	if c.StorageBackend != StoragePostgres && c.StorageBackend != StorageMemory {
		return fmt.Errorf("SESSION_STORAGE_BACKEND must be %q or %q, got %q", StoragePostgres, StorageMemory, c.StorageBackend)
	}
	if c.RefreshCookieName == "" {
		return fmt.Errorf("REFRESH_COOKIE_NAME must not be empty")
	}
	for _, cidr := range c.TrustedProxyCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXY_CIDRS: invalid CIDR %q: %w", cidr, err)
		}
	}
	return nil
}

// Postgres returns the connection settings for the shared pool constructor.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

// Redis returns the Redis connection settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:         c.RedisHost,
		Port:         c.RedisPort,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// Tracing returns the OpenTelemetry exporter settings.
func (c *Config) Tracing(serviceName string) tracing.Config {
	return tracing.Config{
		Enabled:        c.OTelEnabled,
		ServiceName:    serviceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTelEndpoint,
		Insecure:       c.OTelInsecure,
		SampleRate:     c.OTelSampleRate,
	}
}

// SlowQueryThreshold returns the slow query log threshold.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMS) * time.Millisecond
}
