package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/schoolbilling/pkg/api"
	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/middleware"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
	"github.com/platinummonkey/schoolbilling/pkg/storage/postgres"
)

// EnvPrefix prefixes every environment variable read by this package
const EnvPrefix = "SCHOOLBILLING_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Stripe        StripeConfig        `yaml:"stripe"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Reconciler    ReconcilerConfig    `yaml:"reconciler"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	ReplicaURLs []string      `yaml:"replica_urls"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	// AutoMigrate applies embedded migrations on startup
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RedisConfig holds plan cache settings. An empty URL disables the cache.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	PoolSize     int           `yaml:"pool_size"`
	PlanCacheTTL time.Duration `yaml:"plan_cache_ttl"`
}

// StripeConfig holds processor settings
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	APIURL         string `yaml:"api_url"`
	MaxRetries     int64  `yaml:"max_retries"`
	ReactivateMode string `yaml:"reactivate_mode"`
}

// AuthConfig holds token validation settings
type AuthConfig struct {
	TokenCacheSize int           `yaml:"token_cache_size"`
	TokenCacheTTL  time.Duration `yaml:"token_cache_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// ReconcilerConfig holds mirror reconciler settings
type ReconcilerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RateLimitConfig holds per-caller throttling settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// Default returns the configuration used before any file or environment overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxConns:    20,
			MinConns:    2,
			Timeout:     5 * time.Second,
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			MaxRetries:   3,
			PoolSize:     10,
			PlanCacheTTL: billing.DefaultPlanCacheTTL,
		},
		Stripe: StripeConfig{
			MaxRetries:     2,
			ReactivateMode: string(billing.ReactivateSingle),
		},
		Auth: AuthConfig{
			TokenCacheSize: 1024,
			TokenCacheTTL:  time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          string(observability.LogFormatJSON),
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "schoolbilling",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
		Reconciler: ReconcilerConfig{
			Enabled:     true,
			Schedule:    "*/15 * * * *",
			Concurrency: 4,
			Timeout:     10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			BurstSize:         20,
		},
	}
}

// LoadConfig loads configuration in order: defaults, the YAML file named by
// SCHOOLBILLING_CONFIG_FILE, then environment variables. A .env file (or the one
// named by SCHOOLBILLING_ENV_FILE) is loaded first without overriding the real environment.
func LoadConfig() (*Config, error) {
	envFile := getEnv(EnvPrefix+"ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := Default()
	if path := getEnv(EnvPrefix+"CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields with any environment variable that is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv(EnvPrefix+"HOST", s.Host)
	s.Port = getEnv(EnvPrefix+"PORT", s.Port)
	s.ReadTimeout = getEnvDuration(EnvPrefix+"READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration(EnvPrefix+"WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration(EnvPrefix+"IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration(EnvPrefix+"SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AllowedOrigins = getEnvList(EnvPrefix+"ALLOWED_ORIGINS", s.AllowedOrigins)
	s.MaxBodyBytes = getEnvInt64(EnvPrefix+"MAX_BODY_BYTES", s.MaxBodyBytes)

	d := &c.Database
	d.URL = getEnv(EnvPrefix+"POSTGRES_URL", d.URL)
	if replicas := getEnv(EnvPrefix+"POSTGRES_REPLICA_URLS", ""); replicas != "" {
		d.ReplicaURLs = postgres.ParseReplicaURLs(replicas)
	}
	d.MaxConns = getEnvInt(EnvPrefix+"POSTGRES_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt(EnvPrefix+"POSTGRES_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration(EnvPrefix+"POSTGRES_TIMEOUT", d.Timeout)
	d.AutoMigrate = getEnvBool(EnvPrefix+"AUTO_MIGRATE", d.AutoMigrate)

	r := &c.Redis
	r.URL = getEnv(EnvPrefix+"REDIS_URL", r.URL)
	r.Password = getEnv(EnvPrefix+"REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt(EnvPrefix+"REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt(EnvPrefix+"REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt(EnvPrefix+"REDIS_POOL_SIZE", r.PoolSize)
	r.PlanCacheTTL = getEnvDuration(EnvPrefix+"PLAN_CACHE_TTL", r.PlanCacheTTL)

	st := &c.Stripe
	st.SecretKey = getEnv(EnvPrefix+"STRIPE_SECRET_KEY", st.SecretKey)
	st.WebhookSecret = getEnv(EnvPrefix+"STRIPE_WEBHOOK_SECRET", st.WebhookSecret)
	st.APIURL = getEnv(EnvPrefix+"STRIPE_API_URL", st.APIURL)
	st.MaxRetries = getEnvInt64(EnvPrefix+"STRIPE_MAX_RETRIES", st.MaxRetries)
	st.ReactivateMode = getEnv(EnvPrefix+"STRIPE_REACTIVATE_MODE", st.ReactivateMode)

	a := &c.Auth
	a.TokenCacheSize = getEnvInt(EnvPrefix+"TOKEN_CACHE_SIZE", a.TokenCacheSize)
	a.TokenCacheTTL = getEnvDuration(EnvPrefix+"TOKEN_CACHE_TTL", a.TokenCacheTTL)

	o := &c.Observability
	o.LogLevel = getEnv(EnvPrefix+"LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv(EnvPrefix+"LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool(EnvPrefix+"METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool(EnvPrefix+"OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv(EnvPrefix+"OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv(EnvPrefix+"OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv(EnvPrefix+"OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool(EnvPrefix+"OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat(EnvPrefix+"OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	rc := &c.Reconciler
	rc.Enabled = getEnvBool(EnvPrefix+"RECONCILER_ENABLED", rc.Enabled)
	rc.Schedule = getEnv(EnvPrefix+"RECONCILER_SCHEDULE", rc.Schedule)
	rc.Concurrency = getEnvInt(EnvPrefix+"RECONCILER_CONCURRENCY", rc.Concurrency)
	rc.Timeout = getEnvDuration(EnvPrefix+"RECONCILER_TIMEOUT", rc.Timeout)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool(EnvPrefix+"RATE_LIMIT_ENABLED", rl.Enabled)
	rl.RequestsPerMinute = getEnvInt(EnvPrefix+"RATE_LIMIT_PER_MINUTE", rl.RequestsPerMinute)
	rl.BurstSize = getEnvInt(EnvPrefix+"RATE_LIMIT_BURST", rl.BurstSize)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}

	switch billing.ReactivateMode(c.Stripe.ReactivateMode) {
	case billing.ReactivateSingle, billing.ReactivateLegacy:
	default:
		return fmt.Errorf("invalid reactivate mode: %s (must be single or legacy)", c.Stripe.ReactivateMode)
	}

	if _, err := observability.ParseLevel(c.Observability.LogLevel); err != nil {
		return err
	}
	switch observability.LogFormat(c.Observability.LogFormat) {
	case observability.LogFormatJSON, observability.LogFormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Reconciler.Enabled {
		if _, err := cron.ParseStandard(c.Reconciler.Schedule); err != nil {
			return fmt.Errorf("invalid reconciler schedule %q: %w", c.Reconciler.Schedule, err)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.BurstSize <= 0) {
		return fmt.Errorf("rate limit requests per minute and burst size must be positive")
	}

	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// ConnectionConfig converts database settings for the connection manager
func (c *Config) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  c.Database.URL,
		ReplicaURLs: c.Database.ReplicaURLs,
		MaxConns:    c.Database.MaxConns,
		MinConns:    c.Database.MinConns,
		Timeout:     c.Database.Timeout,
	}
}

// RedisClientConfig converts redis settings
func (c *Config) RedisClientConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        c.Redis.URL,
		Password:   c.Redis.Password,
		DB:         c.Redis.DB,
		MaxRetries: c.Redis.MaxRetries,
		PoolSize:   c.Redis.PoolSize,
	}
}

// StripeProcessorConfig converts processor settings
func (c *Config) StripeProcessorConfig() billing.StripeConfig {
	return billing.StripeConfig{
		SecretKey:         c.Stripe.SecretKey,
		APIURL:            c.Stripe.APIURL,
		MaxNetworkRetries: c.Stripe.MaxRetries,
	}
}

// GatewayConfig converts gateway settings
func (c *Config) GatewayConfig() billing.GatewayConfig {
	return billing.GatewayConfig{
		ReactivateMode: billing.ReactivateMode(c.Stripe.ReactivateMode),
		WebhookSecret:  c.Stripe.WebhookSecret,
	}
}

// BillingReconcilerConfig converts reconciler settings
func (c *Config) BillingReconcilerConfig() billing.ReconcilerConfig {
	return billing.ReconcilerConfig{
		Schedule:    c.Reconciler.Schedule,
		Concurrency: c.Reconciler.Concurrency,
		Timeout:     c.Reconciler.Timeout,
	}
}

// OTelConfig converts tracing settings
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// LimiterConfig converts throttling settings
func (c *Config) LimiterConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		BurstSize:         c.RateLimit.BurstSize,
	}
}

// APIConfig converts HTTP surface settings
func (c *Config) APIConfig() api.Config {
	return api.Config{
		AllowedOrigins: c.Server.AllowedOrigins,
		MaxBodyBytes:   c.Server.MaxBodyBytes,
		ServiceName:    c.Observability.OTelServiceName,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
