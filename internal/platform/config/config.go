// Package config loads server configuration from defaults, an optional YAML
// file and TASKGATE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "TASKGATE"

// Idempotency backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Server     Server     `mapstructure:"server"`
	Auth       Auth       `mapstructure:"auth"`
	Database   Database   `mapstructure:"database"`
	Redis      Redis      `mapstructure:"redis"`
	Kafka      Kafka      `mapstructure:"kafka"`
	RateLimit  RateLimit  `mapstructure:"rate_limit"`
	Automation Automation `mapstructure:"automation"`
	Log        Log        `mapstructure:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type Auth struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
}

// Database is optional; an empty DSN selects in-memory stores.
type Database struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Redis is optional; an empty URL disables it.
type Redis struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Kafka is optional; no brokers disables the audit publisher.
type Kafka struct {
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
	// Partitions and ReplicationFactor apply only when the topic is created
	// at startup; -1 uses the broker default.
	Partitions        int32 `mapstructure:"partitions"`
	ReplicationFactor int16 `mapstructure:"replication_factor"`
	// RetryCooldown is how long an unreachable broker is skipped.
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"`
}

// RateLimit caps requests per tenant over a sliding window. The Redis
// backend falls back to memory while Redis is unreachable.
type RateLimit struct {
	Enabled           bool          `mapstructure:"enabled"`
	Backend           string        `mapstructure:"backend"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	// GlobalRPS caps the whole process before authentication; 0 disables it.
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`
}

type Automation struct {
	CatalogPath        string        `mapstructure:"catalog_path"`
	Timezone           string        `mapstructure:"timezone"`
	IdempotencyBucket  time.Duration `mapstructure:"idempotency_bucket"`
	IdempotencyBackend string        `mapstructure:"idempotency_backend"`
	MaxCandidates      int           `mapstructure:"max_candidates"`
	Parser             ParserLimits  `mapstructure:"parser"`
}

// ParserLimits are the intent parser work caps. Zero keeps the built-in default.
type ParserLimits struct {
	MaxInputBytes   int `mapstructure:"max_input_bytes"`
	MaxScanBytes    int `mapstructure:"max_scan_bytes"`
	MaxFencedBlocks int `mapstructure:"max_fenced_blocks"`
	MaxKeyPositions int `mapstructure:"max_key_positions"`
	MaxCandidates   int `mapstructure:"max_candidates"`
	MaxDepth        int `mapstructure:"max_depth"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("auth.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("auth.jwt_issuer", "taskgate")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.audit_topic", "taskgate.audit")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", -1)
	v.SetDefault("kafka.retry_cooldown", 30*time.Second)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", BackendMemory)
	v.SetDefault("rate_limit.requests_per_window", 120)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.global_rps", 200.0)
	v.SetDefault("rate_limit.global_burst", 400)
	v.SetDefault("automation.catalog_path", "")
	v.SetDefault("automation.timezone", "Asia/Seoul")
	v.SetDefault("automation.idempotency_bucket", 5*time.Minute)
	v.SetDefault("automation.idempotency_backend", BackendMemory)
	v.SetDefault("automation.max_candidates", 5)
	v.SetDefault("automation.parser.max_input_bytes", 0)
	v.SetDefault("automation.parser.max_scan_bytes", 0)
	v.SetDefault("automation.parser.max_fenced_blocks", 0)
	v.SetDefault("automation.parser.max_key_positions", 0)
	v.SetDefault("automation.parser.max_candidates", 0)
	v.SetDefault("automation.parser.max_depth", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with and normalizes case.
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Automation.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("automation.timezone %q is not a known zone", c.Automation.Timezone))
	}
	if c.Automation.IdempotencyBucket <= 0 {
		errs = append(errs, fmt.Errorf("automation.idempotency_bucket must be > 0, got %s", c.Automation.IdempotencyBucket))
	}

	backend := strings.ToLower(strings.TrimSpace(c.Automation.IdempotencyBackend))
	switch backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("automation.idempotency_backend postgres requires database.dsn"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("automation.idempotency_backend redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("automation.idempotency_backend must be one of postgres, redis, memory; got %q", c.Automation.IdempotencyBackend))
	}
	c.Automation.IdempotencyBackend = backend

	rlBackend := strings.ToLower(strings.TrimSpace(c.RateLimit.Backend))
	switch rlBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("rate_limit.backend redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be one of redis, memory; got %q", c.RateLimit.Backend))
	}
	c.RateLimit.Backend = rlBackend
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit requires requests_per_window >= 1 and a positive window"))
	}
	if c.RateLimit.GlobalRPS < 0 || (c.RateLimit.GlobalRPS > 0 && c.RateLimit.GlobalBurst < 1) {
		errs = append(errs, errors.New("rate_limit.global_rps must be >= 0 with global_burst >= 1"))
	}

	if c.Automation.MaxCandidates < 1 {
		errs = append(errs, fmt.Errorf("automation.max_candidates must be >= 1, got %d", c.Automation.MaxCandidates))
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Log.Level = level
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level))
	}
	format := strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch format {
	case "json", "text":
		c.Log.Format = format
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text; got %q", c.Log.Format))
	}

	if c.Server.Environment == "production" && c.Auth.JWTSigningKey == "dev-secret-key-change-in-production" {
		errs = append(errs, errors.New("auth.jwt_signing_key must be set in production"))
	}
	return errors.Join(errs...)
}

// Location returns the configured zone. Call after Validate.
func (a Automation) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
