// Package config loads service configuration from defaults, an optional file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names the environment variable holding an optional config file path.
const FileEnv = "DEGREEPROOF_CONFIG"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	Environment  string       `mapstructure:"environment"`
	LogLevel     string       `mapstructure:"log_level"`
	Server       Server       `mapstructure:"server"`
	Auth         Auth         `mapstructure:"auth"`
	Store        Store        `mapstructure:"store"`
	Database     Database     `mapstructure:"database"`
	Redis        RedisConfig  `mapstructure:"redis"`
	Keys         Keys         `mapstructure:"keys"`
	Issuer       Issuer       `mapstructure:"issuer"`
	Verification Verification `mapstructure:"verification"`
	Audit        Audit        `mapstructure:"audit"`
	RateLimit    RateLimit    `mapstructure:"rate_limit"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// Auth configures validation of role tokens minted by the identity provider.
type Auth struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

// Store selects the record store backend.
type Store struct {
	Backend string `mapstructure:"backend"`
}

// Database configures the Postgres pool used by the postgres backend and the audit store.
type Database struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig configures the Redis record store backend.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Keys configures institute signing keys. Institutes listed only in
// PublicKeys ("<institute>=ed25519:<base64>") are verify-only.
type Keys struct {
	MasterSecret string   `mapstructure:"master_secret"`
	PublicKeys   []string `mapstructure:"public_keys"`
}

// Issuer holds issuance policy.
type Issuer struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	BulkConcurrency int           `mapstructure:"bulk_concurrency"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	MaxBulkRows     int           `mapstructure:"max_bulk_rows"`
}

// Verification holds matching policy and the extractor boundary.
type Verification struct {
	MatchThreshold      float64       `mapstructure:"match_threshold"`
	CompareFields       []string      `mapstructure:"compare_fields"`
	ExtractionTimeout   time.Duration `mapstructure:"extraction_timeout"`
	ExtractorURL        string        `mapstructure:"extractor_url"`
	ExtractorAPIKey     string        `mapstructure:"extractor_api_key"`
	MaxDocumentBytes    int           `mapstructure:"max_document_bytes"`
	AllowedContentTypes []string      `mapstructure:"allowed_content_types"`
}

// Audit configures where verification results are streamed besides the primary store.
type Audit struct {
	Backend       string        `mapstructure:"backend"`
	KafkaBrokers  string        `mapstructure:"kafka_brokers"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
	KafkaGroupID  string        `mapstructure:"kafka_group_id"`
	NATSURL       string        `mapstructure:"nats_url"`
	NATSSubject   string        `mapstructure:"nats_subject"`
	AsyncBuffer   int           `mapstructure:"async_buffer"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	// Outbox streams to Kafka through audit_outbox instead of publishing inline.
	Outbox             bool          `mapstructure:"outbox"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxRetention    time.Duration `mapstructure:"outbox_retention"`
}

// RateLimit bounds verification calls per actor. A zero limit disables it.
type RateLimit struct {
	Backend      string        `mapstructure:"backend"`
	VerifyLimit  int           `mapstructure:"verify_limit"`
	VerifyWindow time.Duration `mapstructure:"verify_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 25*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("auth.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("auth.issuer", "http://localhost:8080")
	v.SetDefault("auth.audience", "degreeproof")
	v.SetDefault("auth.token_ttl", 15*time.Minute)

	v.SetDefault("store.backend", BackendMemory)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("keys.master_secret", "dev-master-secret-change-in-production")
	v.SetDefault("keys.public_keys", []string{})

	v.SetDefault("issuer.default_ttl", time.Duration(0))
	v.SetDefault("issuer.bulk_concurrency", 8)
	v.SetDefault("issuer.max_retries", 3)
	v.SetDefault("issuer.retry_interval", 10*time.Millisecond)
	v.SetDefault("issuer.max_bulk_rows", 5000)

	v.SetDefault("verification.match_threshold", 0.9)
	v.SetDefault("verification.compare_fields", []string{})
	v.SetDefault("verification.extraction_timeout", 10*time.Second)
	v.SetDefault("verification.extractor_url", "")
	v.SetDefault("verification.extractor_api_key", "")
	v.SetDefault("verification.max_document_bytes", 10<<20)
	v.SetDefault("verification.allowed_content_types", []string{
		"application/pdf", "image/png", "image/jpeg", "text/plain",
	})

	v.SetDefault("audit.backend", BackendMemory)
	v.SetDefault("audit.kafka_brokers", "")
	v.SetDefault("audit.kafka_topic", "degreeproof.verifications")
	v.SetDefault("audit.kafka_group_id", "degreeproof-audit-mirror")
	v.SetDefault("audit.nats_url", "")
	v.SetDefault("audit.nats_subject", "degreeproof.verifications")
	v.SetDefault("audit.async_buffer", 1024)
	v.SetDefault("audit.stream_timeout", 5*time.Second)
	v.SetDefault("rate_limit.backend", BackendMemory)
	v.SetDefault("rate_limit.verify_limit", 120)
	v.SetDefault("rate_limit.verify_window", time.Minute)

	v.SetDefault("audit.outbox", false)
	v.SetDefault("audit.outbox_poll_interval", 250*time.Millisecond)
	v.SetDefault("audit.outbox_batch_size", 100)
	v.SetDefault("audit.outbox_retention", 7*24*time.Hour)
}

// Load reads the file named by DEGREEPROOF_CONFIG, if any, then the environment.
func Load() (Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file; empty means defaults and environment only.
// Environment keys are the config keys upper-cased with dots as underscores,
// e.g. VERIFICATION_MATCH_THRESHOLD.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Verification.CompareFields = splitList(cfg.Verification.CompareFields)
	cfg.Verification.AllowedContentTypes = splitList(cfg.Verification.AllowedContentTypes)
	cfg.Keys.PublicKeys = splitList(cfg.Keys.PublicKeys)
	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList flattens comma-separated entries so list values work from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("store.backend=postgres requires database.url"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("store.backend=redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be memory, postgres or redis, got %q", c.Store.Backend))
	}
	switch c.Audit.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("audit.backend=postgres requires database.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.backend must be memory or postgres, got %q", c.Audit.Backend))
	}
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("rate_limit.backend=redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.VerifyLimit < 0 {
		errs = append(errs, errors.New("rate_limit.verify_limit must not be negative"))
	}
	if c.Audit.Outbox {
		if c.Audit.Backend != BackendPostgres {
			errs = append(errs, errors.New("audit.outbox requires audit.backend=postgres"))
		}
		if c.Audit.KafkaBrokers == "" {
			errs = append(errs, errors.New("audit.outbox requires audit.kafka_brokers"))
		}
	}
	if t := c.Verification.MatchThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("verification.match_threshold must be in (0, 1], got %v", t))
	}
	if c.Verification.MaxDocumentBytes <= 0 {
		errs = append(errs, errors.New("verification.max_document_bytes must be positive"))
	}
	if c.Issuer.BulkConcurrency <= 0 {
		errs = append(errs, errors.New("issuer.bulk_concurrency must be positive"))
	}
	if c.Issuer.DefaultTTL < 0 {
		errs = append(errs, errors.New("issuer.default_ttl must not be negative"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	return errors.Join(errs...)
}

// IsDev reports whether development defaults are acceptable.
func (c Config) IsDev() bool {
	return c.Environment == "dev" || c.Environment == "test"
}
