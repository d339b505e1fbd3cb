// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example AWS_REGION becomes aws_region
// in YAML.
//
// AWS_REGION is the only strictly required setting. Credentials may come from
// the environment, the shared credentials file, or an instance profile — the
// AWS SDK's default chain applies when AWS_ACCESS_KEY_ID is unset. Redis is
// optional: set CACHE_MODE=memory to use the built-in in-process cache with
// no external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// AWS holds the Bedrock connection settings.
	AWS AWSConfig

	// KnowledgeBase holds the retrieve-and-generate settings. Leave
	// KnowledgeBase.ID empty to disable the knowledge-base routes.
	KnowledgeBase KnowledgeBaseConfig

	// Models controls alias resolution.
	Models ModelsConfig

	// InvokeTimeout bounds buffered Bedrock calls. Streaming calls are not
	// subject to it. Default: 60s.
	InvokeTimeout time.Duration

	// Redis holds the connection URL for the Redis-backed cache and rate limiter.
	// Required only when CacheMode is "redis".
	Redis RedisConfig

	// Cache controls response caching behaviour.
	Cache CacheConfig

	// RateLimit controls request-rate limiting.
	RateLimit RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// AWSConfig holds AWS connection configuration for both Bedrock services.
type AWSConfig struct {
	// AccessKey is the AWS access key ID. Leave empty to use the SDK's
	// default credential chain.
	AccessKey string
	// SecretKey is the AWS secret access key.
	SecretKey string
	// SessionToken is the optional STS session token for temporary credentials.
	SessionToken string
	// Region is the AWS region, e.g. "us-east-1". Required.
	Region string
	// EndpointURL overrides the Bedrock runtime endpoints. Useful for the
	// local mock server.
	EndpointURL string
}

// KnowledgeBaseConfig holds the retrieve-and-generate settings.
type KnowledgeBaseConfig struct {
	// ID is the Bedrock knowledge base identifier. Empty disables the
	// knowledge-base family entirely.
	ID string

	// ModelARN overrides the generation model for knowledge-base calls.
	// When empty the ARN is derived from the resolved model and region.
	ModelARN string

	// NumResults caps retrieval fan-out per query. Default: 10.
	NumResults int
}

// ModelsConfig controls alias resolution.
type ModelsConfig struct {
	// DefaultModel is the Bedrock model ID used for unknown aliases.
	// Empty uses the built-in default.
	DefaultModel string

	// Aliases are extra alias → model-ID entries merged over the built-in
	// table. Set via MODEL_ALIASES as "alias=model-id" pairs separated by
	// commas, or as a map in YAML.
	Aliases map[string]string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Recommended for production.
	//   "memory" — In-process TTL cache. No external deps; not shared across replicas.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact is a list of exact model names that must never be cached.
	ExcludeExact []string

	// ExcludePatterns is a list of Go regular expressions matched against
	// model names. Requests whose model matches any pattern are not cached.
	// Example: ["^ft:", ".*-preview$"]
	ExcludePatterns []string
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed globally.
	// 0 disables rate limiting. Default: 0.
	RPMLimit int
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// AWS_REGION must be set. REDIS_URL is only required when CACHE_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("INVOKE_TIMEOUT", "60s")
	v.SetDefault("KB_NUM_RESULTS", 10)

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		AWS: AWSConfig{
			AccessKey:    v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey:    v.GetString("AWS_SECRET_ACCESS_KEY"),
			SessionToken: v.GetString("AWS_SESSION_TOKEN"),
			Region:       v.GetString("AWS_REGION"),
			EndpointURL:  v.GetString("BEDROCK_ENDPOINT_URL"),
		},

		KnowledgeBase: KnowledgeBaseConfig{
			ID:         v.GetString("KNOWLEDGE_BASE_ID"),
			ModelARN:   v.GetString("MODEL_ARN"),
			NumResults: v.GetInt("KB_NUM_RESULTS"),
		},

		Models: ModelsConfig{
			DefaultModel: v.GetString("DEFAULT_MODEL_ID"),
			Aliases:      parseAliases(v.Get("MODEL_ALIASES")),
		},

		InvokeTimeout: v.GetDuration("INVOKE_TIMEOUT"),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseAliases accepts either a map (YAML) or a comma-separated
// "alias=model-id" string (env var) and normalizes to map[string]string.
func parseAliases(raw any) map[string]string {
	switch val := raw.(type) {
	case map[string]any:
		out := make(map[string]string, len(val))
		for k, v := range val {
			if s, ok := v.(string); ok && k != "" && s != "" {
				out[k] = s
			}
		}
		return out
	case map[string]string:
		return val
	case string:
		if val == "" {
			return nil
		}
		out := make(map[string]string)
		for _, pair := range strings.Split(val, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k != "" && v != "" {
				out[k] = v
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf(
			"config: AWS_REGION is required (e.g. AWS_REGION=us-east-1)",
		)
	}

	// Access key and secret key go together.
	if (c.AWS.AccessKey == "") != (c.AWS.SecretKey == "") {
		return fmt.Errorf(
			"config: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together; " +
				"leave both empty to use the SDK's default credential chain",
		)
	}

	// Redis URL is required when cache mode is "redis".
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	// The Redis-backed rate limiter needs a Redis connection too.
	if c.RateLimit.RPMLimit > 0 && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when RPM_LIMIT > 0",
		)
	}

	// Validate cache mode value.
	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	// Validate log level.
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.KnowledgeBase.NumResults < 0 {
		return fmt.Errorf("config: KB_NUM_RESULTS must be ≥ 0, got %d", c.KnowledgeBase.NumResults)
	}
	if c.InvokeTimeout <= 0 {
		return fmt.Errorf("config: INVOKE_TIMEOUT must be a positive duration")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
