package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the insight engine.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Insights   InsightsConfig   `mapstructure:"insights"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Health     HealthConfig     `mapstructure:"health"`
}

// ServiceConfig contains HTTP server settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	HealthPort      int           `mapstructure:"health_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// AuthConfig contains request authentication settings.
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SkipAuth bool   `mapstructure:"skip_auth"` // Development mode
	JWTSecret string `mapstructure:"jwt_secret"`

	// ServiceKeys maps an internal caller name to a bcrypt hash of its API key.
	ServiceKeys map[string]string `mapstructure:"service_keys"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"` // "json" or "console"
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DatabaseConfig contains PostgreSQL settings for the lexical store
// and search history.
type DatabaseConfig struct {
	// URL takes precedence over the discrete fields when set.
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConnectionString builds a lib/pq DSN from the discrete fields, or returns
// URL verbatim when it is set.
func (dc DatabaseConfig) ConnectionString() string {
	if dc.URL != "" {
		return dc.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dc.Host, dc.Port, dc.User, dc.Password, dc.Database, dc.SSLMode)
}

// RedisConfig contains Redis settings shared by the insight cache,
// the embedding cache, and the rate limiter.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// VectorConfig contains the dense vector store settings.
type VectorConfig struct {
	URL        string        `mapstructure:"url"`
	Collection string        `mapstructure:"collection"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EmbeddingsConfig contains the embedding service settings.
type EmbeddingsConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	DefaultModel  string        `mapstructure:"default_model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MaxLRU        int           `mapstructure:"max_lru"`
	UseRedisCache bool          `mapstructure:"use_redis_cache"`
}

// LLMConfig contains settings for the chat completion provider.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Provider       string        `mapstructure:"provider"` // rate table lookup key
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // HTTP client backstop, per-task deadlines are tighter
}

// RetrievalConfig contains the hybrid search tuning knobs. These can be
// adjusted at runtime through the tuning watcher.
type RetrievalConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxChunks           int     `mapstructure:"max_chunks"`
	RRFK                int     `mapstructure:"rrf_k"`
	MinResultsThreshold int     `mapstructure:"min_results_threshold"`
	EnableFallback      bool    `mapstructure:"enable_fallback"`
	EnableDensityCalc   bool    `mapstructure:"enable_density_calc"`
}

// InsightsConfig contains insight generation settings.
type InsightsConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"` // Per insight task
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	MaxContextChunks    int           `mapstructure:"max_context_chunks"`
	SummaryChunksPerDoc int           `mapstructure:"summary_chunks_per_doc"`
	AnswerChunksPerDoc  int           `mapstructure:"answer_chunks_per_doc"`
}

// RateLimitConfig contains per-caller rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// HealthConfig contains health check settings.
type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Default returns the baseline configuration. File and environment values
// are layered on top of it by Load.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8080,
			HealthPort:      8081,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
		},
		Auth: AuthConfig{
			Enabled:   true,
			SkipAuth:  false,
			JWTSecret: "",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
			Encoding:    "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "lantern-engine",
			OTLPEndpoint: "localhost:4317",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "lantern",
			Database:        "lantern",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:      "redis://localhost:6379/0",
			PoolSize: 10,
		},
		Vector: VectorConfig{
			URL:        "http://localhost:6333",
			Collection: "document_chunks",
			Timeout:    3 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:       "http://localhost:8000",
			DefaultModel:  "text-embedding-3-small",
			Timeout:       5 * time.Second,
			CacheTTL:      time.Hour,
			MaxLRU:        2048,
			UseRedisCache: false,
		},
		LLM: LLMConfig{
			BaseURL:        "http://localhost:8000",
			Model:          "gpt-4o-mini",
			Provider:       "openai",
			RequestTimeout: 60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.6,
			MaxChunks:           50,
			RRFK:                10,
			MinResultsThreshold: 3,
			EnableFallback:      true,
			EnableDensityCalc:   true,
		},
		Insights: InsightsConfig{
			Timeout:             15 * time.Second,
			CacheTTL:            24 * time.Hour,
			MaxContextChunks:    16,
			SummaryChunksPerDoc: 6,
			AnswerChunksPerDoc:  4,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
		},
	}
}

// Load reads configuration from CONFIG_PATH (or ./config/lantern.yaml when
// unset), layers environment overrides on top, and validates the result.
// A missing file is only an error when CONFIG_PATH points at it explicitly.
func Load() (*Config, error) {
	cfg := Default()

	cfgPath := os.Getenv("CONFIG_PATH")
	explicit := cfgPath != ""
	if cfgPath == "" {
		cfgPath = "config/lantern.yaml"
	}

	if _, err := os.Stat(cfgPath); err == nil {
		v := viper.New()
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", cfgPath, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides maps deployment environment variables onto the config.
// Environment wins over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.Port = p
		}
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.HealthPort = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("VECTOR_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("VECTOR_COLLECTION"); v != "" {
		cfg.Vector.Collection = v
	}
	if v := os.Getenv("EMBEDDER_URL"); v != "" {
		cfg.Embeddings.BaseURL = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GATEWAY_SKIP_AUTH"); v == "1" || v == "true" {
		cfg.Auth.SkipAuth = true
	}
	if v := os.Getenv("TRACING_ENABLED"); v == "1" || v == "true" {
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service port must be between 1 and 65535, got %d", c.Service.Port)
	}
	if c.Service.HealthPort < 1 || c.Service.HealthPort > 65535 {
		return fmt.Errorf("health port must be between 1 and 65535, got %d", c.Service.HealthPort)
	}
	if err := ValidateRetrieval(c.Retrieval); err != nil {
		return err
	}
	if c.Insights.Timeout <= 0 {
		return fmt.Errorf("insights timeout must be positive, got %v", c.Insights.Timeout)
	}
	if c.Insights.CacheTTL <= 0 {
		return fmt.Errorf("insights cache TTL must be positive, got %v", c.Insights.CacheTTL)
	}
	if c.Insights.MaxContextChunks < 1 {
		return fmt.Errorf("insights max_context_chunks must be at least 1, got %d", c.Insights.MaxContextChunks)
	}
	if c.Auth.Enabled && !c.Auth.SkipAuth && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters when auth is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate limit requests_per_minute must be at least 1, got %d", c.RateLimit.RequestsPerMinute)
	}
	return nil
}

// ValidateRetrieval checks the retrieval tuning knobs. It is shared with the
// tuning watcher so a bad hot-reload never reaches the search pipeline.
func ValidateRetrieval(rc RetrievalConfig) error {
	if rc.SimilarityThreshold < 0 || rc.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1, got %v", rc.SimilarityThreshold)
	}
	if rc.MaxChunks < 1 {
		return fmt.Errorf("max_chunks must be at least 1, got %d", rc.MaxChunks)
	}
	if rc.RRFK < 1 {
		return fmt.Errorf("rrf_k must be at least 1, got %d", rc.RRFK)
	}
	if rc.MinResultsThreshold < 0 {
		return fmt.Errorf("min_results_threshold cannot be negative, got %d", rc.MinResultsThreshold)
	}
	return nil
}
