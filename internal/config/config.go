package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/corkboard/server/internal/validation"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	AI          AIConfig          `yaml:"ai"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Redis       RedisConfig       `yaml:"redis"`
	Similarity  SimilarityConfig  `yaml:"similarity"`
	Environment string            `yaml:"environment"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MaxIdle        int    `yaml:"max_idle"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	JWTExpiry  time.Duration `yaml:"jwt_expiry"`
	Issuer     string        `yaml:"issuer"`
	CookieName string        `yaml:"cookie_name"`
}

type RateLimitConfig struct {
	PublicPerMinute        int      `yaml:"public_per_minute"`
	AuthenticatedPerMinute int      `yaml:"authenticated_per_minute"`
	TrustedProxyCIDRs      []string `yaml:"trusted_proxy_cidrs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// PipelineConfig controls how label scans are claimed and processed.
type PipelineConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        int           `yaml:"max_retries"`
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	StaleClaimAfter   time.Duration `yaml:"stale_claim_after"`
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
}

// AIConfig points at an OpenAI-compatible chat completions endpoint.
type AIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

type ObjectStoreConfig struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Bucket         string `yaml:"bucket"`
	UseSSL         bool   `yaml:"use_ssl"`
	PublicBaseURL  string `yaml:"public_base_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// RedisConfig enables response caching when URL is set.
type RedisConfig struct {
	URL           string        `yaml:"url"`
	SimilarityTTL time.Duration `yaml:"similarity_ttl"`
}

type SimilarityConfig struct {
	DefaultLimit int     `yaml:"default_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	Threshold    float64 `yaml:"threshold"`
	Dimensions   int     `yaml:"dimensions"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from environment variables and, when path is
// non-empty, overlays the values found in the YAML file at path.
func LoadFile(path string) (Config, error) {
	cfg := fromEnv()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv() Config {
	return Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8080),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			JWTExpiry:  time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24*14)) * time.Hour,
			Issuer:     getEnv("JWT_ISSUER", "corkboard"),
			CookieName: getEnv("SESSION_COOKIE_NAME", "corkboard_session"),
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:        getEnvInt("RATE_LIMIT_PUBLIC", 60),
			AuthenticatedPerMinute: getEnvInt("RATE_LIMIT_AUTHENTICATED", 300),
			TrustedProxyCIDRs:      getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "corkboard"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Pipeline: PipelineConfig{
			BatchSize:         getEnvInt("PIPELINE_BATCH_SIZE", 10),
			MaxRetries:        getEnvInt("PIPELINE_MAX_RETRIES", 3),
			Concurrency:       getEnvInt("PIPELINE_CONCURRENCY", 4),
			PollInterval:      getEnvDuration("PIPELINE_POLL_INTERVAL", 30*time.Second),
			StaleClaimAfter:   getEnvDuration("PIPELINE_STALE_CLAIM_AFTER", 15*time.Minute),
			ExtractionTimeout: getEnvDuration("PIPELINE_EXTRACTION_TIMEOUT", 60*time.Second),
		},
		AI: AIConfig{
			BaseURL:           getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:            getEnv("AI_API_KEY", ""),
			Model:             getEnv("AI_MODEL", "gpt-4o-mini"),
			RequestsPerSecond: getEnvFloat("AI_REQUESTS_PER_SECOND", 2),
			MaxRetries:        getEnvInt("AI_MAX_RETRIES", 2),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:       getEnv("OBJECT_STORE_ENDPOINT", "localhost:9000"),
			AccessKey:      getEnv("OBJECT_STORE_ACCESS_KEY", ""),
			SecretKey:      getEnv("OBJECT_STORE_SECRET_KEY", ""),
			Bucket:         getEnv("OBJECT_STORE_BUCKET", "label-scans"),
			UseSSL:         getEnvBool("OBJECT_STORE_USE_SSL", false),
			PublicBaseURL:  getEnv("OBJECT_STORE_PUBLIC_BASE_URL", ""),
			MaxUploadBytes: int64(getEnvInt("OBJECT_STORE_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", ""),
			SimilarityTTL: getEnvDuration("REDIS_SIMILARITY_TTL", 5*time.Minute),
		},
		Similarity: SimilarityConfig{
			DefaultLimit: getEnvInt("SIMILARITY_DEFAULT_LIMIT", 10),
			MaxLimit:     getEnvInt("SIMILARITY_MAX_LIMIT", 20),
			Threshold:    getEnvFloat("SIMILARITY_THRESHOLD", 0.60),
			Dimensions:   getEnvInt("SIMILARITY_DIMENSIONS", 512),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

func (c Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Environment == "production" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("PIPELINE_BATCH_SIZE must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxRetries <= 0 {
		return fmt.Errorf("PIPELINE_MAX_RETRIES must be positive, got %d", c.Pipeline.MaxRetries)
	}
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be between 0 and 1, got %v", c.Similarity.Threshold)
	}
	if err := validation.OriginURL(c.Server.BaseURL, "SERVER_BASE_URL", false); err != nil {
		return err
	}
	if err := validation.EndpointURL(c.AI.BaseURL, "AI_BASE_URL", c.Environment == "production"); err != nil {
		return err
	}
	if err := validation.EndpointURL(c.ObjectStore.PublicBaseURL, "OBJECT_STORE_PUBLIC_BASE_URL", false); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
