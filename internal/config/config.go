package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"QP_ENV"`
	HTTPAddr string `mapstructure:"QP_HTTP_ADDR"`

	Database DBConfig       `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Gemini   GeminiConfig   `mapstructure:",squash"`
	Jobs     JobsConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type DBConfig struct {
	Type         string `mapstructure:"QP_DB_TYPE"` // "memory", "sqlite", "postgres"
	DSN          string `mapstructure:"QP_DB_DSN"`
	MaxOpenConns int    `mapstructure:"QP_DB_MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"QP_DB_MAX_IDLE_CONNS"`
}

type CacheConfig struct {
	RedisAddr      string        `mapstructure:"QP_REDIS_ADDR"`
	ModelsCacheTTL time.Duration `mapstructure:"QP_MODELS_CACHE_TTL"`
}

type GeminiConfig struct {
	APIKey   string        `mapstructure:"GEMINI_API_KEY"`
	BaseURL  string        `mapstructure:"QP_GEMINI_BASE_URL"`
	Timeout  time.Duration `mapstructure:"QP_GEMINI_TIMEOUT"`
	PageSize int           `mapstructure:"QP_GEMINI_PAGE_SIZE"`
}

type JobsConfig struct {
	PublishInterval time.Duration `mapstructure:"QP_PUBLISH_INTERVAL"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"QP_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"QP_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
		filepath.Join("..", "..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("QP_ENV", "dev")
	v.SetDefault("QP_HTTP_ADDR", ":8080")
	v.SetDefault("QP_DB_TYPE", "memory")
	v.SetDefault("QP_DB_DSN", "")
	v.SetDefault("QP_DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("QP_DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("QP_REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("QP_MODELS_CACHE_TTL", "10m")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("QP_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("QP_GEMINI_TIMEOUT", "10s")
	v.SetDefault("QP_GEMINI_PAGE_SIZE", 0)
	v.SetDefault("QP_PUBLISH_INTERVAL", "30s")
	v.SetDefault("QP_RATE_LIMIT_RPM", 300)
	v.SetDefault("QP_CORS_ALLOWED_ORIGINS", "http://localhost:3000")

	// Handle array parsing for comma-separated values
	if origins := v.GetString("QP_CORS_ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		v.Set("QP_CORS_ALLOWED_ORIGINS", parts)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.Gemini.BaseURL = strings.TrimRight(cfg.Gemini.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid QP_ENV %q (must be dev, test, or prod)", c.Env)
	}
	switch c.Database.Type {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("QP_DB_DSN is required for QP_DB_TYPE=%s", c.Database.Type)
		}
	default:
		return fmt.Errorf("invalid QP_DB_TYPE %q (must be memory, sqlite, or postgres)", c.Database.Type)
	}
	if u, err := url.Parse(c.Gemini.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("QP_GEMINI_BASE_URL must be an absolute URL, got %q", c.Gemini.BaseURL)
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("QP_GEMINI_TIMEOUT must be positive")
	}
	if c.Gemini.PageSize < 0 {
		return fmt.Errorf("QP_GEMINI_PAGE_SIZE must not be negative")
	}
	if c.Jobs.PublishInterval <= 0 {
		return fmt.Errorf("QP_PUBLISH_INTERVAL must be positive")
	}
	if c.Security.RateLimitRPM <= 0 {
		return fmt.Errorf("QP_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// RequireGeminiKey reports a missing provider key. Only the model
// listing needs one, so Load does not enforce it.
func (c *Config) RequireGeminiKey() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return nil
}
