package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ModelsCacheTTL)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Gemini.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Jobs.PublishInterval)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Security.CORSAllowedOrigins)
	assert.Error(t, cfg.RequireGeminiKey())
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("QP_ENV", "prod")
	t.Setenv("QP_DB_TYPE", "SQLite")
	t.Setenv("QP_DB_DSN", "/tmp/qp.db")
	t.Setenv("QP_GEMINI_BASE_URL", "http://127.0.0.1:9999/")
	t.Setenv("QP_GEMINI_PAGE_SIZE", "50")
	t.Setenv("QP_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "/tmp/qp.db", cfg.Database.DSN)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Gemini.BaseURL)
	assert.Equal(t, 50, cfg.Gemini.PageSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.CORSAllowedOrigins)
	assert.NoError(t, cfg.RequireGeminiKey())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad env", map[string]string{"QP_ENV": "staging"}},
		{"sql without dsn", map[string]string{"QP_DB_TYPE": "postgres"}},
		{"unknown db", map[string]string{"QP_DB_TYPE": "mongo"}},
		{"relative base url", map[string]string{"QP_GEMINI_BASE_URL": "localhost"}},
		{"zero interval", map[string]string{"QP_PUBLISH_INTERVAL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// chdir keeps .env files of the working tree out of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
