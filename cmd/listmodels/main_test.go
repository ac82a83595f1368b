package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/genai"
)

func providerStub(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("QP_ENV", "test")
	t.Setenv("QP_GEMINI_BASE_URL", srv.URL)
	t.Setenv("GEMINI_API_KEY", "test-key")
}

func TestRunPrintsModels(t *testing.T) {
	providerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "5", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini-pro"},{"name":"models/embedding-001"}]}`))
	})

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-page-size", "5"}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "Available Gemini Models:\n - models/gemini-pro\n - models/embedding-001\n", stdout.String())
}

func TestRunJSON(t *testing.T) {
	providerStub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini-pro","inputTokenLimit":30720}]}`))
	})

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-json"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var models []genai.Model
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &models))
	require.Len(t, models, 1)
	assert.Equal(t, 30720, models[0].InputTokenLimit)
}

func TestRunPrintsProviderError(t *testing.T) {
	providerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	})

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), nil, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Equal(t, "Error fetching models: {\"error\":{\"message\":\"API key not valid\"}}\n", stderr.String())
}

func TestRunRequiresKey(t *testing.T) {
	providerStub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called without a key")
	})
	t.Setenv("GEMINI_API_KEY", "")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "GEMINI_API_KEY")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"-verbose"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "flag provided but not defined")
}
