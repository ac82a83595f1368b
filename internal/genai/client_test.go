package genai

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second}, nil, nil)
}

func TestListModelsInOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"models/a"},{"name":"models/b"},{"name":"models/c"}]}`))
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	PrintModels(&out, models)
	assert.Equal(t, "Available Gemini Models:\n - models/a\n - models/b\n - models/c\n", out.String())
}

func TestListModelsFollowsPages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{"models":[{"name":"m1"},{"name":"m2"}],"nextPageToken":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"models":[{"name":"m3"}]}`))
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})
	client.cfg.PageSize = 2

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{models[0].Name, models[1].Name, models[2].Name})
}

func TestListModelsEmptyList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestListModelsWithoutModelsField(t *testing.T) {
	body := `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	})

	_, err := client.ListModels(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, body, apiErr.Body)

	var out bytes.Buffer
	PrintError(&out, err)
	assert.Equal(t, "Error fetching models: "+body+"\n", out.String())
	assert.NotContains(t, out.String(), "Available Gemini Models")
}

func TestListModelsNonJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := client.ListModels(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "decode")
}

func TestListModelsTransportErrorRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	client := NewClient(Config{APIKey: "super-secret", BaseURL: srv.URL}, zap.New(core).Sugar(), nil)

	_, err := client.ListModels(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret")

	entries := logs.FilterMessage("model listing request failed").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["url"], "key=REDACTED")
	assert.NotContains(t, entries[0].ContextMap()["url"], "super-secret")
}

func TestListModelsRepeatedPageToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"m"}],"nextPageToken":"same"}`))
	})

	_, err := client.ListModels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated page token")
}

func TestListModelsRequiresKey(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	client.cfg.APIKey = " "

	_, err := client.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPrintModelsJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, PrintModelsJSON(&out, nil))
	assert.Equal(t, "[]\n", out.String())

	out.Reset()
	require.NoError(t, PrintModelsJSON(&out, []Model{{Name: "models/a", DisplayName: "A"}}))
	assert.Contains(t, out.String(), `"displayName": "A"`)
}

func TestPrintErrorPlainError(t *testing.T) {
	var out bytes.Buffer
	PrintError(&out, errors.New("connection refused"))
	assert.Equal(t, "Error fetching models: connection refused\n", out.String())
}
