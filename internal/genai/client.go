package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/metrics"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	modelsPath     = "/v1beta/models"

	// bounds a provider that keeps handing out page tokens
	maxPages     = 50
	maxBodyBytes = 8 << 20
)

var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// Model is one entry of the provider's model catalogue. Only Name is
// relied upon; the rest is passed through for the JSON output.
type Model struct {
	Name                       string   `json:"name"`
	BaseModelID                string   `json:"baseModelId,omitempty"`
	Version                    string   `json:"version,omitempty"`
	DisplayName                string   `json:"displayName,omitempty"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"inputTokenLimit,omitempty"`
	OutputTokenLimit           int      `json:"outputTokenLimit,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// APIError is returned when the provider answers with a body that has no
// "models" field. Body holds the raw response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

type listResponse struct {
	Models        *[]Model `json:"models"`
	NextPageToken string   `json:"nextPageToken"`
}

type Config struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	PageSize int
}

type Client struct {
	cfg     Config
	http    *http.Client
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: m,
	}
}

// ListModels returns every model the key can see, in provider order,
// following page tokens until the last page.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	var (
		all   []Model
		token string
		seen  = make(map[string]struct{})
	)
	for page := 0; page < maxPages; page++ {
		resp, err := c.fetchPage(ctx, token)
		if err != nil {
			return nil, err
		}
		all = append(all, (*resp.Models)...)

		token = resp.NextPageToken
		if token == "" {
			return all, nil
		}
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("provider repeated page token %q", token)
		}
		seen[token] = struct{}{}
	}
	return nil, fmt.Errorf("model listing exceeded %d pages", maxPages)
}

func (c *Client) fetchPage(ctx context.Context, pageToken string) (*listResponse, error) {
	u, err := url.Parse(c.cfg.BaseURL + modelsPath)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("key", c.cfg.APIKey)
	if c.cfg.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordGenAIRequest(ctx, "transport_error")
		// url.Error embeds the full URL, key included
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		c.logger.Errorw("model listing request failed", "url", redactURL(u), "error", err)
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.metrics.RecordGenAIRequest(ctx, "transport_error")
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}

	c.logger.Debugw("model listing response",
		"url", redactURL(u),
		"status", res.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.metrics.RecordGenAIRequest(ctx, "decode_error")
		return nil, fmt.Errorf("failed to decode models response (status %d): %w", res.StatusCode, err)
	}
	if parsed.Models == nil {
		c.metrics.RecordGenAIRequest(ctx, "api_error")
		return nil, &APIError{StatusCode: res.StatusCode, Body: string(body)}
	}

	c.metrics.RecordGenAIRequest(ctx, "ok")
	return &parsed, nil
}

func redactURL(u *url.URL) string {
	clean := *u
	q := clean.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
	}
	clean.RawQuery = q.Encode()
	return clean.String()
}
