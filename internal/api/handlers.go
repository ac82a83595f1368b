package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/content"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/genai"
	"github.com/quillpost/quillpost-backend/internal/jobs"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc    *content.Services
	models genai.Lister
	db     interfaces.Database
	cache  Pinger
	logger *zap.SugaredLogger

	events        jobs.EventPublisher
	eventsChannel string
}

// NewHandler wires the content services to HTTP. models may be nil when
// no provider key is configured; /v1/models then answers 503.
func NewHandler(svc *content.Services, models genai.Lister, db interfaces.Database, cache Pinger, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		svc:    svc,
		models: models,
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// WithEvents makes manual publishes announce themselves on channel, the
// same way scheduled ones do.
func (h *Handler) WithEvents(events jobs.EventPublisher, channel string) *Handler {
	h.events = events
	h.eventsChannel = channel
	return h
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ready", Database: "ok", Cache: "ok"}
	status := http.StatusOK

	if h.db == nil || !h.db.IsHealthy(ctx) {
		resp.Database = "unavailable"
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warnw("cache ping failed", "error", err)
			resp.Cache = "unavailable"
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		writeError(w, http.StatusServiceUnavailable, "MODELS_UNAVAILABLE", "model listing is not configured")
		return
	}
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if models == nil {
		models = []genai.Model{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: models})
}

// Utility methods
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// writeServiceError maps domain and storage errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	message := err.Error()

	var apiErr *genai.APIError
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, content.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, content.ErrUsernameTaken):
		status, code = http.StatusConflict, "USERNAME_TAKEN"
	case errors.Is(err, interfaces.ErrUniqueConstraint):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, content.ErrPostNotPublished):
		status, code = http.StatusConflict, "POST_NOT_PUBLISHED"
	case errors.Is(err, content.ErrSelfFollow):
		status, code = http.StatusBadRequest, "SELF_FOLLOW"
	case errors.Is(err, content.ErrInvalidUsername),
		errors.Is(err, content.ErrInvalidInput),
		errors.Is(err, content.ErrInvalidStatus),
		errors.Is(err, interfaces.ErrValidation),
		errors.Is(err, interfaces.ErrInvalidQuery),
		errors.Is(err, interfaces.ErrForeignKeyConstraint):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, genai.ErrMissingAPIKey):
		status, code = http.StatusServiceUnavailable, "MODELS_UNAVAILABLE"
	case errors.As(err, &apiErr):
		status, code = http.StatusBadGateway, "UPSTREAM_ERROR"
		message = apiErr.Body
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	} else {
		h.logger.Debugw("API error", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeError(w, status, code, message)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", content.ErrInvalidInput, err)
	}
	return nil
}

// pageFrom reads limit and offset query parameters.
func pageFrom(r *http.Request) (content.Page, error) {
	var page content.Page
	for name, dest := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, fmt.Errorf("%w: %s must be a non-negative integer", content.ErrInvalidInput, name)
		}
		*dest = n
	}
	return page, nil
}

func listResponse[T any](data []T, total int64, page content.Page) ListResponse[T] {
	if data == nil {
		data = []T{}
	}
	limit := page.Limit
	if limit <= 0 {
		limit = content.DefaultPageSize
	}
	if limit > content.MaxPageSize {
		limit = content.MaxPageSize
	}
	return ListResponse[T]{Data: data, Total: total, Limit: limit, Offset: page.Offset}
}
