package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/store"
)

type SSEHandler struct {
	cache     *store.Cache
	channel   string
	heartbeat time.Duration
	logger    *zap.SugaredLogger
}

func NewSSEHandler(cache *store.Cache, channel string, logger *zap.SugaredLogger) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SSEHandler{
		cache:     cache,
		channel:   channel,
		heartbeat: 30 * time.Second,
		logger:    logger,
	}
}

// HandleSSE streams post events as server-sent events. ?author= limits
// the stream to one author's posts.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	author := r.URL.Query().Get("author")
	ctx := r.Context()

	sub := h.cache.Subscribe(ctx, h.channel)
	defer sub.Close()

	h.logger.Debugw("SSE connection established", "author", author)
	h.sendEvent(w, flusher, "connected", "", nil)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", "", map[string]int64{"timestamp": time.Now().Unix()})

		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event struct {
				Type     string `json:"type"`
				PostID   string `json:"post_id"`
				AuthorID string `json:"author_id"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Warnw("Failed to parse message payload", "error", err)
				continue
			}
			if author != "" && event.AuthorID != author {
				continue
			}
			h.sendEvent(w, flusher, event.Type, event.PostID, json.RawMessage(msg.Payload))
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType, id string, data interface{}) {
	payload := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			h.logger.Errorw("Failed to marshal SSE data", "error", err)
			return
		}
		payload = b
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
