package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/store"
)

const testChannel = "qp:events:posts"

type event struct {
	Type     string `json:"type"`
	PostID   string `json:"post_id"`
	AuthorID string `json:"author_id"`
}

func startHub(t *testing.T) (*Hub, *store.Cache, *httptest.Server) {
	t.Helper()
	cache := store.NewMemoryCache(nil, nil)
	t.Cleanup(func() { _ = cache.Close() })

	hub := NewHub(cache, testChannel, []string{"http://localhost:3000"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, cache, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubRelaysPostEvents(t *testing.T) {
	hub, cache, srv := startHub(t)
	all := dial(t, srv, "")
	ada := dial(t, srv, "?author=ada")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, cache.Publish(ctx, testChannel, event{Type: "post.published", PostID: "p1", AuthorID: "linus"}))
	require.NoError(t, cache.Publish(ctx, testChannel, event{Type: "post.published", PostID: "p2", AuthorID: "ada"}))

	first := readFrame(t, all)
	assert.Equal(t, "post.published", first.Type)
	assert.Equal(t, TopicPosts, first.Topic)
	var got event
	require.NoError(t, json.Unmarshal(first.Data, &got))
	assert.Equal(t, "p1", got.PostID)
	assert.Equal(t, "p2", mustPostID(t, readFrame(t, all)))

	// the author-scoped client only sees ada's post, under its own topic
	scoped := readFrame(t, ada)
	assert.Equal(t, TopicAuthorPrefix+"ada", scoped.Topic)
	assert.Equal(t, "p2", mustPostID(t, scoped))
}

func TestHubSubscribeFrames(t *testing.T) {
	hub, cache, srv := startHub(t)
	conn := dial(t, srv, "?author=nobody")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", Topics: []string{TopicAuthorPrefix + "grace"}}))
	// give the read pump a moment to apply the frame
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, cache.Publish(context.Background(), testChannel, event{Type: "post.published", PostID: "p3", AuthorID: "grace"}))
	frame := readFrame(t, conn)
	assert.Equal(t, TopicAuthorPrefix+"grace", frame.Topic)
	assert.Equal(t, "p3", mustPostID(t, frame))
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, _, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubDisconnectsOnShutdown(t *testing.T) {
	cache := store.NewMemoryCache(nil, nil)
	defer cache.Close()
	hub := NewHub(cache, testChannel, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSSEStreamsAuthorEvents(t *testing.T) {
	cache := store.NewMemoryCache(nil, nil)
	defer cache.Close()
	srv := httptest.NewServer(http.HandlerFunc(NewSSEHandler(cache, testChannel, nil).HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?author=ada", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		require.True(t, lines.Scan(), "stream ended: %v", lines.Err())
		return lines.Text()
	}
	assert.Equal(t, "event: connected", next())
	assert.Equal(t, "data: {}", next())
	assert.Equal(t, "", next())

	require.NoError(t, cache.Publish(ctx, testChannel, event{Type: "post.published", PostID: "p1", AuthorID: "linus"}))
	require.NoError(t, cache.Publish(ctx, testChannel, event{Type: "post.published", PostID: "p2", AuthorID: "ada"}))

	assert.Equal(t, "event: post.published", next())
	assert.Equal(t, "id: p2", next())
	data := strings.TrimPrefix(next(), "data: ")
	var got event
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "ada", got.AuthorID)
}

func mustPostID(t *testing.T, msg Message) string {
	t.Helper()
	var e event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	return e.PostID
}
