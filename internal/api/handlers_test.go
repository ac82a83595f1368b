package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/content"
	"github.com/quillpost/quillpost-backend/internal/db"
	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/genai"
	"github.com/quillpost/quillpost-backend/internal/jobs"
)

type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListModels(ctx context.Context) ([]genai.Model, error) {
	args := m.Called(ctx)
	models, _ := args.Get(0).([]genai.Model)
	return models, args.Error(1)
}

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	m.Called(method, path, status)
}

type testServer struct {
	t       *testing.T
	router  http.Handler
	svc     *content.Services
	models  *MockLister
	cache   *MockPinger
	metrics *MockMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	database := db.NewInMemoryDatabase()
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	t.Cleanup(func() { _ = database.Disconnect(ctx) })

	ts := &testServer{
		t:       t,
		svc:     content.NewServices(database),
		models:  &MockLister{},
		cache:   &MockPinger{},
		metrics: &MockMetrics{},
	}
	ts.metrics.On("RecordHTTPRequest", mock.Anything, mock.Anything, mock.Anything).Maybe()

	handler := NewHandler(ts.svc, ts.models, database, ts.cache, nil)
	ts.router = handler.Routes(NewMiddleware(nil, ts.metrics), RouterConfig{
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return ts
}

// do sends a request as actor ("" for anonymous) and decodes the JSON
// response into out when out is non-nil.
func (ts *testServer) do(method, path, actor string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(UserIDHeader, actor)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (ts *testServer) user(handle string) entities.User {
	ts.t.Helper()
	var u entities.User
	rec := ts.do(http.MethodPost, "/v1/users", "", content.Identity{
		TokenIdentifier: "https://auth.example.com|" + handle,
		Email:           handle + "@example.com",
		Name:            handle,
	}, &u)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	return u
}

func (ts *testServer) post(author entities.User, title, status string) entities.Post {
	ts.t.Helper()
	var p entities.Post
	rec := ts.do(http.MethodPost, "/v1/posts", author.ID, content.PostInput{Title: title, Content: "<p>x</p>", Status: status}, &p)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return p
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Code
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	ts.cache.On("Ping", mock.Anything).Return(nil).Once()
	var ready HealthResponse
	rec = ts.do(http.MethodGet, "/readyz", "", nil, &ready)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", ready.Status)

	ts.cache.On("Ping", mock.Anything).Return(errors.New("redis down")).Once()
	rec = ts.do(http.MethodGet, "/readyz", "", nil, &ready)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", ready.Cache)
	ts.cache.AssertExpectations(t)

	rec = ts.do(http.MethodGet, "/ping", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/v1/users/abc", "", nil, nil)
	ts.metrics.AssertCalled(t, "RecordHTTPRequest", http.MethodGet,
		mock.MatchedBy(func(path string) bool { return strings.HasPrefix(path, "/v1/users/{id}") }),
		http.StatusNotFound)
}

func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")
	bob := ts.user("bob")

	var got entities.User
	rec := ts.do(http.MethodGet, "/v1/users/"+ada.ID, "", nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", got.Email)

	rec = ts.do(http.MethodGet, "/v1/users/missing", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = ts.do(http.MethodPut, "/v1/users/"+ada.ID+"/username", "", UsernameRequest{Username: "ada"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPut, "/v1/users/"+ada.ID+"/username", bob.ID, UsernameRequest{Username: "ada"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPut, "/v1/users/"+ada.ID+"/username", ada.ID, UsernameRequest{Username: "ada"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPut, "/v1/users/"+bob.ID+"/username", bob.ID, UsernameRequest{Username: "ADA"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "USERNAME_TAKEN", errorCode(t, rec))

	rec = ts.do(http.MethodPut, "/v1/users/"+bob.ID+"/username", bob.ID, UsernameRequest{Username: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/users/by-username/ada", "", nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ada.ID, got.ID)

	var found ListResponse[entities.User]
	rec = ts.do(http.MethodGet, "/v1/users/search?q=bo", "", nil, &found)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, found.Data, 1)
	assert.Equal(t, bob.ID, found.Data[0].ID)

	rec = ts.do(http.MethodPost, "/v1/users", "", map[string]string{"email": "x@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
}

func TestFollowEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")
	bob := ts.user("bob")

	rec := ts.do(http.MethodPost, "/v1/users/"+ada.ID+"/follow", bob.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/v1/users/"+ada.ID+"/follow", ada.ID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SELF_FOLLOW", errorCode(t, rec))

	var counts content.FollowCounts
	rec = ts.do(http.MethodGet, "/v1/users/"+ada.ID+"/follow-counts", "", nil, &counts)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.FollowCounts{Followers: 1}, counts)

	var followers ListResponse[entities.User]
	rec = ts.do(http.MethodGet, "/v1/users/"+ada.ID+"/followers?limit=5", "", nil, &followers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), followers.Total)
	assert.Equal(t, 5, followers.Limit)
	assert.Equal(t, bob.ID, followers.Data[0].ID)

	rec = ts.do(http.MethodGet, "/v1/users/"+ada.ID+"/following?limit=abc", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/v1/users/"+ada.ID+"/follow", bob.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPostEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")
	bob := ts.user("bob")

	rec := ts.do(http.MethodPost, "/v1/posts", "", content.PostInput{Title: "anon"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	draft := ts.post(ada, "Draft thoughts", "")
	live := ts.post(ada, "Shipping Go services", entities.PostPublished)

	// drafts are hidden from everyone but the author
	rec = ts.do(http.MethodGet, "/v1/posts/"+draft.ID, bob.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodGet, "/v1/posts/"+draft.ID, ada.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var list ListResponse[entities.Post]
	rec = ts.do(http.MethodGet, "/v1/posts", "", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), list.Total)

	rec = ts.do(http.MethodGet, "/v1/posts?author="+ada.ID, ada.ID, nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), list.Total)
	rec = ts.do(http.MethodGet, "/v1/posts?author="+ada.ID+"&status=draft", bob.ID, nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), list.Total, "other users only see published posts")

	title := "Hijacked"
	rec = ts.do(http.MethodPatch, "/v1/posts/"+draft.ID, bob.ID, content.PostPatch{Title: &title}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var updated entities.Post
	title = "Final thoughts"
	rec = ts.do(http.MethodPatch, "/v1/posts/"+draft.ID, ada.ID, content.PostPatch{Title: &title}, &updated)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Final thoughts", updated.Title)

	rec = ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/publish", ada.ID, nil, &updated)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.PostPublished, updated.Status)

	rec = ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/unpublish", ada.ID, nil, &updated)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.PostDraft, updated.Status)

	rec = ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/schedule", ada.ID, ScheduleRequest{ScheduledFor: time.Now().Add(time.Hour)}, &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, updated.ScheduledFor)

	var found ListResponse[entities.Post]
	rec = ts.do(http.MethodGet, "/v1/posts/search?q=shipping", "", nil, &found)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, found.Data, 1)
	assert.Equal(t, live.ID, found.Data[0].ID)

	rec = ts.do(http.MethodDelete, "/v1/posts/"+live.ID, bob.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(http.MethodDelete, "/v1/posts/"+live.ID, ada.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/v1/posts/"+live.ID, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewsLikesAndStats(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")
	bob := ts.user("bob")
	post := ts.post(ada, "Popular", entities.PostPublished)
	draft := ts.post(ada, "Hidden", "")

	var view ViewResponse
	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/v1/posts/"+post.ID+"/views", "", nil, &view)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int64(2), view.ViewCount)

	rec := ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/views", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var like LikeResponse
	rec = ts.do(http.MethodPost, "/v1/posts/"+post.ID+"/likes", bob.ID, nil, &like)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LikeResponse{Liked: true, LikeCount: 1}, like)
	rec = ts.do(http.MethodPost, "/v1/posts/"+post.ID+"/likes", bob.ID, nil, &like)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), like.LikeCount)
	rec = ts.do(http.MethodPost, "/v1/posts/"+post.ID+"/likes", "", nil, &like)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), like.LikeCount)

	rec = ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/likes", bob.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "POST_NOT_PUBLISHED", errorCode(t, rec))

	rec = ts.do(http.MethodDelete, "/v1/posts/"+post.ID+"/likes", bob.ID, nil, &like)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LikeResponse{Liked: false, LikeCount: 1}, like)

	var stats []entities.DailyStat
	rec = ts.do(http.MethodGet, "/v1/posts/"+post.ID+"/stats", ada.ID, nil, &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Views)

	rec = ts.do(http.MethodGet, "/v1/posts/"+post.ID+"/stats", bob.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/posts/"+post.ID+"/stats?from=yesterday", ada.ID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var summary content.AuthorSummary
	rec = ts.do(http.MethodGet, "/v1/users/"+ada.ID+"/summary", "", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.AuthorSummary{Posts: 2, Published: 1, Views: 2, Likes: 1}, summary)
}

func TestCommentEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")
	bob := ts.user("bob")
	post := ts.post(ada, "Talk to me", entities.PostPublished)

	var signed entities.Comment
	rec := ts.do(http.MethodPost, "/v1/posts/"+post.ID+"/comments", bob.ID, content.CommentInput{Content: "great"}, &signed)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, entities.CommentApproved, signed.Status)
	require.NotNil(t, signed.AuthorID)
	assert.Equal(t, bob.ID, *signed.AuthorID)

	// a body cannot impersonate another author
	var anon entities.Comment
	rec = ts.do(http.MethodPost, "/v1/posts/"+post.ID+"/comments", "", content.CommentInput{AuthorID: &ada.ID, AuthorName: "Guest", Content: "hello"}, &anon)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, entities.CommentPending, anon.Status)
	assert.Nil(t, anon.AuthorID)

	var list ListResponse[entities.Comment]
	rec = ts.do(http.MethodGet, "/v1/posts/"+post.ID+"/comments", "", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), list.Total)

	rec = ts.do(http.MethodGet, "/v1/posts/"+post.ID+"/comments?status=pending", ada.ID, nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, anon.ID, list.Data[0].ID)

	rec = ts.do(http.MethodPatch, "/v1/comments/"+anon.ID, bob.ID, ModerateRequest{Status: entities.CommentApproved}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(http.MethodPatch, "/v1/comments/"+anon.ID, ada.ID, ModerateRequest{Status: "spam"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPatch, "/v1/comments/"+anon.ID, ada.ID, ModerateRequest{Status: entities.CommentApproved}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodDelete, "/v1/comments/"+signed.ID, "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(http.MethodDelete, "/v1/comments/"+signed.ID, bob.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestModelsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.models.On("ListModels", mock.Anything).Return([]genai.Model{{Name: "models/a"}}, nil).Once()
	var resp ModelsResponse
	rec := ts.do(http.MethodGet, "/v1/models", "", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "models/a", resp.Models[0].Name)

	ts.models.On("ListModels", mock.Anything).Return(nil, &genai.APIError{StatusCode: 403, Body: `{"error":"denied"}`}).Once()
	var errResp ErrorResponse
	rec = ts.do(http.MethodGet, "/v1/models", "", nil, &errResp)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_ERROR", errResp.Code)
	assert.Equal(t, `{"error":"denied"}`, errResp.Message)

	ts.models.AssertExpectations(t)
}

func TestModelsEndpointWithoutProvider(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ListModels(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.RateLimit(6)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRecovererReturnsJSON(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", errorCode(t, rec))
}

type recordingPublisher struct {
	mock.Mock
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.Called(channel, message).Error(0)
}

func TestPublishAnnouncesOnce(t *testing.T) {
	ts := newTestServer(t)
	events := &recordingPublisher{}
	handler := NewHandler(ts.svc, ts.models, nil, nil, nil).WithEvents(events, "qp:events:posts")
	ts.router = handler.Routes(NewMiddleware(nil, nil), RouterConfig{})

	ada := ts.user("ada")
	draft := ts.post(ada, "Coming soon", "")

	events.On("Publish", "qp:events:posts", mock.MatchedBy(func(e jobs.PostEvent) bool {
		return e.Type == jobs.EventPostPublished && e.PostID == draft.ID && e.AuthorID == ada.ID
	})).Return(nil).Once()

	rec := ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/publish", ada.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// publishing again is a no-op and stays quiet
	rec = ts.do(http.MethodPost, "/v1/posts/"+draft.ID+"/publish", ada.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events.AssertExpectations(t)
	events.AssertNumberOfCalls(t, "Publish", 1)
}

func TestEventRoutesBypassTimeout(t *testing.T) {
	ts := newTestServer(t)
	var flushed bool
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushed = w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
	})
	handler := NewHandler(ts.svc, nil, nil, nil, nil)
	router := handler.Routes(NewMiddleware(nil, nil), RouterConfig{EventStream: stream})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, flushed, "event streams must be able to flush")
}
