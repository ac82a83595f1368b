package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/genai"
)

// rpc calls one function and returns the decoded envelope. params is
// raw JSON ("" for none).
func (ts *testServer) rpc(actor, method, params string) JSONRPCResponse {
	ts.t.Helper()
	body := `{"jsonrpc":"2.0","id":7,"method":"` + method + `"`
	if params != "" {
		body += `,"params":` + params
	}
	body += "}"
	return ts.rawRPC(actor, body)
}

func (ts *testServer) rawRPC(actor, body string) JSONRPCResponse {
	ts.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(UserIDHeader, actor)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(ts.t, http.StatusOK, rec.Code, "JSON-RPC errors are sent with HTTP 200")

	var resp JSONRPCResponse
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	assert.Equal(ts.t, "2.0", resp.JSONRPC)
	return resp
}

// resultInto re-decodes the generic result into dest.
func resultInto(t *testing.T, resp JSONRPCResponse, dest interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

func TestJSONRPCEnvelopeErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, JSONRPCParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"users:get"}`, JSONRPCInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"users:drop"}`, JSONRPCMethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"users:get","params":[1,2]}`, JSONRPCInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.rawRPC("", tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestJSONRPCUserFunctions(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")

	var got entities.User
	resultInto(t, ts.rpc("", "users:get", `{"id":"`+ada.ID+`"}`), &got)
	assert.Equal(t, ada.Email, got.Email)

	resultInto(t, ts.rpc("", "users:getByToken", `{"tokenIdentifier":"https://auth.example.com|ada"}`), &got)
	assert.Equal(t, ada.ID, got.ID)

	resp := ts.rpc("", "users:get", `{"id":"missing"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCNotFound, resp.Error.Code)
	assert.EqualValues(t, 7, resp.ID)

	resp = ts.rpc("", "users:incrementUsage", `{"counter":"exports_this_month","delta":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCUnauthorized, resp.Error.Code)

	var usage int64
	resultInto(t, ts.rpc(ada.ID, "users:incrementUsage", `{"counter":"exports_this_month","delta":2}`), &usage)
	assert.Equal(t, int64(2), usage)

	resp = ts.rpc(ada.ID, "users:incrementUsage", `{"counter":"downloads","delta":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestJSONRPCLikesAndFollows(t *testing.T) {
	ts := newTestServer(t)
	ada := ts.user("ada")
	bob := ts.user("bob")
	post := ts.post(ada, "Toggled", entities.PostPublished)

	var toggled ToggleLikeResult
	resultInto(t, ts.rpc(bob.ID, "likes:toggle", `{"postId":"`+post.ID+`"}`), &toggled)
	assert.Equal(t, ToggleLikeResult{Liked: true, LikeCount: 1}, toggled)

	var liked bool
	resultInto(t, ts.rpc(bob.ID, "likes:hasLiked", `{"postId":"`+post.ID+`"}`), &liked)
	assert.True(t, liked)

	resultInto(t, ts.rpc(bob.ID, "likes:toggle", `{"postId":"`+post.ID+`"}`), &toggled)
	assert.Equal(t, ToggleLikeResult{Liked: false, LikeCount: 0}, toggled)

	var following bool
	resultInto(t, ts.rpc(bob.ID, "follows:isFollowing", `{"userId":"`+ada.ID+`"}`), &following)
	assert.False(t, following)

	var counts struct {
		Followers int64 `json:"followers"`
	}
	resultInto(t, ts.rpc("", "follows:counts", `{"userId":"`+ada.ID+`"}`), &counts)
	assert.Zero(t, counts.Followers)

	resp := ts.rpc("00000000-0000-0000-0000-0000000000ff", "likes:toggle", `{"postId":"`+post.ID+`"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)

	var page ListResponse[entities.Post]
	resultInto(t, ts.rpc("", "posts:listPublished", `{"limit":10}`), &page)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 10, page.Limit)
}

func TestJSONRPCModels(t *testing.T) {
	ts := newTestServer(t)
	ts.models.On("ListModels", mock.Anything).Return([]genai.Model{{Name: "models/a"}, {Name: "models/b"}}, nil).Once()

	var models []genai.Model
	resultInto(t, ts.rpc("", "models:list", ""), &models)
	assert.Len(t, models, 2)

	h := NewHandler(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":"x","method":"models:list"}`))
	rec := httptest.NewRecorder()
	h.HandleJSONRPC(rec, req)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCUpstreamError, resp.Error.Code)
	assert.Equal(t, "x", resp.ID)
}

func TestRPCMethodNamesSorted(t *testing.T) {
	names := NewHandler(nil, nil, nil, nil, nil).RPCMethodNames()
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "likes:toggle")
	assert.Contains(t, names, "models:list")
}
