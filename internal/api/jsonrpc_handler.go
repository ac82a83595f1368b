package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/quillpost/quillpost-backend/internal/content"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/genai"
)

// rpcFunc runs one named function. actor is "" for anonymous callers.
type rpcFunc func(ctx context.Context, actor string, params json.RawMessage) (interface{}, error)

type rpcMethod struct {
	requireUser bool
	call        rpcFunc
}

var errRPCUnauthenticated = errors.New("sign-in required")

// rpcMethods exposes the content functions by "module:function" name,
// for clients that call the backend as a function table instead of
// through REST resources.
func (h *Handler) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"users:get": {call: func(ctx context.Context, _ string, raw json.RawMessage) (interface{}, error) {
			var p idParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Users.Get(ctx, p.ID)
		}},
		"users:getByToken": {call: func(ctx context.Context, _ string, raw json.RawMessage) (interface{}, error) {
			var p tokenParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Users.GetByToken(ctx, p.TokenIdentifier)
		}},
		"users:search": {call: func(ctx context.Context, _ string, raw json.RawMessage) (interface{}, error) {
			var p searchParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Users.Search(ctx, p.Query, p.Limit)
		}},
		"users:incrementUsage": {requireUser: true, call: func(ctx context.Context, actor string, raw json.RawMessage) (interface{}, error) {
			var p usageParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Users.IncrementUsage(ctx, actor, p.Counter, p.Delta)
		}},
		"posts:listPublished": {call: func(ctx context.Context, _ string, raw json.RawMessage) (interface{}, error) {
			var p listParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			page := content.Page{Limit: p.Limit, Offset: p.Offset}
			posts, total, err := h.svc.Posts.ListPublished(ctx, page)
			if err != nil {
				return nil, err
			}
			return listResponse(posts, total, page), nil
		}},
		"posts:search": {call: func(ctx context.Context, _ string, raw json.RawMessage) (interface{}, error) {
			var p searchParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Posts.Search(ctx, p.Query, p.Limit)
		}},
		"likes:hasLiked": {requireUser: true, call: func(ctx context.Context, actor string, raw json.RawMessage) (interface{}, error) {
			var p postParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Likes.HasLiked(ctx, p.PostID, actor)
		}},
		"likes:toggle": {requireUser: true, call: func(ctx context.Context, actor string, raw json.RawMessage) (interface{}, error) {
			var p postParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			liked, count, err := h.svc.Likes.Toggle(ctx, p.PostID, actor)
			if err != nil {
				return nil, err
			}
			return ToggleLikeResult{Liked: liked, LikeCount: count}, nil
		}},
		"follows:isFollowing": {requireUser: true, call: func(ctx context.Context, actor string, raw json.RawMessage) (interface{}, error) {
			var p userParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Follows.IsFollowing(ctx, actor, p.UserID)
		}},
		"follows:counts": {call: func(ctx context.Context, _ string, raw json.RawMessage) (interface{}, error) {
			var p userParams
			if err := decodeParams(raw, &p); err != nil {
				return nil, err
			}
			return h.svc.Follows.Counts(ctx, p.UserID)
		}},
		"models:list": {call: func(ctx context.Context, _ string, _ json.RawMessage) (interface{}, error) {
			if h.models == nil {
				return nil, genai.ErrMissingAPIKey
			}
			return h.models.ListModels(ctx)
		}},
	}
}

// RPCMethodNames lists the function names served by HandleJSONRPC.
func (h *Handler) RPCMethodNames() []string {
	methods := h.rpcMethods()
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleJSONRPC handles JSON-RPC 2.0 requests
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	// Parse JSON-RPC request
	var req JSONRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.sendJSONRPCError(w, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	method, ok := h.rpcMethods()[req.Method]
	if !ok {
		h.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	actor, signedIn := actorFrom(r.Context())
	if method.requireUser && !signedIn {
		h.sendJSONRPCError(w, req.ID, JSONRPCUnauthorized, "Unauthorized", errRPCUnauthenticated.Error())
		return
	}

	result, err := method.call(r.Context(), actor, req.Params)
	if err != nil {
		code, message := rpcErrorCode(err)
		if code == JSONRPCInternalError {
			h.logger.Errorw("RPC call failed", "method", req.Method, "error", err)
			h.sendJSONRPCError(w, req.ID, code, message, nil)
			return
		}
		h.sendJSONRPCError(w, req.ID, code, message, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

func decodeParams(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", content.ErrInvalidInput, err)
	}
	return nil
}

func rpcErrorCode(err error) (int, string) {
	var apiErr *genai.APIError
	switch {
	case errors.Is(err, content.ErrNotFound):
		return JSONRPCNotFound, "Not found"
	case errors.Is(err, content.ErrForbidden):
		return JSONRPCForbidden, "Forbidden"
	case errors.Is(err, content.ErrUsernameTaken),
		errors.Is(err, interfaces.ErrUniqueConstraint),
		errors.Is(err, content.ErrPostNotPublished):
		return JSONRPCConflict, "Conflict"
	case errors.Is(err, content.ErrInvalidInput),
		errors.Is(err, content.ErrInvalidStatus),
		errors.Is(err, content.ErrInvalidUsername),
		errors.Is(err, content.ErrSelfFollow),
		errors.Is(err, interfaces.ErrValidation),
		errors.Is(err, interfaces.ErrForeignKeyConstraint):
		return JSONRPCInvalidParams, "Invalid params"
	case errors.Is(err, genai.ErrMissingAPIKey), errors.As(err, &apiErr):
		return JSONRPCUpstreamError, "Upstream error"
	default:
		return JSONRPCInternalError, "Internal error"
	}
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	// JSON-RPC errors are sent with HTTP 200
	writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
