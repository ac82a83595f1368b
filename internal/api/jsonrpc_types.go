package api

import "encoding/json"

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSON-RPC 2.0 response structure
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSON-RPC 2.0 error structure
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Parameter shapes shared by the content functions.
type (
	idParams struct {
		ID string `json:"id"`
	}
	postParams struct {
		PostID string `json:"postId"`
	}
	userParams struct {
		UserID string `json:"userId"`
	}
	tokenParams struct {
		TokenIdentifier string `json:"tokenIdentifier"`
	}
	searchParams struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	listParams struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	usageParams struct {
		Counter string `json:"counter"`
		Delta   int64  `json:"delta"`
	}
)

// ToggleLikeResult is returned by likes:toggle.
type ToggleLikeResult struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"likeCount"`
}

// JSON-RPC error codes (following standard)
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// Application errors
	JSONRPCNotFound      = -32001
	JSONRPCForbidden     = -32003
	JSONRPCUnauthorized  = -32004
	JSONRPCConflict      = -32009
	JSONRPCUpstreamError = -32050
)
