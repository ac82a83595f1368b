package content

import (
	"errors"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrInvalidUsername  = errors.New("username must be 3-30 characters of a-z, 0-9 or _")
	ErrSelfFollow       = errors.New("users cannot follow themselves")
	ErrPostNotPublished = errors.New("post is not published")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrNotFound is the storage sentinel, re-exported for callers that
	// only import this package.
	ErrNotFound = interfaces.ErrNotFound
)
