package api

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/genai"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ListResponse wraps one page of a listing.
type ListResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Cache    string `json:"cache,omitempty"`
}

type UsernameRequest struct {
	Username string `json:"username"`
}

type ScheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

type ModerateRequest struct {
	Status string `json:"status"`
}

type LikeResponse struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
}

type ViewResponse struct {
	ViewCount int64 `json:"view_count"`
}

type ModelsResponse struct {
	Models []genai.Model `json:"models"`
}
