package entities

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Like records one reader liking a post. UserID is nil for anonymous
// likes; those never collide on likes_by_post_user.
type Like struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    *string   `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LikeSchema defines the database schema for likes
var LikeSchema = &interfaces.Schema{
	TableName: "likes",
	Fields: map[string]interfaces.FieldSchema{
		"id":         idField(),
		"post_id":    ref("posts", interfaces.OnDeleteCascade, false),
		"user_id":    ref("users", interfaces.OnDeleteCascade, true),
		"created_at": timeField(),
	},
	Indexes: []interfaces.Index{
		{Name: "likes_by_post", Columns: []string{"post_id"}},
		{Name: "likes_by_user", Columns: []string{"user_id"}},
		{Name: "likes_by_post_user", Columns: []string{"post_id", "user_id"}, Unique: true},
	},
}

// LikeFromRecord converts a repository row into a Like
func LikeFromRecord(r Record) (Like, error) {
	var l Like
	var errs [4]error
	l.ID, errs[0] = str(r, "id")
	l.PostID, errs[1] = str(r, "post_id")
	l.UserID, errs[2] = optStr(r, "user_id")
	l.CreatedAt, errs[3] = timestamp(r, "created_at")
	return l, firstErr(errs[:]...)
}

// Record returns the writable columns of the like
func (l Like) Record() Record {
	rec := Record{
		"post_id": l.PostID,
		"user_id": nullable(l.UserID),
	}
	if l.ID != "" {
		rec["id"] = l.ID
	}
	return rec
}
