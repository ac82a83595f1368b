package entities

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Comment moderation states
const (
	CommentApproved = "approved"
	CommentPending  = "pending"
	CommentRejected = "rejected"
)

// Comment is a reader comment on a post. AuthorID is nil for anonymous
// comments, which carry a display name and optional email instead.
type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"post_id"`
	AuthorID    *string   `json:"author_id,omitempty"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail *string   `json:"author_email,omitempty"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommentSchema defines the database schema for comments
var CommentSchema = &interfaces.Schema{
	TableName: "comments",
	Fields: map[string]interfaces.FieldSchema{
		"id":           idField(),
		"post_id":      ref("posts", interfaces.OnDeleteCascade, false),
		"author_id":    ref("users", interfaces.OnDeleteSetNull, true),
		"author_name":  {Type: interfaces.FieldString},
		"author_email": {Type: interfaces.FieldString, Nullable: true},
		"content":      {Type: interfaces.FieldString},
		"status": {
			Type:         interfaces.FieldString,
			Enum:         []string{CommentApproved, CommentPending, CommentRejected},
			DefaultValue: CommentPending,
		},
		"created_at": timeField(),
	},
	Indexes: []interfaces.Index{
		{Name: "comments_by_post", Columns: []string{"post_id"}},
		{Name: "comments_by_post_status", Columns: []string{"post_id", "status"}},
		{Name: "comments_by_author", Columns: []string{"author_id"}},
	},
}

// CommentFromRecord converts a repository row into a Comment
func CommentFromRecord(r Record) (Comment, error) {
	var c Comment
	var errs [8]error
	c.ID, errs[0] = str(r, "id")
	c.PostID, errs[1] = str(r, "post_id")
	c.AuthorID, errs[2] = optStr(r, "author_id")
	c.AuthorName, errs[3] = str(r, "author_name")
	c.AuthorEmail, errs[4] = optStr(r, "author_email")
	c.Content, errs[5] = str(r, "content")
	c.Status, errs[6] = str(r, "status")
	c.CreatedAt, errs[7] = timestamp(r, "created_at")
	return c, firstErr(errs[:]...)
}

// Record returns the writable columns of the comment
func (c Comment) Record() Record {
	rec := Record{
		"post_id":      c.PostID,
		"author_id":    nullable(c.AuthorID),
		"author_name":  c.AuthorName,
		"author_email": nullable(c.AuthorEmail),
		"content":      c.Content,
		"status":       c.Status,
	}
	if c.ID != "" {
		rec["id"] = c.ID
	}
	return rec
}
