package entities

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Post statuses
const (
	PostDraft     = "draft"
	PostPublished = "published"
)

// Post represents an article. Content is stored as an opaque string
// (rich text JSON or HTML produced by the editor).
type Post struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Status        string     `json:"status"`
	AuthorID      string     `json:"author_id"`
	Tags          []string   `json:"tags"`
	Category      *string    `json:"category,omitempty"`
	FeaturedImage *string    `json:"featured_image,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	ScheduledFor  *time.Time `json:"scheduled_for,omitempty"`
	ViewCount     int64      `json:"view_count"`
	LikeCount     int64      `json:"like_count"`
}

// PostSchema defines the database schema for posts
var PostSchema = &interfaces.Schema{
	TableName: "posts",
	Fields: map[string]interfaces.FieldSchema{
		"id":      idField(),
		"title":   {Type: interfaces.FieldString},
		"content": {Type: interfaces.FieldString},
		"status": {
			Type:         interfaces.FieldString,
			Enum:         []string{PostDraft, PostPublished},
			DefaultValue: PostDraft,
		},
		"author_id":      ref("users", interfaces.OnDeleteCascade, false),
		"tags":           {Type: interfaces.FieldStringArray, DefaultValue: []string{}},
		"category":       {Type: interfaces.FieldString, Nullable: true},
		"featured_image": {Type: interfaces.FieldString, Nullable: true},
		"created_at":     timeField(),
		"updated_at":     timeField(),
		"published_at":   {Type: interfaces.FieldTime, Nullable: true},
		"scheduled_for":  {Type: interfaces.FieldTime, Nullable: true},
		"view_count":     {Type: interfaces.FieldInt64, DefaultValue: int64(0)},
		"like_count":     {Type: interfaces.FieldInt64, DefaultValue: int64(0)},
	},
	Indexes: []interfaces.Index{
		{Name: "posts_by_author", Columns: []string{"author_id"}},
		{Name: "posts_by_status", Columns: []string{"status"}},
		{Name: "posts_by_published", Columns: []string{"status", "published_at"}},
		{Name: "posts_by_author_status", Columns: []string{"author_id", "status"}},
	},
	SearchIndexes: []interfaces.SearchIndex{
		{Name: "posts_search_content", SearchField: "title", FilterFields: []string{"status", "author_id"}},
	},
}

// PostFromRecord converts a repository row into a Post
func PostFromRecord(r Record) (Post, error) {
	var p Post
	var errs [14]error
	p.ID, errs[0] = str(r, "id")
	p.Title, errs[1] = str(r, "title")
	p.Content, errs[2] = str(r, "content")
	p.Status, errs[3] = str(r, "status")
	p.AuthorID, errs[4] = str(r, "author_id")
	p.Tags, errs[5] = strs(r, "tags")
	p.Category, errs[6] = optStr(r, "category")
	p.FeaturedImage, errs[7] = optStr(r, "featured_image")
	p.CreatedAt, errs[8] = timestamp(r, "created_at")
	p.UpdatedAt, errs[9] = timestamp(r, "updated_at")
	p.PublishedAt, errs[10] = optTimestamp(r, "published_at")
	p.ScheduledFor, errs[11] = optTimestamp(r, "scheduled_for")
	p.ViewCount, errs[12] = num(r, "view_count")
	p.LikeCount, errs[13] = num(r, "like_count")
	return p, firstErr(errs[:]...)
}

// Record returns the writable columns of the post
func (p Post) Record() Record {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	rec := Record{
		"title":          p.Title,
		"content":        p.Content,
		"status":         p.Status,
		"author_id":      p.AuthorID,
		"tags":           tags,
		"category":       nullable(p.Category),
		"featured_image": nullable(p.FeaturedImage),
		"published_at":   nullable(p.PublishedAt),
		"scheduled_for":  nullable(p.ScheduledFor),
		"view_count":     p.ViewCount,
		"like_count":     p.LikeCount,
	}
	if p.ID != "" {
		rec["id"] = p.ID
	}
	return rec
}
