package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/db/query"
)

func TestRecordsPassValidation(t *testing.T) {
	name := "ada"
	when := time.Now()
	records := []struct {
		schema *interfaces.Schema
		record Record
	}{
		{UserSchema, User{Email: "a@example.com", Name: "Ada", TokenIdentifier: "t", Username: &name, LastActiveAt: when}.Record()},
		{PostSchema, Post{Title: "T", Content: "{}", Status: PostDraft, AuthorID: "u", ScheduledFor: &when}.Record()},
		{CommentSchema, Comment{PostID: "p", AuthorName: "Anon", Content: "hi", Status: CommentPending}.Record()},
		{LikeSchema, Like{PostID: "p"}.Record()},
		{FollowSchema, Follow{FollowerID: "a", FollowingID: "b"}.Record()},
	}
	for _, tt := range records {
		t.Run(tt.schema.TableName, func(t *testing.T) {
			_, err := query.NewBuilder(tt.schema).PrepareCreate(tt.record)
			assert.NoError(t, err)
		})
	}
}

func TestPostFromRecord(t *testing.T) {
	published := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	post, err := PostFromRecord(Record{
		"id":           "p1",
		"title":        "Hello",
		"content":      "{}",
		"status":       PostPublished,
		"author_id":    "u1",
		"tags":         []interface{}{"a", "b"},
		"published_at": published,
		"view_count":   int64(3),
		"like_count":   2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, post.Tags)
	assert.Equal(t, int64(2), post.LikeCount)
	require.NotNil(t, post.PublishedAt)
	assert.True(t, published.Equal(*post.PublishedAt))
	assert.Nil(t, post.ScheduledFor)
	assert.Nil(t, post.Category)
}

func TestFromRecordErrors(t *testing.T) {
	_, err := UserFromRecord(Record{"id": "u1", "name": "n", "token_identifier": "t"})
	assert.ErrorContains(t, err, "email")

	_, err = PostFromRecord(Record{"id": "p", "title": "t", "content": "c", "status": "draft", "author_id": "u", "view_count": "many"})
	assert.ErrorContains(t, err, "view_count")

	_, err = LikeFromRecord(Record{"id": "l", "post_id": "p", "user_id": 7})
	assert.ErrorContains(t, err, "user_id")
}

func TestOptionalFieldsStayNull(t *testing.T) {
	rec := Comment{PostID: "p", AuthorName: "Anon", Content: "hi", Status: CommentPending}.Record()
	assert.Nil(t, rec["author_id"])
	assert.Nil(t, rec["author_email"])

	c, err := CommentFromRecord(Record{
		"id": "c1", "post_id": "p", "author_id": nil, "author_name": "Anon", "content": "hi", "status": CommentPending,
	})
	require.NoError(t, err)
	assert.Nil(t, c.AuthorID)
}

func TestDayOf(t *testing.T) {
	late := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "2024-03-02", DayOf(late))
}
