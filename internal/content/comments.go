package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// CommentInput is a new comment. AuthorID is nil for anonymous readers,
// who must give a name.
type CommentInput struct {
	AuthorID    *string `json:"author_id,omitempty"`
	AuthorName  string  `json:"author_name,omitempty"`
	AuthorEmail *string `json:"author_email,omitempty"`
	Content     string  `json:"content"`
}

type CommentService struct {
	*base
}

// Add posts a comment on a published post. Comments by signed-in users
// are approved at once; anonymous ones wait for moderation.
func (s *CommentService) Add(ctx context.Context, postID string, in CommentInput) (entities.Comment, error) {
	body := strings.TrimSpace(in.Content)
	if body == "" {
		return entities.Comment{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	post, err := s.getPost(ctx, postID)
	if err != nil {
		return entities.Comment{}, err
	}
	if post.Status != entities.PostPublished {
		return entities.Comment{}, ErrPostNotPublished
	}

	data := map[string]interface{}{
		"post_id":      postID,
		"content":      body,
		"author_email": nullableString(in.AuthorEmail),
	}
	name := strings.TrimSpace(in.AuthorName)

	if in.AuthorID != nil {
		author, err := s.getUser(ctx, *in.AuthorID)
		if err != nil {
			return entities.Comment{}, err
		}
		if name == "" {
			name = author.Name
		}
		if in.AuthorEmail == nil {
			data["author_email"] = author.Email
		}
		data["author_id"] = author.ID
		data["status"] = entities.CommentApproved
	} else {
		if name == "" {
			return entities.Comment{}, fmt.Errorf("%w: author_name is required for anonymous comments", ErrInvalidInput)
		}
		data["status"] = entities.CommentPending
	}
	data["author_name"] = name

	rec, err := s.comments.Create(ctx, data)
	if err != nil {
		return entities.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return entities.CommentFromRecord(rec)
}

func (s *CommentService) getComment(ctx context.Context, id string) (entities.Comment, error) {
	rec, err := s.comments.GetByID(ctx, interfaces.StringID(id))
	if err != nil {
		return entities.Comment{}, fmt.Errorf("comment %s: %w", id, err)
	}
	return entities.CommentFromRecord(rec)
}

// Moderate sets the status of a comment. Only the post's author may.
func (s *CommentService) Moderate(ctx context.Context, actorID, commentID, status string) (entities.Comment, error) {
	if !validCommentStatus(status) {
		return entities.Comment{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	comment, err := s.getComment(ctx, commentID)
	if err != nil {
		return entities.Comment{}, err
	}
	post, err := s.getPost(ctx, comment.PostID)
	if err != nil {
		return entities.Comment{}, err
	}
	if post.AuthorID != actorID {
		return entities.Comment{}, ErrForbidden
	}

	rec, err := s.comments.Update(ctx, interfaces.StringID(commentID), map[string]interface{}{"status": status})
	if err != nil {
		return entities.Comment{}, fmt.Errorf("moderate comment: %w", err)
	}
	return entities.CommentFromRecord(rec)
}

// List returns a post's comments with the given status, oldest first.
// An empty status means approved.
func (s *CommentService) List(ctx context.Context, postID, status string, page Page) ([]entities.Comment, int64, error) {
	if status == "" {
		status = entities.CommentApproved
	}
	if !validCommentStatus(status) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	result, err := s.comments.FindMany(ctx, page.apply(&interfaces.Query{
		Where:   interfaces.Where("post_id", postID, "status", status),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "asc"}},
	}))
	if err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}
	comments, err := convert(result.Data, entities.CommentFromRecord)
	if err != nil {
		return nil, 0, err
	}
	return comments, result.Total, nil
}

// Delete removes a comment. Its author and the post's author may.
func (s *CommentService) Delete(ctx context.Context, actorID, commentID string) error {
	comment, err := s.getComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID == nil || *comment.AuthorID != actorID {
		post, err := s.getPost(ctx, comment.PostID)
		if err != nil {
			return err
		}
		if post.AuthorID != actorID {
			return ErrForbidden
		}
	}
	if err := s.comments.Delete(ctx, interfaces.StringID(commentID)); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func validCommentStatus(status string) bool {
	switch status {
	case entities.CommentApproved, entities.CommentPending, entities.CommentRejected:
		return true
	}
	return false
}
