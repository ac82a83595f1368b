package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// PostInput carries the fields of a new post. Status defaults to draft.
type PostInput struct {
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Status        string     `json:"status,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Category      *string    `json:"category,omitempty"`
	FeaturedImage *string    `json:"featured_image,omitempty"`
	ScheduledFor  *time.Time `json:"scheduled_for,omitempty"`
}

// PostPatch changes the non-nil fields of a post. An empty Category or
// FeaturedImage clears it.
type PostPatch struct {
	Title         *string   `json:"title,omitempty"`
	Content       *string   `json:"content,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	Category      *string   `json:"category,omitempty"`
	FeaturedImage *string   `json:"featured_image,omitempty"`
}

type PostService struct {
	*base
}

func (s *PostService) Create(ctx context.Context, authorID string, in PostInput) (entities.Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return entities.Post{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = entities.PostDraft
	}
	if status != entities.PostDraft && status != entities.PostPublished {
		return entities.Post{}, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	if _, err := s.getUser(ctx, authorID); err != nil {
		return entities.Post{}, err
	}

	data := map[string]interface{}{
		"title":          title,
		"content":        in.Content,
		"status":         status,
		"author_id":      authorID,
		"tags":           normalizeTags(in.Tags),
		"category":       nullableString(in.Category),
		"featured_image": nullableString(in.FeaturedImage),
	}
	if status == entities.PostPublished {
		data["published_at"] = s.clock()
	} else if in.ScheduledFor != nil {
		if !in.ScheduledFor.After(s.clock()) {
			return entities.Post{}, fmt.Errorf("%w: scheduled_for must be in the future", ErrInvalidInput)
		}
		data["scheduled_for"] = *in.ScheduledFor
	}

	rec, err := s.posts.Create(ctx, data)
	if err != nil {
		return entities.Post{}, fmt.Errorf("create post: %w", err)
	}
	s.logger.Infow("post created", "post_id", rec["id"], "author_id", authorID, "status", status)
	return entities.PostFromRecord(rec)
}

func (s *PostService) Get(ctx context.Context, id string) (entities.Post, error) {
	return s.getPost(ctx, id)
}

// owned loads the post and checks that actorID wrote it.
func (s *PostService) owned(ctx context.Context, actorID, postID string) (entities.Post, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return entities.Post{}, err
	}
	if post.AuthorID != actorID {
		return entities.Post{}, ErrForbidden
	}
	return post, nil
}

func (s *PostService) Update(ctx context.Context, actorID, postID string, patch PostPatch) (entities.Post, error) {
	if _, err := s.owned(ctx, actorID, postID); err != nil {
		return entities.Post{}, err
	}

	data := map[string]interface{}{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return entities.Post{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		data["title"] = title
	}
	if patch.Content != nil {
		data["content"] = *patch.Content
	}
	if patch.Tags != nil {
		data["tags"] = normalizeTags(*patch.Tags)
	}
	if patch.Category != nil {
		data["category"] = nullableString(patch.Category)
	}
	if patch.FeaturedImage != nil {
		data["featured_image"] = nullableString(patch.FeaturedImage)
	}
	return s.update(ctx, postID, data)
}

func (s *PostService) update(ctx context.Context, postID string, data map[string]interface{}) (entities.Post, error) {
	rec, err := s.posts.Update(ctx, interfaces.StringID(postID), data)
	if err != nil {
		return entities.Post{}, fmt.Errorf("update post %s: %w", postID, err)
	}
	return entities.PostFromRecord(rec)
}

// Publish makes the post public now. Publishing a published post keeps
// its original publish time. changed reports whether this call is the one
// that made the post live.
func (s *PostService) Publish(ctx context.Context, actorID, postID string) (post entities.Post, changed bool, err error) {
	post, err = s.owned(ctx, actorID, postID)
	if err != nil {
		return entities.Post{}, false, err
	}
	if post.Status == entities.PostPublished {
		return post, false, nil
	}
	return s.publishDraft(ctx, postID, s.clock())
}

// publishDraft flips a draft to published. A post that stopped being a
// draft in the meantime is returned unchanged.
func (s *PostService) publishDraft(ctx context.Context, postID string, at time.Time) (entities.Post, bool, error) {
	rec, err := s.posts.UpdateWhere(ctx, interfaces.StringID(postID),
		interfaces.Where("status", entities.PostDraft),
		map[string]interface{}{
			"status":        entities.PostPublished,
			"published_at":  at,
			"scheduled_for": nil,
		})
	if errors.Is(err, interfaces.ErrConditionFailed) {
		post, err := s.Get(ctx, postID)
		return post, false, err
	}
	if err != nil {
		return entities.Post{}, false, fmt.Errorf("publish post %s: %w", postID, err)
	}
	post, err := entities.PostFromRecord(rec)
	if err != nil {
		return entities.Post{}, false, err
	}
	return post, true, nil
}

func (s *PostService) Unpublish(ctx context.Context, actorID, postID string) (entities.Post, error) {
	post, err := s.owned(ctx, actorID, postID)
	if err != nil {
		return entities.Post{}, err
	}
	if post.Status == entities.PostDraft {
		return post, nil
	}
	return s.update(ctx, postID, map[string]interface{}{
		"status":       entities.PostDraft,
		"published_at": nil,
	})
}

// Schedule sets a draft to be published at at by PublishDue.
func (s *PostService) Schedule(ctx context.Context, actorID, postID string, at time.Time) (entities.Post, error) {
	post, err := s.owned(ctx, actorID, postID)
	if err != nil {
		return entities.Post{}, err
	}
	if post.Status != entities.PostDraft {
		return entities.Post{}, fmt.Errorf("%w: only drafts can be scheduled", ErrInvalidStatus)
	}
	if !at.After(s.clock()) {
		return entities.Post{}, fmt.Errorf("%w: scheduled time must be in the future", ErrInvalidInput)
	}
	return s.update(ctx, postID, map[string]interface{}{"scheduled_for": at})
}

// Delete removes the post with its comments, likes and stats.
func (s *PostService) Delete(ctx context.Context, actorID, postID string) error {
	if _, err := s.owned(ctx, actorID, postID); err != nil {
		return err
	}
	if err := s.posts.Delete(ctx, interfaces.StringID(postID)); err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	s.logger.Infow("post deleted", "post_id", postID, "actor_id", actorID)
	return nil
}

// ListByAuthor lists an author's posts, newest first. An empty status
// lists all of them.
func (s *PostService) ListByAuthor(ctx context.Context, authorID, status string, page Page) ([]entities.Post, int64, error) {
	where := interfaces.Where("author_id", authorID)
	if status != "" {
		if status != entities.PostDraft && status != entities.PostPublished {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		where = interfaces.Where("author_id", authorID, "status", status)
	}
	return s.list(ctx, page.apply(&interfaces.Query{
		Where:   where,
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "desc"}},
	}))
}

// ListPublished lists published posts, most recently published first.
func (s *PostService) ListPublished(ctx context.Context, page Page) ([]entities.Post, int64, error) {
	return s.list(ctx, page.apply(&interfaces.Query{
		Where: interfaces.Where("status", entities.PostPublished),
		OrderBy: []interfaces.OrderBy{
			{Field: "published_at", Direction: "desc"},
			{Field: "created_at", Direction: "desc"},
		},
	}))
}

func (s *PostService) list(ctx context.Context, q *interfaces.Query) ([]entities.Post, int64, error) {
	result, err := s.posts.FindMany(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	posts, err := convert(result.Data, entities.PostFromRecord)
	if err != nil {
		return nil, 0, err
	}
	return posts, result.Total, nil
}

// Search matches text against the titles of published posts.
func (s *PostService) Search(ctx context.Context, text string, limit int) ([]entities.Post, error) {
	posts, _, err := s.list(ctx, Page{Limit: limit}.apply(&interfaces.Query{
		Where:  interfaces.Where("status", entities.PostPublished),
		Search: &interfaces.SearchQuery{Index: "posts_search_content", Text: text},
	}))
	return posts, err
}

// RecordView counts one view of a published post, on the post and in
// today's daily stat.
func (s *PostService) RecordView(ctx context.Context, postID string) (int64, error) {
	var views int64
	err := s.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		post, err := s.getPost(ctx, postID)
		if err != nil {
			return err
		}
		if post.Status != entities.PostPublished {
			return ErrPostNotPublished
		}
		views, err = s.posts.Increment(ctx, interfaces.StringID(postID), "view_count", 1)
		if err != nil {
			return err
		}
		return s.bumpDailyStat(ctx, postID, entities.DayOf(s.clock()))
	})
	if err != nil {
		return 0, fmt.Errorf("record view: %w", err)
	}
	s.metrics.RecordPostView(ctx)
	return views, nil
}

func (s *PostService) bumpDailyStat(ctx context.Context, postID, day string) error {
	where := interfaces.Where("post_id", postID, "date", day)
	stat, err := findOne(ctx, s.stats, where)
	if err != nil {
		return err
	}
	if stat == nil {
		_, err = s.stats.Create(ctx, map[string]interface{}{
			"post_id": postID,
			"date":    day,
			"views":   int64(1),
		})
		if !errors.Is(err, interfaces.ErrUniqueConstraint) {
			return err
		}
		// lost the race to create the row
		if stat, err = s.stats.FindOne(ctx, &interfaces.Query{Where: where}); err != nil {
			return err
		}
	}
	id, _ := stat["id"].(string)
	_, err = s.stats.Increment(ctx, interfaces.StringID(id), "views", 1)
	return err
}

// PublishDue publishes every draft whose scheduled time is at or before
// now and returns the posts it published.
func (s *PostService) PublishDue(ctx context.Context, now time.Time) ([]entities.Post, error) {
	result, err := s.posts.FindMany(ctx, &interfaces.Query{
		Where: &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "status", Value: entities.PostDraft},
			{Field: "scheduled_for", Operator: &interfaces.FilterOperator{Lte: now}},
		}},
		OrderBy: []interfaces.OrderBy{{Field: "scheduled_for", Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("find due posts: %w", err)
	}

	var published []entities.Post
	for _, rec := range result.Data {
		post, err := entities.PostFromRecord(rec)
		if err != nil {
			return published, err
		}
		updated, changed, err := s.publishDraft(ctx, post.ID, *post.ScheduledFor)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return published, err
		}
		if changed {
			published = append(published, updated)
		}
	}
	return published, nil
}

// normalizeTags trims, lower-cases and de-duplicates tags, keeping the
// first occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
