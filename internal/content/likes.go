package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

type LikeService struct {
	*base
}

// Like records a like and returns the post's like count. A signed-in user
// likes a post at most once; anonymous likes (nil userID) always count.
func (s *LikeService) Like(ctx context.Context, postID string, userID *string) (int64, error) {
	var count int64
	err := s.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		post, err := s.getPost(ctx, postID)
		if err != nil {
			return err
		}
		if post.Status != entities.PostPublished {
			return ErrPostNotPublished
		}

		data := map[string]interface{}{"post_id": postID}
		if userID != nil {
			existing, err := findOne(ctx, s.likes, interfaces.Where("post_id", postID, "user_id", *userID))
			if err != nil {
				return err
			}
			if existing != nil {
				count = post.LikeCount
				return nil
			}
			data["user_id"] = *userID
		}

		if _, err := s.likes.Create(ctx, data); err != nil {
			if userID == nil || !errors.Is(err, interfaces.ErrUniqueConstraint) {
				return err
			}
			// a concurrent like by the same user committed first
			post, err := s.getPost(ctx, postID)
			if err != nil {
				return err
			}
			count = post.LikeCount
			return nil
		}
		count, err = s.posts.Increment(ctx, interfaces.StringID(postID), "like_count", 1)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("like post: %w", err)
	}
	return count, nil
}

// Unlike removes the user's like, if any, and returns the like count.
func (s *LikeService) Unlike(ctx context.Context, postID, userID string) (int64, error) {
	var count int64
	err := s.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		post, err := s.getPost(ctx, postID)
		if err != nil {
			return err
		}
		count = post.LikeCount

		existing, err := findOne(ctx, s.likes, interfaces.Where("post_id", postID, "user_id", userID))
		if err != nil || existing == nil {
			return err
		}
		id, _ := existing["id"].(string)
		if err := s.likes.Delete(ctx, interfaces.StringID(id)); err != nil {
			return err
		}
		if count > 0 {
			count, err = s.posts.Increment(ctx, interfaces.StringID(postID), "like_count", -1)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("unlike post: %w", err)
	}
	return count, nil
}

// Toggle likes the post if the user has not, and unlikes it otherwise.
func (s *LikeService) Toggle(ctx context.Context, postID, userID string) (bool, int64, error) {
	liked, err := s.HasLiked(ctx, postID, userID)
	if err != nil {
		return false, 0, err
	}
	if liked {
		count, err := s.Unlike(ctx, postID, userID)
		return false, count, err
	}
	count, err := s.Like(ctx, postID, &userID)
	return true, count, err
}

func (s *LikeService) HasLiked(ctx context.Context, postID, userID string) (bool, error) {
	_, err := s.likes.FindOne(ctx, &interfaces.Query{Where: interfaces.Where("post_id", postID, "user_id", userID)})
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has liked: %w", err)
	}
	return true, nil
}
