package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

type FollowCounts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
}

type FollowService struct {
	*base
}

// Follow makes followerID follow followingID. Following twice returns the
// existing relationship.
func (s *FollowService) Follow(ctx context.Context, followerID, followingID string) (entities.Follow, error) {
	if followerID == followingID {
		return entities.Follow{}, ErrSelfFollow
	}
	for _, id := range []string{followerID, followingID} {
		if _, err := s.getUser(ctx, id); err != nil {
			return entities.Follow{}, err
		}
	}

	where := interfaces.Where("follower_id", followerID, "following_id", followingID)
	existing, err := findOne(ctx, s.follows, where)
	if err != nil {
		return entities.Follow{}, fmt.Errorf("follow: %w", err)
	}
	if existing == nil {
		existing, err = s.follows.Create(ctx, map[string]interface{}{
			"follower_id":  followerID,
			"following_id": followingID,
		})
		if errors.Is(err, interfaces.ErrUniqueConstraint) {
			existing, err = s.follows.FindOne(ctx, &interfaces.Query{Where: where})
		}
		if err != nil {
			return entities.Follow{}, fmt.Errorf("follow: %w", err)
		}
	}
	return entities.FollowFromRecord(existing)
}

// Unfollow is a no-op when the relationship does not exist.
func (s *FollowService) Unfollow(ctx context.Context, followerID, followingID string) error {
	existing, err := findOne(ctx, s.follows, interfaces.Where("follower_id", followerID, "following_id", followingID))
	if err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	if existing == nil {
		return nil
	}
	id, _ := existing["id"].(string)
	err = s.follows.Delete(ctx, interfaces.StringID(id))
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("unfollow: %w", err)
	}
	return nil
}

func (s *FollowService) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	existing, err := findOne(ctx, s.follows, interfaces.Where("follower_id", followerID, "following_id", followingID))
	if err != nil {
		return false, fmt.Errorf("is following: %w", err)
	}
	return existing != nil, nil
}

// Followers lists the users following userID, most recent first.
func (s *FollowService) Followers(ctx context.Context, userID string, page Page) ([]entities.User, int64, error) {
	return s.related(ctx, "following_id", "follower_id", userID, page)
}

// Following lists the users userID follows, most recent first.
func (s *FollowService) Following(ctx context.Context, userID string, page Page) ([]entities.User, int64, error) {
	return s.related(ctx, "follower_id", "following_id", userID, page)
}

func (s *FollowService) related(ctx context.Context, matchField, otherField, userID string, page Page) ([]entities.User, int64, error) {
	result, err := s.follows.FindMany(ctx, page.apply(&interfaces.Query{
		Where:   interfaces.Where(matchField, userID),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "desc"}},
	}))
	if err != nil {
		return nil, 0, fmt.Errorf("list follows: %w", err)
	}

	users := make([]entities.User, 0, len(result.Data))
	for _, rec := range result.Data {
		id, _ := rec[otherField].(string)
		user, err := s.getUser(ctx, id)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, result.Total, nil
}

func (s *FollowService) Counts(ctx context.Context, userID string) (FollowCounts, error) {
	followers, err := s.follows.Count(ctx, &interfaces.Query{Where: interfaces.Where("following_id", userID)})
	if err != nil {
		return FollowCounts{}, fmt.Errorf("count followers: %w", err)
	}
	following, err := s.follows.Count(ctx, &interfaces.Query{Where: interfaces.Where("follower_id", userID)})
	if err != nil {
		return FollowCounts{}, fmt.Errorf("count following: %w", err)
	}
	return FollowCounts{Followers: followers, Following: following}, nil
}
