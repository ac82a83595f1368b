package content

import (
	"context"
	"fmt"
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// AuthorSummary totals an author's posts and engagement.
type AuthorSummary struct {
	Posts     int64 `json:"posts"`
	Published int64 `json:"published"`
	Views     int64 `json:"views"`
	Likes     int64 `json:"likes"`
}

type StatsService struct {
	*base
}

// Daily returns the post's daily view counts for days from..to inclusive,
// in date order. Dates are YYYY-MM-DD; empty bounds are open.
func (s *StatsService) Daily(ctx context.Context, postID, from, to string) ([]entities.DailyStat, error) {
	conditions := []interfaces.Filter{{Field: "post_id", Value: postID}}
	for _, bound := range []struct {
		value string
		op    func(string) *interfaces.FilterOperator
	}{
		{from, func(v string) *interfaces.FilterOperator { return &interfaces.FilterOperator{Gte: v} }},
		{to, func(v string) *interfaces.FilterOperator { return &interfaces.FilterOperator{Lte: v} }},
	} {
		if bound.value == "" {
			continue
		}
		if _, err := time.Parse(entities.DateLayout, bound.value); err != nil {
			return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, bound.value)
		}
		conditions = append(conditions, interfaces.Filter{Field: "date", Operator: bound.op(bound.value)})
	}
	if from != "" && to != "" && from > to {
		return nil, fmt.Errorf("%w: from is after to", ErrInvalidInput)
	}

	result, err := s.stats.FindMany(ctx, &interfaces.Query{
		Where:   &interfaces.Filters{Conditions: conditions},
		OrderBy: []interfaces.OrderBy{{Field: "date", Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	return convert(result.Data, entities.DailyStatFromRecord)
}

func (s *StatsService) AuthorSummary(ctx context.Context, authorID string) (AuthorSummary, error) {
	if _, err := s.getUser(ctx, authorID); err != nil {
		return AuthorSummary{}, err
	}
	result, err := s.posts.FindMany(ctx, &interfaces.Query{
		Where:  interfaces.Where("author_id", authorID),
		Select: []string{"id", "status", "view_count", "like_count"},
	})
	if err != nil {
		return AuthorSummary{}, fmt.Errorf("author summary: %w", err)
	}

	var sum AuthorSummary
	for _, rec := range result.Data {
		sum.Posts++
		if rec["status"] == entities.PostPublished {
			sum.Published++
		}
		sum.Views += asInt64(rec["view_count"])
		sum.Likes += asInt64(rec["like_count"])
	}
	return sum, nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
