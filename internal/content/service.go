package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/db/query"
	"github.com/quillpost/quillpost-backend/internal/metrics"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func (p Page) apply(q *interfaces.Query) *interfaces.Query {
	p = p.normalized()
	q.Limit = &p.Limit
	q.Offset = &p.Offset
	return q
}

// Services bundles the content operations over one database.
type Services struct {
	Users    *UserService
	Posts    *PostService
	Comments *CommentService
	Likes    *LikeService
	Follows  *FollowService
	Stats    *StatsService
}

type Option func(*base)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *base) {
		b.metrics = m
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		b.now = now
	}
}

// base carries what every service shares.
type base struct {
	db       interfaces.Database
	users    interfaces.Repository
	posts    interfaces.Repository
	comments interfaces.Repository
	likes    interfaces.Repository
	follows  interfaces.Repository
	stats    interfaces.Repository

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewServices(db interfaces.Database, opts ...Option) *Services {
	b := &base{
		db:       db,
		users:    db.Repository(entities.UserSchema),
		posts:    db.Repository(entities.PostSchema),
		comments: db.Repository(entities.CommentSchema),
		likes:    db.Repository(entities.LikeSchema),
		follows:  db.Repository(entities.FollowSchema),
		stats:    db.Repository(entities.DailyStatSchema),
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	return &Services{
		Users:    &UserService{b},
		Posts:    &PostService{b},
		Comments: &CommentService{b},
		Likes:    &LikeService{b},
		Follows:  &FollowService{b},
		Stats:    &StatsService{b},
	}
}

func (b *base) clock() time.Time {
	return query.CanonicalTime(b.now())
}

func (b *base) getUser(ctx context.Context, id string) (entities.User, error) {
	rec, err := b.users.GetByID(ctx, interfaces.StringID(id))
	if err != nil {
		return entities.User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return entities.UserFromRecord(rec)
}

func (b *base) getPost(ctx context.Context, id string) (entities.Post, error) {
	rec, err := b.posts.GetByID(ctx, interfaces.StringID(id))
	if err != nil {
		return entities.Post{}, fmt.Errorf("post %s: %w", id, err)
	}
	return entities.PostFromRecord(rec)
}

// findOne returns (nil, nil) when no record matches.
func findOne(ctx context.Context, repo interfaces.Repository, where *interfaces.Filters) (map[string]interface{}, error) {
	rec, err := repo.FindOne(ctx, &interfaces.Query{Where: where})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func convert[T any](records []map[string]interface{}, from func(entities.Record) (T, error)) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := from(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
