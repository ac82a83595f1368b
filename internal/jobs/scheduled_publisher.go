package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
)

// DuePublisher publishes scheduled drafts that have come due.
type DuePublisher interface {
	PublishDue(ctx context.Context, now time.Time) ([]entities.Post, error)
}

// EventPublisher fans post events out to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// PostEvent is sent on the post events channel whenever a post goes
// live, by this job or by an explicit publish.
type PostEvent struct {
	Type        string    `json:"type"`
	PostID      string    `json:"post_id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
}

const EventPostPublished = "post.published"

// NewPostPublishedEvent describes a post that has just gone live.
func NewPostPublishedEvent(post entities.Post) PostEvent {
	event := PostEvent{
		Type:     EventPostPublished,
		PostID:   post.ID,
		AuthorID: post.AuthorID,
		Title:    post.Title,
	}
	if post.PublishedAt != nil {
		event.PublishedAt = *post.PublishedAt
	}
	return event
}

type ScheduledPublisherConfig struct {
	Interval time.Duration
	// Channel receives a PostEvent per published post; empty disables events
	Channel string
}

type ScheduledPublisher struct {
	posts  DuePublisher
	events EventPublisher
	logger *zap.SugaredLogger
	config ScheduledPublisherConfig
	now    func() time.Time

	mu        sync.Mutex
	cancelCtx context.CancelFunc
}

func NewScheduledPublisher(posts DuePublisher, events EventPublisher, logger *zap.SugaredLogger, config ScheduledPublisherConfig) *ScheduledPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	return &ScheduledPublisher{
		posts:  posts,
		events: events,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Start sweeps once immediately and then every interval until ctx is
// cancelled or Stop is called.
func (p *ScheduledPublisher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelCtx = cancel
	p.mu.Unlock()
	defer cancel()

	p.logger.Infow("Starting scheduled publisher", "interval", p.config.Interval)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Scheduled publisher stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

func (p *ScheduledPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelCtx != nil {
		p.cancelCtx()
	}
}

// RunOnce publishes every due post and returns how many it published.
// Failures are logged; the next sweep retries.
func (p *ScheduledPublisher) RunOnce(ctx context.Context) int {
	published, err := p.posts.PublishDue(ctx, p.now())
	if err != nil {
		p.logger.Errorw("Scheduled publish sweep failed", "published", len(published), "error", err)
	}
	if len(published) > 0 {
		p.logger.Infow("Published scheduled posts", "count", len(published))
	}

	if p.events == nil || p.config.Channel == "" {
		return len(published)
	}
	for _, post := range published {
		if err := p.events.Publish(ctx, p.config.Channel, NewPostPublishedEvent(post)); err != nil {
			p.logger.Warnw("Failed to publish post event", "post_id", post.ID, "channel", p.config.Channel, "error", err)
		}
	}
	return len(published)
}
