package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/store"
)

type mockDuePublisher struct {
	mock.Mock
}

func (m *mockDuePublisher) PublishDue(ctx context.Context, now time.Time) ([]entities.Post, error) {
	args := m.Called(ctx, now)
	posts, _ := args.Get(0).([]entities.Post)
	return posts, args.Error(1)
}

func TestRunOncePublishesEvents(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	posts := &mockDuePublisher{}
	posts.On("PublishDue", mock.Anything, now).Return([]entities.Post{
		{ID: "p1", AuthorID: "a1", Title: "One", PublishedAt: &now},
		{ID: "p2", AuthorID: "a1", Title: "Two", PublishedAt: &now},
	}, nil).Once()

	cache := store.NewMemoryCache(nil, nil)
	defer cache.Close()
	ctx := context.Background()
	sub := cache.Subscribe(ctx, store.ChannelPostEvents)
	defer sub.Close()

	job := NewScheduledPublisher(posts, cache, nil, ScheduledPublisherConfig{
		Interval: time.Minute,
		Channel:  store.ChannelPostEvents,
	})
	job.now = func() time.Time { return now }

	assert.Equal(t, 2, job.RunOnce(ctx))
	posts.AssertExpectations(t)

	for _, want := range []string{"p1", "p2"} {
		select {
		case msg := <-sub.Channel():
			var event PostEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
			assert.Equal(t, EventPostPublished, event.Type)
			assert.Equal(t, want, event.PostID)
			assert.True(t, now.Equal(event.PublishedAt))
		case <-time.After(time.Second):
			t.Fatalf("no event for %s", want)
		}
	}
}

func TestRunOnceSurvivesErrors(t *testing.T) {
	posts := &mockDuePublisher{}
	posts.On("PublishDue", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	job := NewScheduledPublisher(posts, nil, nil, ScheduledPublisherConfig{})
	assert.Equal(t, 0, job.RunOnce(context.Background()))
	assert.Equal(t, 30*time.Second, job.config.Interval)
	posts.AssertExpectations(t)
}

func TestStartStopsOnCancel(t *testing.T) {
	posts := &mockDuePublisher{}
	var sweeps int32
	posts.On("PublishDue", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { atomic.AddInt32(&sweeps, 1) }).
		Return(nil, nil)

	job := NewScheduledPublisher(posts, nil, nil, ScheduledPublisherConfig{Interval: 5 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- job.Start(context.Background()) }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeps) >= 2
	}, time.Second, 5*time.Millisecond)

	job.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
