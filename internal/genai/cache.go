package genai

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quillpost/quillpost-backend/internal/store"
)

type Lister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

const sharedFetchTimeout = 30 * time.Second

// CachedLister serves the model list from the cache and refreshes it
// from the provider after ttl. Concurrent misses share one fetch, which
// outlives any single caller.
type CachedLister struct {
	lister Lister
	cache  *store.Cache
	ttl    time.Duration
	logger *zap.SugaredLogger
	group  singleflight.Group
}

func NewCachedLister(lister Lister, cache *store.Cache, ttl time.Duration, logger *zap.SugaredLogger) *CachedLister {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CachedLister{lister: lister, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedLister) ListModels(ctx context.Context) ([]Model, error) {
	var models []Model
	err := c.cache.Get(ctx, store.KeyModels, &models)
	if err == nil {
		return models, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		c.logger.Warnw("model cache read failed", "error", err)
	}

	ch := c.group.DoChan(store.KeyModels, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		models, err := c.lister.ListModels(fetchCtx)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(fetchCtx, store.KeyModels, models, c.ttl); err != nil {
			c.logger.Warnw("model cache write failed", "error", err)
		}
		return models, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debugw("model listing shared with a concurrent request")
		}
		return res.Val.([]Model), nil
	}
}
