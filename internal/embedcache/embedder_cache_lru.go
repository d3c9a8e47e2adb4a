package embedcache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/lectio/internal/ai"
)

const sharedCallTimeout = time.Minute

// WrapLruCacheToEmbedder keeps recent embeddings in memory. Concurrent
// misses for the same key share one call to the wrapped embedder.
func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[cacheKey, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next   ai.IEmbedder
	cache  *expirable.LRU[cacheKey, []float32]
	flight singleflight.Group
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := buildCacheKey(l.next.ModelName(), taskType, text)
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.String("layer", "lru"), zap.String("task_type", taskType))
		return slices.Clone(cached), nil
	}
	ch := l.flight.DoChan(key.String(), func() (interface{}, error) {
		// Detached from the first caller: other waiters share the result.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		res, err := l.next.Embed(callCtx, text, taskType)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, slices.Clone(res))
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.([]float32)
		if r.Shared {
			res = slices.Clone(res)
		}
		return res, nil
	}
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}
