package embedcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/model"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "counting"
}

type memStore struct {
	mu    sync.Mutex
	items map[string]*model.CachedEmbedding
}

func (m *memStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[modelName+taskType+contentHash]
	if !ok {
		return nil, false, nil
	}
	return item.Vector, true, nil
}

func (m *memStore) Save(ctx context.Context, item *model.CachedEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Model+item.Task+item.ContentHash] = item
	return nil
}

func TestLruEmbedder_CachesByCanonicalText(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)

	_, err := e.Embed(context.Background(), "ἄειδε", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "ἄειδε", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(context.Background(), "ἄειδε", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestLruEmbedder_SharesConcurrentMisses(t *testing.T) {
	next := &countingEmbedder{gate: make(chan struct{})}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)

	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec, err := e.Embed(context.Background(), "θεά", ai.TaskRetrievalQuery)
			require.NoError(t, err)
			results[i] = vec
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()

	require.Equal(t, 1, next.calls)
	for _, vec := range results {
		require.Equal(t, results[0], vec)
	}
}

func TestLruEmbedder_CancelledCallerDoesNotFailOthers(t *testing.T) {
	next := &countingEmbedder{gate: make(chan struct{})}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Embed(ctx, "Ἀχιλῆος", ai.TaskRetrievalQuery)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		next.mu.Lock()
		defer next.mu.Unlock()
		return next.calls == 1
	}, time.Second, 5*time.Millisecond)

	type result struct {
		vec []float32
		err error
	}
	second := make(chan result, 1)
	go func() {
		vec, err := e.Embed(context.Background(), "Ἀχιλῆος", ai.TaskRetrievalQuery)
		second <- result{vec: vec, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(next.gate)
	got := <-second
	require.NoError(t, got.err)
	require.NotEmpty(t, got.vec)
	require.Equal(t, 1, next.calls)
}

func TestWrapLruCacheToEmbedder_DisabledReturnsNext(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, ai.IEmbedder(next), WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestDBEmbedder_StoresAndReuses(t *testing.T) {
	store := &memStore{items: make(map[string]*model.CachedEmbedding)}
	next := &countingEmbedder{}
	e := WrapDBCacheToEmbedder(next, store)

	first, err := e.Embed(context.Background(), "λόγος", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "λόγος", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, next.calls)
	require.Len(t, store.items, 1)
	for _, item := range store.items {
		require.Equal(t, "counting", item.Model)
		require.Equal(t, ai.TaskRetrievalQuery, item.Task)
		require.NotZero(t, item.CreatedAt)
	}
}
