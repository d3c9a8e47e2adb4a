// Package index holds the in-memory lexical and semantic indexes built over
// a store snapshot. Both rebuild lazily per snapshot version and language.
package index

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/store"
)

type SnapshotSource interface {
	Snapshot() *store.Snapshot
}

// Types restricts a search to some entity types. An empty filter matches all.
type Types []model.EntityType

func (t Types) Match(et model.EntityType) bool {
	if len(t) == 0 {
		return true
	}
	for _, want := range t {
		if want == et {
			return true
		}
	}
	return false
}

const (
	stateCacheSize = 32
	stateCacheTTL  = 30 * time.Minute
)

// stateCache memoises per (version, language) index state. Building holds
// mu so that concurrent misses build once.
type stateCache[T any] struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, T]
}

func newStateCache[T any]() *stateCache[T] {
	return &stateCache[T]{cache: expirable.NewLRU[string, T](stateCacheSize, nil, stateCacheTTL)}
}

func (c *stateCache[T]) get(snap *store.Snapshot, language string, build func(recs []*model.IndexRecord) T) T {
	key := fmt.Sprintf("%d/%s", snap.Version(), language)
	if st, ok := c.cache.Get(key); ok {
		return st
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.cache.Get(key); ok {
		return st
	}
	st := build(snap.IndexRecords(language))
	c.cache.Add(key, st)
	return st
}

func topK(hits []model.Hit, k int) []model.Hit {
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func sortHits(hits []model.Hit) {
	sort.Slice(hits, func(i, j int) bool { return model.LessHit(hits[i], hits[j]) })
}
