// Package embedcache layers memory and database caches over an embedder.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/textnorm"
)

// CacheStore is the durable side of the embedding cache.
type CacheStore interface {
	Get(ctx context.Context, modelName, task, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.CachedEmbedding) error
}

// WrapDBCacheToEmbedder reads through store. Cache failures are logged and
// never fail the embedding.
func WrapDBCacheToEmbedder(e ai.IEmbedder, store CacheStore) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store, now: time.Now}
}

type dbEmbedder struct {
	next  ai.IEmbedder
	store CacheStore
	now   func() time.Time
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := buildCacheKey(d.next.ModelName(), taskType, text)
	logger := logutil.GetLogger(ctx).With(zap.String("model", key.model), zap.String("task_type", taskType))
	vec, ok, err := d.store.Get(ctx, key.model, key.task, key.hash)
	switch {
	case err != nil:
		logger.Warn("embedding cache read failed", zap.Error(err))
	case ok:
		logger.Debug("embedding cache hit", zap.String("layer", "db"))
		return vec, nil
	}
	vec, err = d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := d.store.Save(ctx, &model.CachedEmbedding{
		Model:       key.model,
		Task:        key.task,
		ContentHash: key.hash,
		Vector:      vec,
		CreatedAt:   d.now().Unix(),
	}); err != nil {
		logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

type cacheKey struct {
	model string
	task  string
	hash  string
}

func (k cacheKey) String() string {
	return k.model + "\x1f" + k.task + "\x1f" + k.hash
}

// buildCacheKey hashes the NFC form so canonically equal inputs share one
// entry.
func buildCacheKey(modelName, taskType, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	if nfc, err := textnorm.NFC(text); err == nil {
		text = nfc
	}
	sum := sha256.Sum256([]byte(taskType + "\x1f" + text))
	return cacheKey{model: modelName, task: taskType, hash: hex.EncodeToString(sum[:])}
}
