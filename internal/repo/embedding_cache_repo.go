package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/pkg/dbutil"
)

const embeddingCacheTable = "embedding_cache"

// EmbeddingCacheRepo stores provider embeddings so restarts and re-ingests
// do not pay for the same text twice.
type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, task, contentHash string) ([]float32, bool, error) {
	where := map[string]interface{}{
		"model_name":   modelName,
		"task_type":    task,
		"content_hash": contentHash,
	}
	sqlStr, args, err := builder.BuildSelect(embeddingCacheTable, where, []string{"embedding"})
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var vec pgvector.Vector
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&vec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, dbutil.Classify(err)
	}
	return vec.Slice(), true, nil
}

// Save inserts the row, or refreshes created_at when the same text was
// already cached so retention counts from the last write.
func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.CachedEmbedding) error {
	rows := []map[string]interface{}{{
		"model_name":   item.Model,
		"task_type":    item.Task,
		"content_hash": item.ContentHash,
		"embedding":    pgvector.NewVector(item.Vector),
		"ctime":        item.CreatedAt,
	}}
	sqlStr, args, err := builder.BuildInsert(embeddingCacheTable, rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+
		" ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET embedding = EXCLUDED.embedding, ctime = EXCLUDED.ctime", args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return dbutil.Classify(err)
}

// DeleteBefore prunes rows created before cutoff, unix seconds.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete(embeddingCacheTable, map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, dbutil.Classify(err)
	}
	return res.RowsAffected()
}
