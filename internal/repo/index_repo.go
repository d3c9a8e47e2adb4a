package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/lectio/internal/index"
	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/pkg/dbutil"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

// sortKeyOrder mirrors model.SortKey.Compare; byte order collation matches
// Go string comparison.
const sortKeyOrder = `work_source COLLATE "C", work_title COLLATE "C", work_id COLLATE "C", segment_ordinal,
	lemma COLLATE "C", anchor COLLATE "C", entity_id COLLATE "C"`

// WorkOrdinals resolves the position of a work in the global work order.
type WorkOrdinals interface {
	WorkOrdinal(id string) int
}

// IndexRepo serves both indexes from Postgres: pg_trgm word similarity for
// the lexical side and an exact pgvector cosine scan for the semantic side.
type IndexRepo struct {
	db        *sql.DB
	dim       int
	threshold float64
	ordinals  func() WorkOrdinals
}

func NewIndexRepo(db *sql.DB, dim int, threshold float64, ordinals func() WorkOrdinals) *IndexRepo {
	if threshold <= 0 {
		threshold = index.DefaultThreshold
	}
	return &IndexRepo{db: db, dim: dim, threshold: threshold, ordinals: ordinals}
}

func (r *IndexRepo) Dim() int {
	return r.dim
}

// Lexical adapts the repo to the lexical searcher interface.
func (r *IndexRepo) Lexical() *LexicalIndexRepo {
	return &LexicalIndexRepo{r: r}
}

type LexicalIndexRepo struct {
	r *IndexRepo
}

func (l *LexicalIndexRepo) Search(ctx context.Context, q index.LexicalQuery) ([]model.Hit, error) {
	return l.r.SearchLexical(ctx, q)
}

func (r *IndexRepo) SearchLexical(ctx context.Context, q index.LexicalQuery) ([]model.Hit, error) {
	folded := strings.TrimSpace(q.Folded)
	if q.K <= 0 || utf8.RuneCountInString(folded) < 3 {
		return nil, nil
	}
	threshold := r.threshold
	if q.Threshold > 0 {
		threshold = q.Threshold
	}
	query := `SELECT entity_type, entity_id, language_code, label, work_source, work_title, work_id,
			segment_ordinal, lemma, anchor, word_similarity(?, folded_text) AS score
		FROM index_records
		WHERE language_code = ? AND entity_type IN (?) AND word_similarity(?, folded_text) >= ?
		ORDER BY score DESC, ` + sortKeyOrder + ` LIMIT ?`
	return r.query(ctx, query, folded, q.Language, typeNames(q.Types), folded, threshold, q.K)
}

// Search is the semantic search entry point.
func (r *IndexRepo) Search(ctx context.Context, q index.SemanticQuery) ([]model.Hit, error) {
	if len(q.Vector) == 0 || q.K <= 0 {
		return nil, nil
	}
	if len(q.Vector) != r.dim {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w", len(q.Vector), r.dim, appErr.ErrDimensionMismatch)
	}
	if index.Cosine(q.Vector, q.Vector) == 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(q.Vector)
	query := `SELECT entity_type, entity_id, language_code, label, work_source, work_title, work_id,
			segment_ordinal, lemma, anchor, 1 - (embedding <=> ?) AS score
		FROM index_records
		WHERE language_code = ? AND entity_type IN (?) AND embedding IS NOT NULL
			AND embedding <=> ? < 1
		ORDER BY score DESC, ` + sortKeyOrder + ` LIMIT ?`
	return r.query(ctx, query, vec, q.Language, typeNames(q.Types), vec, q.K)
}

func (r *IndexRepo) query(ctx context.Context, query string, args ...interface{}) ([]model.Hit, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var ordinals WorkOrdinals
	if r.ordinals != nil {
		ordinals = r.ordinals()
	}
	hits := make([]model.Hit, 0)
	for rows.Next() {
		var hit model.Hit
		var entityType string
		if err := rows.Scan(&entityType, &hit.EntityID, &hit.Language, &hit.Label, &hit.Key.WorkSource, &hit.Key.WorkTitle,
			&hit.Key.WorkID, &hit.Key.SegmentOrdinal, &hit.Key.Lemma, &hit.Key.Anchor, &hit.Score); err != nil {
			return nil, err
		}
		hit.EntityType = model.EntityType(entityType)
		hit.Key.EntityID = hit.EntityID
		if ordinals != nil && hit.Key.WorkID != "" {
			hit.Key.WorkOrdinal = ordinals.WorkOrdinal(hit.Key.WorkID)
		}
		if hit.Score <= 0 {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return model.LessHit(hits[i], hits[j]) })
	return hits, nil
}

func typeNames(types index.Types) []string {
	if len(types) == 0 {
		types = index.Types{model.EntitySegment, model.EntityLexeme, model.EntityGrammarTopic}
	}
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
