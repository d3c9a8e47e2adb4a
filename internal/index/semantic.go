package index

import (
	"context"
	"fmt"
	"math"

	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

type SemanticQuery struct {
	Language string
	Vector   []float32
	K        int
	Types    Types
}

type semanticState struct {
	records []*model.IndexRecord
	unit    [][]float64
}

// Semantic is an exact cosine scan over the embedded records of a language.
type Semantic struct {
	src    SnapshotSource
	dim    int
	states *stateCache[*semanticState]
}

func NewSemantic(src SnapshotSource, dim int) *Semantic {
	return &Semantic{src: src, dim: dim, states: newStateCache[*semanticState]()}
}

func (s *Semantic) Dim() int {
	return s.dim
}

func buildSemantic(recs []*model.IndexRecord) *semanticState {
	st := &semanticState{}
	for _, rec := range recs {
		unit, ok := unitVector(rec.Embedding)
		if !ok {
			continue
		}
		st.records = append(st.records, rec)
		st.unit = append(st.unit, unit)
	}
	return st
}

func (s *Semantic) Search(ctx context.Context, q SemanticQuery) ([]model.Hit, error) {
	if len(q.Vector) == 0 || q.K <= 0 {
		return nil, nil
	}
	if len(q.Vector) != s.dim {
		return nil, fmt.Errorf("query has %d dims, want %d: %w", len(q.Vector), s.dim, appErr.ErrDimensionMismatch)
	}
	query, ok := unitVector(q.Vector)
	if !ok {
		return nil, nil
	}
	st := s.states.get(s.src.Snapshot(), q.Language, buildSemantic)
	var hits []model.Hit
	for i, rec := range st.records {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if rec.Language != q.Language || !q.Types.Match(rec.EntityType) {
			continue
		}
		if len(st.unit[i]) != len(query) {
			continue
		}
		var dot float64
		for j, v := range st.unit[i] {
			dot += v * query[j]
		}
		if dot <= 0 {
			continue
		}
		hits = append(hits, model.HitFromRecord(rec, dot))
	}
	return topK(hits, q.K), nil
}

func unitVector(v []float32) ([]float64, bool) {
	if len(v) == 0 {
		return nil, false
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return nil, false
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out, true
}

// Cosine is the cosine similarity of two equal-length vectors, zero when
// either is empty or zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
