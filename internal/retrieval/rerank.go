package retrieval

import (
	"context"
	"strings"
	"unicode"

	"github.com/xxxsen/lectio/internal/model"
)

type RecordSource interface {
	IndexRecord(entityID string) (*model.IndexRecord, bool)
}

type RecordSourceFunc func(entityID string) (*model.IndexRecord, bool)

func (f RecordSourceFunc) IndexRecord(entityID string) (*model.IndexRecord, bool) {
	return f(entityID)
}

// OverlapReranker rescores candidates by how many query words occur as whole
// words in the candidate and how tightly they cluster, blended with the
// merged score.
type OverlapReranker struct {
	records RecordSource

	// Blend is the weight of the overlap score; the rest goes to the merged
	// score.
	Blend float64
}

func NewOverlapReranker(records RecordSource) *OverlapReranker {
	return &OverlapReranker{records: records, Blend: 0.5}
}

func (r *OverlapReranker) Rerank(ctx context.Context, foldedQuery string, cands []Scored) ([]float64, error) {
	qwords := splitWords(foldedQuery)
	scores := make([]float64, len(cands))
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		overlap := 0.0
		if rec, ok := r.records.IndexRecord(c.EntityID); ok && len(qwords) > 0 {
			overlap = overlapScore(qwords, splitWords(rec.FoldedText))
		}
		scores[i] = r.Blend*overlap + (1-r.Blend)*c.CombinedScore
	}
	return scores, nil
}

// overlapScore is coverage times proximity: the share of distinct query
// words present, scaled by how short the smallest span holding them is.
func overlapScore(query, doc []string) float64 {
	want := make(map[string]int)
	for _, w := range query {
		if _, ok := want[w]; !ok {
			want[w] = len(want)
		}
	}
	last := make([]int, len(want))
	for i := range last {
		last[i] = -1
	}
	found := 0
	bestSpan := 0
	for pos, w := range doc {
		idx, ok := want[w]
		if !ok {
			continue
		}
		if last[idx] < 0 {
			found++
		}
		last[idx] = pos
		if found == len(want) {
			lo := pos
			for _, p := range last {
				if p < lo {
					lo = p
				}
			}
			if span := pos - lo + 1; bestSpan == 0 || span < bestSpan {
				bestSpan = span
			}
		}
	}
	if found == 0 {
		return 0
	}
	coverage := float64(found) / float64(len(want))
	if bestSpan == 0 {
		return coverage * 0.5
	}
	return coverage * float64(len(want)) / float64(bestSpan)
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}
