package index

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/lectio/internal/model"
)

const (
	DefaultThreshold = 0.05

	minQueryRunes = 3
	checkEvery    = 256
)

type LexicalConfig struct {
	Threshold float64
}

type LexicalQuery struct {
	Language string
	Folded   string

	// Threshold overrides the configured floor when positive.
	Threshold float64
	K         int
	Types     Types
}

type lexicalState struct {
	grams    *gramTable
	records  []*model.IndexRecord
	docs     [][][]int32
	postings map[int32][]int32
}

// Lexical ranks index records by trigram overlap of their folded text.
type Lexical struct {
	src    SnapshotSource
	cfg    LexicalConfig
	states *stateCache[*lexicalState]
}

func NewLexical(src SnapshotSource, cfg LexicalConfig) *Lexical {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Lexical{src: src, cfg: cfg, states: newStateCache[*lexicalState]()}
}

func (l *Lexical) Config() LexicalConfig {
	return l.cfg
}

func buildLexical(recs []*model.IndexRecord) *lexicalState {
	st := &lexicalState{
		grams:    newGramTable(),
		records:  recs,
		docs:     make([][][]int32, len(recs)),
		postings: make(map[int32][]int32),
	}
	for i, rec := range recs {
		ws := words(rec.FoldedText)
		doc := make([][]int32, len(ws))
		for j, w := range ws {
			grams := wordTrigrams(w)
			ids := make([]int32, len(grams))
			for n, g := range grams {
				id := st.grams.intern(g)
				ids[n] = id
				if p := st.postings[id]; len(p) == 0 || p[len(p)-1] != int32(i) {
					st.postings[id] = append(p, int32(i))
				}
			}
			doc[j] = ids
		}
		st.docs[i] = doc
	}
	return st
}

// Search returns at most q.K records of q.Language scoring at least the
// threshold. A query shorter than one trigram matches nothing.
func (l *Lexical) Search(ctx context.Context, q LexicalQuery) ([]model.Hit, error) {
	folded := strings.TrimSpace(q.Folded)
	if q.K <= 0 || utf8.RuneCountInString(folded) < minQueryRunes {
		return nil, nil
	}
	qwords := words(folded)
	if len(qwords) == 0 {
		return nil, nil
	}
	threshold := l.cfg.Threshold
	if q.Threshold > 0 {
		threshold = q.Threshold
	}
	st := l.states.get(l.src.Snapshot(), q.Language, buildLexical)

	query := make(map[int32]struct{})
	all := make(map[string]struct{})
	for _, w := range qwords {
		for _, g := range wordTrigrams(w) {
			all[g] = struct{}{}
			if id, ok := st.grams.lookup(g); ok {
				query[id] = struct{}{}
			}
		}
	}
	seen := make(map[int32]struct{})
	var candidates []int32
	for id := range query {
		for _, idx := range st.postings[id] {
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			candidates = append(candidates, idx)
		}
	}

	var hits []model.Hit
	for n, idx := range candidates {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec := st.records[idx]
		if rec.Language != q.Language || !q.Types.Match(rec.EntityType) {
			continue
		}
		score := windowSimilarity(query, len(all), len(qwords), st.docs[idx])
		if score <= 0 || score < threshold {
			continue
		}
		hits = append(hits, model.HitFromRecord(rec, score))
	}
	return topK(hits, q.K), nil
}
