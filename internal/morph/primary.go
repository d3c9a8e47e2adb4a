package morph

import (
	"context"
	"sort"

	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/store"
)

type SnapshotSource interface {
	Snapshot() *store.Snapshot
}

// StoreLookup resolves a folded surface against curated tokens, and failing
// that against lexeme headwords.
type StoreLookup struct {
	src SnapshotSource
}

func NewStoreLookup(src SnapshotSource) *StoreLookup {
	return &StoreLookup{src: src}
}

func (l *StoreLookup) Lookup(ctx context.Context, language, surfaceFold string) (Candidate, bool) {
	snap := l.src.Snapshot()
	type tally struct {
		cand   Candidate
		count  int
		hasLex bool
	}
	byKey := make(map[Candidate]*tally)
	for _, tok := range snap.TokensBySurfaceFold(language, surfaceFold) {
		if tok.Lemma == "" {
			continue
		}
		c := Candidate{Lemma: tok.Lemma, MorphTag: tok.MorphTag}
		t, ok := byKey[c]
		if !ok {
			t = &tally{cand: c, hasLex: len(snap.LexemesByFold(language, tok.LemmaFold)) > 0}
			byKey[c] = t
		}
		t.count++
	}
	if len(byKey) > 0 {
		all := make([]*tally, 0, len(byKey))
		for _, t := range byKey {
			all = append(all, t)
		}
		sort.Slice(all, func(i, j int) bool {
			a, b := all[i], all[j]
			if a.hasLex != b.hasLex {
				return a.hasLex
			}
			if a.count != b.count {
				return a.count > b.count
			}
			if a.cand.Lemma != b.cand.Lemma {
				return a.cand.Lemma < b.cand.Lemma
			}
			return a.cand.MorphTag < b.cand.MorphTag
		})
		return all[0].cand, true
	}
	if lex := firstLexeme(snap.LexemesByFold(language, surfaceFold)); lex != nil {
		return Candidate{Lemma: lex.Lemma}, true
	}
	return Candidate{}, false
}

func firstLexeme(lexemes []*model.Lexeme) *model.Lexeme {
	var best *model.Lexeme
	for _, lex := range lexemes {
		if best == nil || lex.Lemma < best.Lemma {
			best = lex
		}
	}
	return best
}
