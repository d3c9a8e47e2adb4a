// Package morph resolves tokens to lemmas in two tiers: curated corpus data
// first, then a pluggable best-effort lemmatizer. Every result records which
// tier produced it.
package morph

import (
	"context"

	"github.com/xxxsen/lectio/internal/textnorm"
)

type Source string

const (
	SourcePrimary    Source = "primary"
	SourceFallback   Source = "fallback"
	SourceUnanalyzed Source = "unanalyzed"
)

// Analysis is the resolved form of one token. An empty Lemma or MorphTag
// means none was found.
type Analysis struct {
	Index       int    `json:"index"`
	Surface     string `json:"surface"`
	SurfaceFold string `json:"-"`
	Lemma       string `json:"lemma,omitempty"`
	MorphTag    string `json:"morph_tag,omitempty"`
	Source      Source `json:"source"`
}

type Candidate struct {
	Lemma    string
	MorphTag string
}

// PrimaryLookup answers from curated data only.
type PrimaryLookup interface {
	Lookup(ctx context.Context, language, surfaceFold string) (Candidate, bool)
}

// FallbackLemmatizer guesses a lemma for a token the curated data does not
// know. It never supplies a morph tag.
type FallbackLemmatizer interface {
	Lemmatize(ctx context.Context, language, surfaceFold string) (string, bool)
}

type Analyzer struct {
	primary  PrimaryLookup
	fallback FallbackLemmatizer
}

// NewAnalyzer builds an analyzer; a nil fallback leaves unknown tokens
// unanalyzed.
func NewAnalyzer(primary PrimaryLookup, fallback FallbackLemmatizer) *Analyzer {
	return &Analyzer{primary: primary, fallback: fallback}
}

func (a *Analyzer) Analyze(ctx context.Context, language string, index int, surface string) Analysis {
	res := Analysis{Index: index, Surface: surface, Source: SourceUnanalyzed}
	nfc, fold, err := textnorm.Normalize(surface)
	if err != nil || fold == "" {
		return res
	}
	res.Surface = nfc
	res.SurfaceFold = fold
	if a.primary != nil {
		if cand, ok := a.primary.Lookup(ctx, language, fold); ok && cand.Lemma != "" {
			res.Lemma = cand.Lemma
			res.MorphTag = cand.MorphTag
			res.Source = SourcePrimary
			return res
		}
	}
	if a.fallback != nil {
		if lemma, ok := a.fallback.Lemmatize(ctx, language, fold); ok && lemma != "" {
			res.Lemma = lemma
			res.Source = SourceFallback
			return res
		}
	}
	return res
}
