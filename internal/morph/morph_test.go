package morph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/store"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{})
	require.NoError(t, err)
	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	require.NoError(t, txn.PutLanguage(model.Language{Code: "grc", Name: "Ancient Greek"}))
	require.NoError(t, txn.PutLanguage(model.Language{Code: "lat", Name: "Latin"}))
	work, err := txn.InsertWork(model.WorkInput{Language: "grc", Author: "Homer", Title: "Iliad"})
	require.NoError(t, err)
	seg, err := txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 1, Text: "μῆνιν ἄειδε θεὰ"})
	require.NoError(t, err)
	_, err = txn.InsertToken(seg.ID, 0, model.TokenInput{Surface: "μῆνιν", Lemma: "μῆνις", MorphTag: "n-s---fa-"})
	require.NoError(t, err)
	_, err = txn.InsertToken(seg.ID, 2, model.TokenInput{Surface: "θεὰ", Lemma: "θεά", MorphTag: "n-s---fv-"})
	require.NoError(t, err)
	for _, lex := range []model.LexemeInput{
		{Language: "grc", Lemma: "μῆνις", PartOfSpeech: "noun"},
		{Language: "grc", Lemma: "ἀείδω", PartOfSpeech: "verb"},
		{Language: "grc", Lemma: "λόγος", PartOfSpeech: "noun"},
		{Language: "lat", Lemma: "vir", PartOfSpeech: "noun"},
	} {
		_, err = txn.InsertLexeme(lex)
		require.NoError(t, err)
	}
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)
	return s
}

func TestAnalyzer_TwoTiers(t *testing.T) {
	s := seedStore(t)
	a := NewAnalyzer(NewStoreLookup(s), NewSuffixLemmatizer(s, nil, nil))
	ctx := context.Background()

	tests := []struct {
		name     string
		language string
		surface  string
		lemma    string
		morphTag string
		source   Source
	}{
		{name: "curated token", language: "grc", surface: "Μῆνιν", lemma: "μῆνις", morphTag: "n-s---fa-", source: SourcePrimary},
		{name: "curated token without lexeme", language: "grc", surface: "θεὰ", lemma: "θεά", morphTag: "n-s---fv-", source: SourcePrimary},
		{name: "headword", language: "grc", surface: "λόγος", lemma: "λόγος", source: SourcePrimary},
		{name: "suffix rule", language: "grc", surface: "ἄειδε", lemma: "ἀείδω", source: SourceFallback},
		{name: "genitive", language: "grc", surface: "λόγου", lemma: "λόγος", source: SourceFallback},
		{name: "latin enclitic", language: "lat", surface: "virumque", lemma: "vir", source: SourceFallback},
		{name: "unknown", language: "grc", surface: "ξυζ", source: SourceUnanalyzed},
		{name: "scoped to language", language: "lat", surface: "λόγος", source: SourceUnanalyzed},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Analyze(ctx, tt.language, i, tt.surface)
			require.Equal(t, i, res.Index)
			require.Equal(t, tt.lemma, res.Lemma)
			require.Equal(t, tt.morphTag, res.MorphTag)
			require.Equal(t, tt.source, res.Source)
		})
	}
}

func TestAnalyzer_WithoutFallback(t *testing.T) {
	s := seedStore(t)
	a := NewAnalyzer(NewStoreLookup(s), nil)
	res := a.Analyze(context.Background(), "grc", 0, "ἄειδε")
	require.Equal(t, SourceUnanalyzed, res.Source)
	require.Empty(t, res.Lemma)
	require.Equal(t, "αειδε", res.SurfaceFold)
}

func TestStoreLookup_PrefersLemmaWithLexeme(t *testing.T) {
	s := seedStore(t)
	txn, err := s.Begin("treebank")
	require.NoError(t, err)
	require.NoError(t, txn.PutLanguage(model.Language{Code: "grc", Name: "Ancient Greek"}))
	work, err := txn.InsertWork(model.WorkInput{Language: "grc", Title: "Scholia"})
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		seg, err := txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: i, Text: "μῆνιν"})
		require.NoError(t, err)
		_, err = txn.InsertToken(seg.ID, 0, model.TokenInput{Surface: "μῆνιν", Lemma: "μῆνιν"})
		require.NoError(t, err)
	}
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)

	cand, ok := NewStoreLookup(s).Lookup(context.Background(), "grc", "μηνιν")
	require.True(t, ok)
	require.Equal(t, "μῆνις", cand.Lemma)
}

func TestChainLemmatizer_FirstWins(t *testing.T) {
	chain := ChainLemmatizer{
		LexiconLemmatizer{"grc": {"ηλθε": ""}},
		LexiconLemmatizer{"grc": {"ηλθε": "ἔρχομαι"}},
		LexiconLemmatizer{"grc": {"ηλθε": "ἐλθεῖν"}},
	}
	lemma, ok := chain.Lemmatize(context.Background(), "grc", "ηλθε")
	require.True(t, ok)
	require.Equal(t, "ἔρχομαι", lemma)

	_, ok = chain.Lemmatize(context.Background(), "lat", "ηλθε")
	require.False(t, ok)
}
