package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lectio/internal/index"
	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/morph"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/retrieval"
	"github.com/xxxsen/lectio/internal/store"
	"github.com/xxxsen/lectio/internal/testutil"
)

const testDim = 16

type countingRetriever struct {
	next  Retriever
	calls atomic.Int32
}

func (c *countingRetriever) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	c.calls.Add(1)
	return c.next.Retrieve(ctx, req)
}

// stalledSemantic never answers before its context ends.
type stalledSemantic struct{}

func (stalledSemantic) Search(ctx context.Context, q index.SemanticQuery) ([]model.Hit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSemantic) Dim() int { return testDim }

func newReader(t *testing.T, st *store.Store, semantic retrieval.SemanticSearcher, cfg retrieval.Config) (*ReaderService, *countingRetriever) {
	t.Helper()
	if semantic == nil {
		semantic = index.NewSemantic(st, testDim)
	}
	orch := retrieval.New(cfg, st, index.NewLexical(st, index.LexicalConfig{}), semantic,
		retrieval.WithEmbedder(testutil.NewEmbedder(testDim)))
	retriever := &countingRetriever{next: orch}
	analyzer := morph.NewAnalyzer(morph.NewStoreLookup(st), morph.NewSuffixLemmatizer(st, nil, nil))
	return NewReaderService(ReaderConfig{MaxInputChars: 200}, st, analyzer, retriever, nil), retriever
}

func TestAnalyze_HomericOpening(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	reader, _ := newReader(t, st, nil, retrieval.DefaultConfig())

	res, err := reader.Analyze(context.Background(), AnalyzeRequest{
		Text:           "Μῆνιν ἄειδε",
		Language:       "grc",
		IncludeLexicon: true,
		IncludeGrammar: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Tokens, 2)
	require.Equal(t, "Μῆνιν", res.Tokens[0].Surface)
	require.Equal(t, "μῆνις", res.Tokens[0].Lemma)
	require.Equal(t, "n-s---fa-", res.Tokens[0].MorphTag)
	require.Equal(t, morph.SourcePrimary, res.Tokens[0].Source)
	require.Equal(t, "ἀείδω", res.Tokens[1].Lemma)
	require.Equal(t, morph.SourcePrimary, res.Tokens[1].Source)

	require.NotEmpty(t, res.Lexicon)
	lemmas := map[string]bool{}
	for _, e := range res.Lexicon {
		lemmas[e.Lemma] = true
	}
	require.True(t, lemmas["μῆνις"] || lemmas["ἀείδω"])
	require.Equal(t, "μῆνις", res.Lexicon[0].Lemma)
	require.Equal(t, "wrath", res.Lexicon[0].Gloss)

	require.NotEmpty(t, res.Grammar)
	require.False(t, res.Meta.Degraded)
	require.Equal(t, st.Version(), res.Meta.Version)
}

func TestAnalyze_FallbackAndUnanalyzed(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	reader, _ := newReader(t, st, nil, retrieval.DefaultConfig())

	res, err := reader.Analyze(context.Background(), AnalyzeRequest{Text: "ψυχῆς, ξυζ.", Language: "grc"})
	require.NoError(t, err)
	require.Len(t, res.Tokens, 2)
	require.Equal(t, "ψυχή", res.Tokens[0].Lemma)
	require.Empty(t, res.Tokens[0].MorphTag)
	require.Equal(t, morph.SourceFallback, res.Tokens[0].Source)
	require.Empty(t, res.Tokens[1].Lemma)
	require.Equal(t, morph.SourceUnanalyzed, res.Tokens[1].Source)
	require.Empty(t, res.Lexicon)
	require.Empty(t, res.Grammar)
}

func TestAnalyze_UnknownLanguageTouchesNoIndex(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	reader, retriever := newReader(t, st, nil, retrieval.DefaultConfig())

	_, err := reader.Analyze(context.Background(), AnalyzeRequest{
		Text: "Μῆνιν ἄειδε", Language: "xx-unknown", IncludeLexicon: true, IncludeGrammar: true,
	})
	require.ErrorIs(t, err, appErr.ErrUnknownLanguage)
	require.Zero(t, retriever.calls.Load())
}

func TestAnalyze_RejectsBadInput(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	reader, _ := newReader(t, st, nil, retrieval.DefaultConfig())

	_, err := reader.Analyze(context.Background(), AnalyzeRequest{Text: "μῆνιν \xff", Language: "grc"})
	require.ErrorIs(t, err, appErr.ErrEncoding)

	long := make([]rune, 201)
	for i := range long {
		long[i] = 'α'
	}
	_, err = reader.Analyze(context.Background(), AnalyzeRequest{Text: string(long), Language: "grc"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestAnalyze_SemanticTimeoutDegrades(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	cfg := retrieval.DefaultConfig()
	cfg.SemanticTimeout = 20 * time.Millisecond
	cfg.CacheSize = 0
	reader, _ := newReader(t, st, stalledSemantic{}, cfg)

	res, err := reader.Analyze(context.Background(), AnalyzeRequest{
		Text: "Μῆνιν ἄειδε", Language: "grc", IncludeLexicon: true, IncludeGrammar: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Tokens, 2)
	require.NotEmpty(t, res.Lexicon)
	require.True(t, res.Meta.Degraded)
	require.Equal(t, []retrieval.Modality{retrieval.ModalitySemantic}, res.Meta.Skipped)
}

func TestAnalyze_CallerCancelled(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	reader, _ := newReader(t, st, nil, retrieval.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := reader.Analyze(ctx, AnalyzeRequest{Text: "Μῆνιν ἄειδε", Language: "grc", IncludeLexicon: true})
	require.ErrorIs(t, err, appErr.ErrCallerCancelled)
	require.Nil(t, res)
}

func TestAnalyze_Deterministic(t *testing.T) {
	st := testutil.NewCorpus(t, testDim)
	reader, _ := newReader(t, st, nil, retrieval.DefaultConfig())
	req := AnalyzeRequest{Text: "μῆνιν ἄειδε θεὰ", Language: "grc", IncludeLexicon: true, IncludeGrammar: true}

	first, err := reader.Analyze(context.Background(), req)
	require.NoError(t, err)
	second, err := reader.Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Tokens, second.Tokens)
	require.Equal(t, first.Lexicon, second.Lexicon)
	require.Equal(t, first.Grammar, second.Grammar)
}

func TestScriptTokenizer(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "Μῆνιν ἄειδε, θεά", want: []string{"Μῆνιν", "ἄειδε", "θεά"}},
		{in: "πολλὰς δ᾽ ἰφθίμους", want: []string{"πολλὰς", "δ᾽", "ἰφθίμους"}},
		{in: "Arma virumque cano.", want: []string{"Arma", "virumque", "cano"}},
		{in: " ;· ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ScriptTokenizer.Tokenize(tt.in))
		})
	}
}
