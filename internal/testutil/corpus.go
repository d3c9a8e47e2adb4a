package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/store"
)

const SourceSlug = "perseus"

// GreekBundle is a small curated corpus: the opening of the Iliad with a few
// analysed tokens, the matching dictionary entries and two grammar topics.
func GreekBundle() *model.Bundle {
	return &model.Bundle{
		Languages: []model.Language{
			{Code: "grc", Name: "Ancient Greek"},
			{Code: "lat", Name: "Latin"},
		},
		Source: model.SourceDoc{Slug: SourceSlug, Title: "Perseus Digital Library", License: "CC BY-SA 3.0"},
		Works: []model.WorkInput{
			{
				Language:  "grc",
				Author:    "Homer",
				Title:     "Iliad",
				RefScheme: "book.line",
				Segments: []model.SegmentInput{
					{Ordinal: 1, Ref: "1.1", Text: "μῆνιν ἄειδε θεὰ Πηληϊάδεω Ἀχιλῆος", Tokens: []model.TokenInput{
						{Surface: "μῆνιν", Lemma: "μῆνις", MorphTag: "n-s---fa-"},
						{Surface: "ἄειδε", Lemma: "ἀείδω", MorphTag: "v2spma---"},
						{Surface: "θεὰ", Lemma: "θεά", MorphTag: "n-s---fv-"},
					}},
					{Ordinal: 2, Ref: "1.2", Text: "οὐλομένην, ἣ μυρί᾽ Ἀχαιοῖς ἄλγε᾽ ἔθηκε"},
					{Ordinal: 3, Ref: "1.3", Text: "πολλὰς δ᾽ ἰφθίμους ψυχὰς Ἄϊδι προΐαψεν"},
				},
			},
			{
				Language:  "lat",
				Author:    "Vergil",
				Title:     "Aeneid",
				RefScheme: "book.line",
				Segments: []model.SegmentInput{
					{Ordinal: 1, Ref: "1.1", Text: "Arma virumque cano, Troiae qui primus ab oris"},
				},
			},
		},
		Lexemes: []model.LexemeInput{
			{Language: "grc", Lemma: "μῆνις", PartOfSpeech: "noun", Senses: []model.Sense{{Gloss: "wrath", Citations: []string{"Il. 1.1"}}}},
			{Language: "grc", Lemma: "ἀείδω", PartOfSpeech: "verb", Senses: []model.Sense{{Gloss: "sing"}}},
			{Language: "grc", Lemma: "θεά", PartOfSpeech: "noun", Senses: []model.Sense{{Gloss: "goddess"}}},
			{Language: "grc", Lemma: "ψυχή", PartOfSpeech: "noun", Senses: []model.Sense{{Gloss: "breath, soul"}}},
			{Language: "lat", Lemma: "vir", PartOfSpeech: "noun", Senses: []model.Sense{{Gloss: "man"}}},
		},
		GrammarTopics: []model.GrammarTopicInput{
			{Language: "grc", Anchor: "Smyth 1585", Title: "Imperative", Body: "The **imperative** ἄειδε expresses a command or an entreaty."},
			{Language: "grc", Anchor: "Smyth 1042", Title: "Accusative of respect", Body: "The accusative μῆνιν stands as the direct object of the verb."},
		},
	}
}

// NewEmbedder returns the deterministic hashing embedder used by tests.
func NewEmbedder(dim int) ai.IEmbedder {
	return ai.NewEmbedder(ai.NewHashingProvider(dim), "test")
}

// NewCorpus builds a store holding GreekBundle. With dim > 0 every segment
// and grammar topic carries an embedding from NewEmbedder(dim).
func NewCorpus(t *testing.T, dim int) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(store.Config{EmbeddingDim: dim})
	require.NoError(t, err)
	bundle := GreekBundle()
	if dim > 0 {
		embedder := NewEmbedder(dim)
		for wi := range bundle.Works {
			for si := range bundle.Works[wi].Segments {
				seg := &bundle.Works[wi].Segments[si]
				seg.Embedding, err = embedder.Embed(ctx, seg.Text, ai.TaskRetrievalDocument)
				require.NoError(t, err)
			}
		}
		for ti := range bundle.GrammarTopics {
			topic := &bundle.GrammarTopics[ti]
			topic.Embedding, err = embedder.Embed(ctx, topic.Title+"\n"+topic.Body, ai.TaskRetrievalDocument)
			require.NoError(t, err)
		}
	}
	txn, err := s.Begin(SourceSlug)
	require.NoError(t, err)
	require.NoError(t, txn.ApplyBundle(bundle))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)
	return s
}
