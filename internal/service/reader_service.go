package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/morph"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/retrieval"
)

type ReaderConfig struct {
	LexiconK      int
	GrammarK      int
	MaxInputChars int
}

// Retriever is the hybrid retrieval entry point the reader depends on.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Entries resolves hit ids back to dictionary and grammar records.
type Entries interface {
	Language(code string) (model.Language, bool)
	GetLexeme(id string) (*model.Lexeme, error)
	GetGrammarTopic(id string) (*model.GrammarTopic, error)
}

type AnalyzeRequest struct {
	Text           string `json:"text"`
	Language       string `json:"language_code"`
	IncludeLexicon bool   `json:"include_lexicon"`
	IncludeGrammar bool   `json:"include_grammar"`
}

type LexiconEntry struct {
	EntityID     string        `json:"entity_id"`
	Lemma        string        `json:"lemma"`
	PartOfSpeech string        `json:"part_of_speech,omitempty"`
	Gloss        string        `json:"gloss,omitempty"`
	Senses       []model.Sense `json:"senses,omitempty"`
	Score        float64       `json:"score"`

	key model.SortKey
}

type GrammarEntry struct {
	EntityID string  `json:"entity_id"`
	Anchor   string  `json:"anchor"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
}

type AnalyzeMeta struct {
	Version  uint64               `json:"version"`
	Skipped  []retrieval.Modality `json:"skipped,omitempty"`
	Degraded bool                 `json:"degraded"`
}

type AnalyzeResult struct {
	Tokens  []morph.Analysis `json:"tokens"`
	Lexicon []LexiconEntry   `json:"lexicon"`
	Grammar []GrammarEntry   `json:"grammar"`
	Meta    AnalyzeMeta      `json:"meta"`
}

type ReaderService struct {
	cfg       ReaderConfig
	entries   Entries
	analyzer  *morph.Analyzer
	retriever Retriever
	tokenizer Tokenizer
}

func NewReaderService(cfg ReaderConfig, entries Entries, analyzer *morph.Analyzer, retriever Retriever, tokenizer Tokenizer) *ReaderService {
	if cfg.LexiconK <= 0 {
		cfg.LexiconK = 3
	}
	if cfg.GrammarK <= 0 {
		cfg.GrammarK = 5
	}
	if tokenizer == nil {
		tokenizer = ScriptTokenizer
	}
	return &ReaderService{cfg: cfg, entries: entries, analyzer: analyzer, retriever: retriever, tokenizer: tokenizer}
}

// Analyze tokenizes req.Text, resolves every token and, when asked, attaches
// ranked lexicon and grammar annotations. Index timeouts only degrade the
// annotations; cancelling ctx fails the whole call.
func (s *ReaderService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	language := strings.TrimSpace(req.Language)
	if _, ok := s.entries.Language(language); !ok {
		return nil, fmt.Errorf("analyze %q: %w", language, appErr.ErrUnknownLanguage)
	}
	if !utf8.ValidString(req.Text) {
		return nil, fmt.Errorf("analyze input: %w", appErr.ErrEncoding)
	}
	if s.cfg.MaxInputChars > 0 && utf8.RuneCountInString(req.Text) > s.cfg.MaxInputChars {
		return nil, fmt.Errorf("input longer than %d characters: %w", s.cfg.MaxInputChars, appErr.ErrInvalid)
	}

	res := &AnalyzeResult{Tokens: []morph.Analysis{}, Lexicon: []LexiconEntry{}, Grammar: []GrammarEntry{}}
	for i, surface := range s.tokenizer.Tokenize(req.Text) {
		res.Tokens = append(res.Tokens, s.analyzer.Analyze(ctx, language, i, surface))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, err)
	}

	if req.IncludeLexicon {
		if err := s.attachLexicon(ctx, language, res); err != nil {
			return nil, err
		}
	}
	if req.IncludeGrammar && strings.TrimSpace(req.Text) != "" {
		out, err := s.retriever.Retrieve(ctx, retrieval.Request{
			Language:       language,
			TextQuery:      req.Text,
			K:              s.cfg.GrammarK,
			IncludeGrammar: true,
		})
		if err != nil {
			return nil, err
		}
		s.mergeMeta(res, out.Meta)
		for _, hit := range out.Hits {
			topic, err := s.entries.GetGrammarTopic(hit.EntityID)
			if err != nil {
				continue
			}
			res.Grammar = append(res.Grammar, GrammarEntry{
				EntityID: topic.ID,
				Anchor:   topic.Anchor,
				Title:    topic.Title,
				Score:    hit.Score,
			})
		}
	}
	if res.Meta.Degraded {
		logutil.GetLogger(ctx).Info("analyze degraded",
			zap.String("language", language),
			zap.Any("skipped", res.Meta.Skipped))
	}
	return res, nil
}

func (s *ReaderService) attachLexicon(ctx context.Context, language string, res *AnalyzeResult) error {
	seen := make(map[string]bool)
	best := make(map[string]int)
	for _, tok := range res.Tokens {
		if tok.Lemma == "" || seen[tok.Lemma] {
			continue
		}
		seen[tok.Lemma] = true
		out, err := s.retriever.Retrieve(ctx, retrieval.Request{
			Language:       language,
			TextQuery:      tok.Lemma,
			K:              s.cfg.LexiconK,
			IncludeLexicon: true,
		})
		if err != nil {
			return err
		}
		s.mergeMeta(res, out.Meta)
		for _, hit := range out.Hits {
			if at, ok := best[hit.EntityID]; ok {
				if hit.Score > res.Lexicon[at].Score {
					res.Lexicon[at].Score = hit.Score
				}
				continue
			}
			lex, err := s.entries.GetLexeme(hit.EntityID)
			if err != nil {
				continue
			}
			best[hit.EntityID] = len(res.Lexicon)
			res.Lexicon = append(res.Lexicon, LexiconEntry{
				EntityID:     lex.ID,
				Lemma:        lex.Lemma,
				PartOfSpeech: lex.PartOfSpeech,
				Gloss:        lex.Gloss(),
				Senses:       lex.Senses,
				Score:        hit.Score,
				key:          hit.Key,
			})
		}
	}
	sort.SliceStable(res.Lexicon, func(i, j int) bool {
		a, b := res.Lexicon[i], res.Lexicon[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.key.Compare(b.key) < 0
	})
	return nil
}

func (s *ReaderService) mergeMeta(res *AnalyzeResult, meta retrieval.Meta) {
	if meta.Version > res.Meta.Version {
		res.Meta.Version = meta.Version
	}
	if meta.Degraded {
		res.Meta.Degraded = true
	}
	for _, mod := range meta.Skipped {
		found := false
		for _, have := range res.Meta.Skipped {
			if have == mod {
				found = true
				break
			}
		}
		if !found {
			res.Meta.Skipped = append(res.Meta.Skipped, mod)
		}
	}
}
