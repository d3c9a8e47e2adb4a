package retrieval

import (
	"github.com/xxxsen/lectio/internal/index"
	"github.com/xxxsen/lectio/internal/model"
)

type Modality string

const (
	ModalityLexical  Modality = "lexical"
	ModalitySemantic Modality = "semantic"
	ModalityRerank   Modality = "rerank"
)

type Request struct {
	Language       string    `json:"language"`
	TextQuery      string    `json:"text_query"`
	EmbeddingQuery []float32 `json:"embedding_query,omitempty"`
	K              int       `json:"k"`

	// With no Include flag set every entity type is searched.
	IncludePassages bool `json:"include_passages"`
	IncludeLexicon  bool `json:"include_lsj"`
	IncludeGrammar  bool `json:"include_grammar"`
}

func (r Request) types() index.Types {
	var out index.Types
	if r.IncludePassages {
		out = append(out, model.EntitySegment)
	}
	if r.IncludeLexicon {
		out = append(out, model.EntityLexeme)
	}
	if r.IncludeGrammar {
		out = append(out, model.EntityGrammarTopic)
	}
	return out
}

// Scored is a merged hit. Score is the final ranking score; the per
// modality fields keep what each index contributed.
type Scored struct {
	model.Hit
	LexicalScore  *float64 `json:"lexical_score,omitempty"`
	SemanticScore *float64 `json:"semantic_score,omitempty"`
	CombinedScore float64  `json:"combined_score"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
}

type Meta struct {
	Version  uint64     `json:"version"`
	Used     []Modality `json:"used,omitempty"`
	Skipped  []Modality `json:"skipped,omitempty"`
	Degraded bool       `json:"degraded"`
	Reranked bool       `json:"reranked"`
	Cached   bool       `json:"cached"`
}

func (m *Meta) skip(mod Modality) {
	for _, s := range m.Skipped {
		if s == mod {
			return
		}
	}
	m.Skipped = append(m.Skipped, mod)
	if mod != ModalityRerank {
		m.Degraded = true
	}
}

type Result struct {
	Hits []Scored `json:"hits"`
	Meta Meta     `json:"meta"`
}

func (r *Result) clone() *Result {
	out := &Result{Meta: r.Meta}
	out.Hits = append([]Scored(nil), r.Hits...)
	out.Meta.Used = append([]Modality(nil), r.Meta.Used...)
	out.Meta.Skipped = append([]Modality(nil), r.Meta.Skipped...)
	return out
}
