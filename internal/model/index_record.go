package model

import "strings"

type EntityType string

const (
	EntitySegment      EntityType = "segment"
	EntityLexeme       EntityType = "lexeme"
	EntityGrammarTopic EntityType = "grammar_topic"
)

// SortKey is the deterministic tie-break applied whenever two hits score the
// same: work ordinal, segment ordinal, lemma, anchor, then entity id.
type SortKey struct {
	WorkOrdinal    int    `json:"work_ordinal"`
	SegmentOrdinal int    `json:"segment_ordinal"`
	Lemma          string `json:"lemma,omitempty"`
	Anchor         string `json:"anchor,omitempty"`
	EntityID       string `json:"entity_id"`

	// WorkSource, WorkTitle and WorkID order works the same way WorkOrdinal
	// does; they are what gets persisted, since ordinals shift as works arrive.
	WorkSource string `json:"-"`
	WorkTitle  string `json:"-"`
	WorkID     string `json:"-"`
}

func (k SortKey) Compare(o SortKey) int {
	switch {
	case k.WorkOrdinal != o.WorkOrdinal:
		return cmpInt(k.WorkOrdinal, o.WorkOrdinal)
	case k.SegmentOrdinal != o.SegmentOrdinal:
		return cmpInt(k.SegmentOrdinal, o.SegmentOrdinal)
	case k.Lemma != o.Lemma:
		return strings.Compare(k.Lemma, o.Lemma)
	case k.Anchor != o.Anchor:
		return strings.Compare(k.Anchor, o.Anchor)
	}
	return strings.Compare(k.EntityID, o.EntityID)
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// IndexRecord is the persisted unit of both indexes, one per indexed entity.
type IndexRecord struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Language   string     `json:"language_code"`
	FoldedText string     `json:"folded_text,omitempty"`
	Embedding  []float32  `json:"-"`
	Label      string     `json:"label"`
	Key        SortKey    `json:"key"`
}

// Hit is one scored match from a single index.
type Hit struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Language   string     `json:"language"`
	Label      string     `json:"label"`
	Score      float64    `json:"score"`
	Key        SortKey    `json:"-"`
}

func HitFromRecord(rec *IndexRecord, score float64) Hit {
	return Hit{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Language:   rec.Language,
		Label:      rec.Label,
		Score:      score,
		Key:        rec.Key,
	}
}

// LessHit orders by score descending, then by SortKey ascending.
func LessHit(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key.Compare(b.Key) < 0
}
