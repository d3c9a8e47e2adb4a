package model

// Bundle is what an ingestion run hands to the store for one SourceDoc. It
// carries raw text only; normalised and folded forms are derived on write.
type Bundle struct {
	Languages     []Language          `json:"languages"`
	Source        SourceDoc           `json:"source"`
	Works         []WorkInput         `json:"works"`
	Lexemes       []LexemeInput       `json:"lexemes"`
	GrammarTopics []GrammarTopicInput `json:"grammar_topics"`

	// Replace tombstones every entity of the source that the bundle does not
	// restate.
	Replace bool `json:"replace"`
}

type WorkInput struct {
	Language  string         `json:"language"`
	Author    string         `json:"author"`
	Title     string         `json:"title"`
	RefScheme string         `json:"ref_scheme"`
	Segments  []SegmentInput `json:"segments"`
}

type SegmentInput struct {
	Ordinal   int          `json:"ordinal_index"`
	Ref       string       `json:"ref"`
	Text      string       `json:"text"`
	Embedding []float32    `json:"embedding,omitempty"`
	Tokens    []TokenInput `json:"tokens,omitempty"`
}

type TokenInput struct {
	Surface  string `json:"surface"`
	Lemma    string `json:"lemma,omitempty"`
	MorphTag string `json:"morph_tag,omitempty"`
}

type LexemeInput struct {
	Language     string  `json:"language"`
	Lemma        string  `json:"lemma"`
	PartOfSpeech string  `json:"part_of_speech"`
	Senses       []Sense `json:"senses"`
}

type GrammarTopicInput struct {
	Language  string    `json:"language"`
	Anchor    string    `json:"anchor"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Embedding []float32 `json:"embedding,omitempty"`
}
