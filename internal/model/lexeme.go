package model

type Sense struct {
	Gloss     string   `json:"gloss"`
	Citations []string `json:"citations,omitempty"`
}

// Lexeme is a dictionary headword keyed by (Language, Lemma).
type Lexeme struct {
	ID           string  `json:"id"`
	Language     string  `json:"language"`
	Source       string  `json:"source"`
	Lemma        string  `json:"lemma"`
	LemmaFold    string  `json:"-"`
	PartOfSpeech string  `json:"part_of_speech,omitempty"`
	Senses       []Sense `json:"senses,omitempty"`
	ContentHash  string  `json:"-"`
	Revision     int     `json:"revision"`
	Supersedes   int     `json:"supersedes,omitempty"`
}

// Gloss returns the first sense gloss, the short form shown next to a token.
func (l *Lexeme) Gloss() string {
	if l == nil || len(l.Senses) == 0 {
		return ""
	}
	return l.Senses[0].Gloss
}
