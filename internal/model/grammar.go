package model

// GrammarTopic is a section of a reference grammar. Anchor is the stable
// citation key, e.g. "Smyth 1585".
type GrammarTopic struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Language    string    `json:"language"`
	Anchor      string    `json:"anchor"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	BodyFold    string    `json:"-"`
	Embedding   []float32 `json:"-"`
	ContentHash string    `json:"-"`
	Revision    int       `json:"revision"`
	Supersedes  int       `json:"supersedes,omitempty"`
}
