package model

// TextWork is one authored work inside a source. RefScheme names the citation
// levels, e.g. "book.line", used to map external citations onto ordinals.
type TextWork struct {
	ID        string `json:"id"`
	Language  string `json:"language"`
	Source    string `json:"source"`
	Author    string `json:"author"`
	Title     string `json:"title"`
	RefScheme string `json:"ref_scheme"`
	Revision  int    `json:"revision"`
}

type TextSegment struct {
	ID          string    `json:"id"`
	WorkID      string    `json:"work_id"`
	Ordinal     int       `json:"ordinal_index"`
	Ref         string    `json:"ref,omitempty"`
	TextRaw     string    `json:"text_raw"`
	TextNFC     string    `json:"text_nfc"`
	TextFold    string    `json:"-"`
	Embedding   []float32 `json:"-"`
	ContentHash string    `json:"-"`
	Revision    int       `json:"revision"`
	Supersedes  int       `json:"supersedes,omitempty"`
}

// Token is a curated token of a segment. Lemma and MorphTag stay empty until
// the token has been analysed by the curator.
type Token struct {
	ID          string `json:"id"`
	SegmentID   string `json:"segment_id"`
	Index       int    `json:"index_in_segment"`
	Surface     string `json:"surface"`
	SurfaceNFC  string `json:"surface_nfc"`
	SurfaceFold string `json:"-"`
	Lemma       string `json:"lemma,omitempty"`
	LemmaFold   string `json:"-"`
	MorphTag    string `json:"morph_tag,omitempty"`
	ContentHash string `json:"-"`
	Revision    int    `json:"revision"`
	Supersedes  int    `json:"supersedes,omitempty"`
}
