package model

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SourceDoc is the provenance record of everything ingested from one source.
type SourceDoc struct {
	Slug     string            `json:"slug"`
	Title    string            `json:"title"`
	License  string            `json:"license"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Revision int               `json:"revision"`
}
