package model

// CachedEmbedding is one durable embedding cache row. ContentHash covers the
// task type and the NFC text; CreatedAt is unix seconds.
type CachedEmbedding struct {
	Model       string    `json:"model"`
	Task        string    `json:"task"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	CreatedAt   int64     `json:"created_at"`
}
