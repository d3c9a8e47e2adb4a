package retrieval

import "time"

type Config struct {
	LexicalTimeout  time.Duration
	SemanticTimeout time.Duration
	LexicalWeight   float64
	SemanticWeight  float64

	// RerankThreshold is the k above which the reranker runs over the top
	// RerankDepth merged candidates.
	RerankThreshold int
	RerankDepth     int

	// CandidateFactor sizes each modality's candidate pool as k times this.
	CandidateFactor int
	CacheSize       int
	CacheTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		LexicalTimeout:  300 * time.Millisecond,
		SemanticTimeout: 300 * time.Millisecond,
		LexicalWeight:   0.5,
		SemanticWeight:  0.5,
		RerankThreshold: 5,
		RerankDepth:     50,
		CandidateFactor: 4,
		CacheSize:       1024,
		CacheTTL:        10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LexicalTimeout <= 0 {
		c.LexicalTimeout = d.LexicalTimeout
	}
	if c.SemanticTimeout <= 0 {
		c.SemanticTimeout = d.SemanticTimeout
	}
	if c.LexicalWeight < 0 || c.SemanticWeight < 0 || c.LexicalWeight+c.SemanticWeight == 0 {
		c.LexicalWeight, c.SemanticWeight = d.LexicalWeight, d.SemanticWeight
	}
	if c.RerankThreshold <= 0 {
		c.RerankThreshold = d.RerankThreshold
	}
	if c.RerankDepth <= 0 {
		c.RerankDepth = d.RerankDepth
	}
	if c.CandidateFactor <= 0 {
		c.CandidateFactor = d.CandidateFactor
	}
	return c
}
