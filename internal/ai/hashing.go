package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/xxxsen/lectio/internal/textnorm"
)

type hashingConfig struct {
	Dimensions int `json:"dimensions"`
}

// hashingProvider embeds text locally by hashing folded words and their
// trigrams into a fixed number of buckets. Similar spellings land close
// together; it needs no network and is fully deterministic.
type hashingProvider struct {
	dims int
}

func NewHashingProvider(dims int) IEmbedProvider {
	return &hashingProvider{dims: dims}
}

func (p *hashingProvider) Name() string {
	return "hashing"
}

func (p *hashingProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.dims <= 0 {
		return nil, ErrUnavailable
	}
	folded, err := textnorm.Fold(text)
	if err != nil {
		return nil, err
	}
	vec := make([]float64, p.dims)
	add := func(feature string, weight float64) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[sum%uint64(p.dims)] += sign * weight
	}
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		add("w:"+w, 2)
		rs := []rune("  " + w + " ")
		for i := 0; i+3 <= len(rs); i++ {
			add("g:"+string(rs[i:i+3]), 1)
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, p.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func createHashingFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &hashingConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hashing provider needs positive dimensions")
	}
	return NewHashingProvider(cfg.Dimensions), nil
}

func init() {
	RegisterEmbed("hashing", createHashingFactory)
}
