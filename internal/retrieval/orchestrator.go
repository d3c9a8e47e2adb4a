// Package retrieval fans a query out to the lexical and semantic indexes,
// merges both rankings and optionally reranks the head of the list.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/index"
	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/textnorm"
)

type LexicalSearcher interface {
	Search(ctx context.Context, q index.LexicalQuery) ([]model.Hit, error)
}

type SemanticSearcher interface {
	Search(ctx context.Context, q index.SemanticQuery) ([]model.Hit, error)
	Dim() int
}

// Catalog answers which languages exist and identifies the corpus version
// results were computed against.
type Catalog interface {
	Language(code string) (model.Language, bool)
	Version() uint64
}

// Reranker rescores candidates; it returns one score per candidate, higher
// is better.
type Reranker interface {
	Rerank(ctx context.Context, foldedQuery string, cands []Scored) ([]float64, error)
}

type Orchestrator struct {
	cfg      Config
	catalog  Catalog
	lexical  LexicalSearcher
	semantic SemanticSearcher
	embedder ai.IEmbedder
	reranker Reranker
	cache    *expirable.LRU[string, *Result]
}

type Option func(*Orchestrator)

func WithEmbedder(e ai.IEmbedder) Option {
	return func(o *Orchestrator) {
		o.embedder = e
	}
}

func WithReranker(r Reranker) Option {
	return func(o *Orchestrator) {
		o.reranker = r
	}
}

func New(cfg Config, catalog Catalog, lexical LexicalSearcher, semantic SemanticSearcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		catalog:  catalog,
		lexical:  lexical,
		semantic: semantic,
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		o.cache = expirable.NewLRU[string, *Result](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Retrieve returns the top k merged hits for req. A slow or failing
// modality is dropped and recorded in Meta.Skipped; cancellation of ctx
// fails the call with ErrCallerCancelled and no result.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if _, ok := o.catalog.Language(req.Language); !ok {
		return nil, fmt.Errorf("retrieve %q: %w", req.Language, appErr.ErrUnknownLanguage)
	}
	folded, err := textnorm.Fold(strings.TrimSpace(req.TextQuery))
	if err != nil {
		return nil, err
	}
	if len(req.EmbeddingQuery) > 0 && o.semantic != nil && len(req.EmbeddingQuery) != o.semantic.Dim() {
		return nil, fmt.Errorf("embedding query has %d dims, want %d: %w",
			len(req.EmbeddingQuery), o.semantic.Dim(), appErr.ErrDimensionMismatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, err)
	}

	version := o.catalog.Version()
	res := &Result{Hits: []Scored{}, Meta: Meta{Version: version}}
	if req.K <= 0 || (folded == "" && len(req.EmbeddingQuery) == 0) {
		return res, nil
	}
	key := cacheKey(version, folded, req)
	if o.cache != nil {
		if cached, ok := o.cache.Get(key); ok {
			out := cached.clone()
			out.Meta.Cached = true
			return out, nil
		}
	}

	logger := logutil.GetLogger(ctx).With(zap.String("language", req.Language), zap.Int("k", req.K))
	types := req.types()
	pool := req.K * o.cfg.CandidateFactor
	if req.K > o.cfg.RerankThreshold && pool < o.cfg.RerankDepth {
		pool = o.cfg.RerankDepth
	}

	var lexHits, semHits []model.Hit
	lexOK, semOK := false, false
	g, gctx := errgroup.WithContext(ctx)
	if o.lexical != nil && folded != "" {
		res.Meta.Used = append(res.Meta.Used, ModalityLexical)
		g.Go(func() error {
			hits, err := withTimeout(gctx, o.cfg.LexicalTimeout, func(ctx context.Context) ([]model.Hit, error) {
				return o.lexical.Search(ctx, index.LexicalQuery{Language: req.Language, Folded: folded, K: pool, Types: types})
			})
			if err != nil {
				return o.modalityError(ctx, logger, ModalityLexical, err)
			}
			lexHits, lexOK = hits, true
			return nil
		})
	}
	if o.semantic != nil && (len(req.EmbeddingQuery) > 0 || (o.embedder != nil && folded != "")) {
		res.Meta.Used = append(res.Meta.Used, ModalitySemantic)
		g.Go(func() error {
			hits, err := withTimeout(gctx, o.cfg.SemanticTimeout, func(ctx context.Context) ([]model.Hit, error) {
				vec := req.EmbeddingQuery
				if len(vec) == 0 {
					var err error
					vec, err = o.embedder.Embed(ctx, strings.TrimSpace(req.TextQuery), ai.TaskRetrievalQuery)
					if err != nil {
						return nil, fmt.Errorf("embed query: %w", err)
					}
				}
				return o.semantic.Search(ctx, index.SemanticQuery{Language: req.Language, Vector: vec, K: pool, Types: types})
			})
			if err != nil {
				return o.modalityError(ctx, logger, ModalitySemantic, err)
			}
			semHits, semOK = hits, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, err)
	}
	if !lexOK && o.lexical != nil && folded != "" {
		res.Meta.skip(ModalityLexical)
	}
	if !semOK && contains(res.Meta.Used, ModalitySemantic) {
		res.Meta.skip(ModalitySemantic)
	}

	merged := o.merge(req.Language, lexHits, semHits)
	if o.reranker != nil && req.K > o.cfg.RerankThreshold && len(merged) > 1 {
		depth := o.cfg.RerankDepth
		if depth < req.K {
			depth = req.K
		}
		if err := o.rerank(ctx, folded, merged, depth); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, ctx.Err())
			}
			logger.Warn("rerank skipped", zap.Error(err))
			res.Meta.skip(ModalityRerank)
		} else {
			res.Meta.Reranked = true
		}
	}
	if len(merged) > req.K {
		merged = merged[:req.K]
	}
	res.Hits = merged
	if o.cache != nil && !res.Meta.Degraded {
		o.cache.Add(key, res.clone())
	}
	return res, nil
}

// modalityError decides whether a failed modality degrades the result or
// fails the request.
func (o *Orchestrator) modalityError(ctx context.Context, logger *zap.Logger, mod Modality, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("modality timed out", zap.String("modality", string(mod)), zap.Error(appErr.ErrModalityTimeout))
		return nil
	}
	logger.Warn("modality failed", zap.String("modality", string(mod)), zap.Error(err))
	return nil
}

func (o *Orchestrator) merge(language string, lexHits, semHits []model.Hit) []Scored {
	byID := make(map[string]*Scored)
	var order []string
	add := func(hits []model.Hit, weight float64, set func(s *Scored, raw float64)) {
		top := 0.0
		for _, h := range hits {
			if h.Score > top {
				top = h.Score
			}
		}
		for _, h := range hits {
			if h.Language != language {
				continue
			}
			s, ok := byID[h.EntityID]
			if !ok {
				s = &Scored{Hit: h}
				byID[h.EntityID] = s
				order = append(order, h.EntityID)
			}
			raw := h.Score
			set(s, raw)
			if top > 0 && raw > 0 {
				s.CombinedScore += weight * raw / top
			}
		}
	}
	add(lexHits, o.cfg.LexicalWeight, func(s *Scored, raw float64) { s.LexicalScore = &raw })
	add(semHits, o.cfg.SemanticWeight, func(s *Scored, raw float64) { s.SemanticScore = &raw })

	out := make([]Scored, 0, len(order))
	for _, id := range order {
		s := byID[id]
		s.Score = roundScore(s.CombinedScore)
		if s.Score <= 0 {
			continue
		}
		out = append(out, *s)
	}
	sortScored(out)
	return out
}

func (o *Orchestrator) rerank(ctx context.Context, folded string, merged []Scored, depth int) error {
	if depth > len(merged) {
		depth = len(merged)
	}
	head := merged[:depth]
	scores, err := o.reranker.Rerank(ctx, folded, head)
	if err != nil {
		return err
	}
	if len(scores) != len(head) {
		return fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(head))
	}
	for i := range head {
		score := roundScore(scores[i])
		head[i].RerankScore = &score
		head[i].Score = score
	}
	sortScored(head)
	return nil
}

func withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) ([]model.Hit, error)) ([]model.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	type result struct {
		hits []model.Hit
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		hits, err := fn(ctx)
		ch <- result{hits: hits, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.hits, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sortScored(hits []Scored) {
	sort.Slice(hits, func(i, j int) bool { return model.LessHit(hits[i].Hit, hits[j].Hit) })
}

// roundScore drops float noise below 1e-9 so equal scores tie exactly and
// fall through to the sort key.
func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func contains(mods []Modality, m Modality) bool {
	for _, x := range mods {
		if x == m {
			return true
		}
	}
	return false
}

func cacheKey(version uint64, folded string, req Request) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], version)
	h.Write(buf[:])
	fmt.Fprintf(h, "\x1f%s\x1f%s\x1f%d\x1f%t%t%t\x1f", req.Language, folded, req.K,
		req.IncludePassages, req.IncludeLexicon, req.IncludeGrammar)
	for _, v := range req.EmbeddingQuery {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}
