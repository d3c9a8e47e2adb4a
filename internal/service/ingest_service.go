package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/filestore"
	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/store"
)

type IngestReport struct {
	store.Report
	Embedded int           `json:"embedded"`
	Elapsed  time.Duration `json:"elapsed"`
}

// IngestService writes source bundles into the store. It is the single
// writer for each source slug for the duration of a call.
type IngestService struct {
	store    *store.Store
	embedder ai.IEmbedder
	files    filestore.Store
}

func NewIngestService(st *store.Store, embedder ai.IEmbedder, files filestore.Store) *IngestService {
	return &IngestService{store: st, embedder: embedder, files: files}
}

// Ingest stages and commits one bundle. Segments and grammar topics without
// an embedding get one from the configured embedder when the store has a
// dimension set.
func (s *IngestService) Ingest(ctx context.Context, bundle *model.Bundle) (*IngestReport, error) {
	start := time.Now()
	slug := strings.TrimSpace(bundle.Source.Slug)
	logger := logutil.GetLogger(ctx).With(zap.String("source", slug))

	embedded, err := s.fillEmbeddings(ctx, bundle)
	if err != nil {
		return nil, err
	}
	txn, err := s.store.Begin(slug)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	if err := txn.ApplyBundle(bundle); err != nil {
		return nil, err
	}
	report, err := txn.Commit(ctx)
	if err != nil {
		if appErr.IsConflict(err) {
			logger.Warn("corpus changed by another writer, reload before retrying", zap.Error(err))
		}
		return nil, err
	}
	out := &IngestReport{Report: *report, Embedded: embedded, Elapsed: time.Since(start)}
	logger.Info("bundle ingested",
		zap.Uint64("version", out.Version),
		zap.Int("inserted", out.Inserted),
		zap.Int("unchanged", out.Unchanged),
		zap.Int("superseded", out.Superseded),
		zap.Int("tombstoned", out.Tombstoned),
		zap.Int("embedded", out.Embedded),
		zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// IngestFile reads a JSON bundle from the file store and ingests it.
func (s *IngestService) IngestFile(ctx context.Context, key string) (*IngestReport, error) {
	if s.files == nil {
		return nil, fmt.Errorf("no file store configured: %w", appErr.ErrInvalid)
	}
	bundle, err := filestore.ReadBundle(ctx, s.files, key)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, bundle)
}

// IngestAll ingests every bundle of the file store in key order and stops at
// the first failure.
func (s *IngestService) IngestAll(ctx context.Context) ([]*IngestReport, error) {
	if s.files == nil {
		return nil, fmt.Errorf("no file store configured: %w", appErr.ErrInvalid)
	}
	keys, err := s.files.List(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]*IngestReport, 0, len(keys))
	for _, key := range keys {
		report, err := s.IngestFile(ctx, key)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *IngestService) fillEmbeddings(ctx context.Context, bundle *model.Bundle) (int, error) {
	dim := s.store.Config().EmbeddingDim
	if s.embedder == nil || dim == 0 {
		return 0, nil
	}
	embed := func(text string) ([]float32, error) {
		vec, err := s.embedder.Embed(ctx, text, ai.TaskRetrievalDocument)
		if err != nil {
			return nil, err
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("embedder %s returned %d dims, want %d: %w", s.embedder.ModelName(), len(vec), dim, appErr.ErrDimensionMismatch)
		}
		return vec, nil
	}
	n := 0
	for wi := range bundle.Works {
		for si := range bundle.Works[wi].Segments {
			seg := &bundle.Works[wi].Segments[si]
			if len(seg.Embedding) > 0 || strings.TrimSpace(seg.Text) == "" {
				continue
			}
			vec, err := embed(seg.Text)
			if err != nil {
				return n, fmt.Errorf("embed segment %d of %q: %w", seg.Ordinal, bundle.Works[wi].Title, err)
			}
			seg.Embedding = vec
			n++
		}
	}
	for ti := range bundle.GrammarTopics {
		topic := &bundle.GrammarTopics[ti]
		if len(topic.Embedding) > 0 || strings.TrimSpace(topic.Body) == "" {
			continue
		}
		vec, err := embed(topic.Title + "\n" + topic.Body)
		if err != nil {
			return n, fmt.Errorf("embed grammar topic %q: %w", topic.Anchor, err)
		}
		topic.Embedding = vec
		n++
	}
	return n, nil
}
