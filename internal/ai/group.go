package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// groupEmbedder tries its members in order. With a positive dim, a member
// returning the wrong vector length counts as failed.
type groupEmbedder struct {
	items []EmbedderEntry
	dim   int
}

func NewGroupEmbedder(items []EmbedderEntry, dim int) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	return &groupEmbedder{items: items, dim: dim}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil && g.dim > 0 && len(res) != g.dim {
			err = fmt.Errorf("got %d dims, want %d: %w", len(res), g.dim, appErr.ErrDimensionMismatch)
		}
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logutil.GetLogger(ctx).Warn("embedder failed",
			zap.Int("index", i),
			zap.String("name", item.Name),
			zap.String("model", item.Embedder.ModelName()),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return nil, ErrUnavailable
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		names = append(names, item.Embedder.ModelName())
	}
	return strings.Join(names, "|")
}
