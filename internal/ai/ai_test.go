package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

func TestHashingEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewEmbedder(NewHashingProvider(64), "v1")
	ctx := context.Background()

	a, err := e.Embed(ctx, "Μῆνιν ἄειδε", TaskRetrievalQuery)
	require.NoError(t, err)
	require.Len(t, a, 64)
	b, err := e.Embed(ctx, "μηνιν αειδε", TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, norm, 1e-5)
	require.Equal(t, "hashing:v1", e.ModelName())
}

func TestHashingEmbedder_EmptyTextIsZero(t *testing.T) {
	vec, err := NewHashingProvider(8).Embed(context.Background(), "", "  ", "")
	require.NoError(t, err)
	require.Equal(t, make([]float32, 8), vec)
}

func TestNewEmbedProvider_Registry(t *testing.T) {
	p, err := NewEmbedProvider("Hashing", map[string]interface{}{"dimensions": 16})
	require.NoError(t, err)
	require.Equal(t, "hashing", p.Name())

	_, err = NewEmbedProvider("hashing", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewEmbedProvider("nope", nil)
	require.Error(t, err)
	_, err = NewEmbedProvider("", nil)
	require.Error(t, err)

	p, err = NewEmbedProvider("gemini", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "text-embedding-004", "λόγος", TaskRetrievalQuery)
	require.ErrorIs(t, err, ErrUnavailable)
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) ModelName() string {
	return "fake"
}

func TestGroupEmbedder_FallsThrough(t *testing.T) {
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "down", Embedder: &fakeEmbedder{err: errors.New("boom")}},
		{Name: "short", Embedder: &fakeEmbedder{vec: []float32{1}}},
		{Name: "ok", Embedder: &fakeEmbedder{vec: []float32{1, 0}}},
	}, 2)
	vec, err := g.Embed(context.Background(), "λόγος", TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, vec)

	g = NewGroupEmbedder([]EmbedderEntry{{Name: "short", Embedder: &fakeEmbedder{vec: []float32{1}}}}, 2)
	_, err = g.Embed(context.Background(), "λόγος", TaskRetrievalQuery)
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)

	require.Nil(t, NewGroupEmbedder(nil, 2))
}
