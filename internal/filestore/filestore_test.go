package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lectio/internal/config"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

func TestLocalStoreListsBundles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "grc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grc", "iliad.json"), []byte(`{"source":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aeneid.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte(`notes`), 0o644))

	st, err := New(config.FileStoreConfig{Type: "local", Dir: dir})
	require.NoError(t, err)
	keys, err := st.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"aeneid.json", "grc/iliad.json"}, keys)

	rc, err := st.Open(context.Background(), "grc/iliad.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, `{"source":{}}`, string(data))

	_, err = st.Open(context.Background(), "../etc/passwd")
	require.Error(t, err)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	require.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	require.Equal(t, "https://x", endpointURL("https://x", false))
}

func TestReadBundle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.json"),
		[]byte(`{"source":{"slug":"perseus","title":"Perseus"},"languages":[{"code":"grc","name":"Ancient Greek"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.json"), []byte(`{"sauce":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.json"), []byte(`{} {}`), 0o644))
	st, err := New(config.FileStoreConfig{Type: "local", Dir: dir})
	require.NoError(t, err)

	b, err := ReadBundle(context.Background(), st, "ok.json")
	require.NoError(t, err)
	require.Equal(t, "perseus", b.Source.Slug)
	require.Len(t, b.Languages, 1)

	_, err = ReadBundle(context.Background(), st, "extra.json")
	require.ErrorIs(t, err, appErr.ErrValidation)
	_, err = ReadBundle(context.Background(), st, "two.json")
	require.ErrorIs(t, err, appErr.ErrValidation)
	_, err = ReadBundle(context.Background(), st, "missing.json")
	require.Error(t, err)
}

func TestValidKey(t *testing.T) {
	for key, want := range map[string]bool{
		"iliad.json":      true,
		"grc/iliad.json":  true,
		"":                false,
		"/etc/passwd":     false,
		"../secret.json":  false,
		"grc/../x.json":   false,
		"grc//iliad.json": false,
		`grc\iliad.json`:  false,
		".":               false,
	} {
		require.Equal(t, want, validKey(key), key)
	}
}
