// Package filestore lists and reads ingestion bundles from a local directory
// or an S3 bucket.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xxxsen/lectio/internal/config"
	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

// MaxBundleBytes caps how much of one bundle file is decoded.
const MaxBundleBytes = 256 << 20

// Store is where ingestion bundles are read from. Keys are slash separated
// and relative to the store root.
type Store interface {
	// List returns the keys of all bundle files, sorted.
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Factory func(cfg config.FileStoreConfig) (Store, error)

// factories is filled by init functions only.
var factories = map[string]Factory{}

func Register(name string, factory Factory) {
	factories[strings.ToLower(name)] = factory
}

func New(cfg config.FileStoreConfig) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported file store type %q", cfg.Type)
	}
	return factory(cfg)
}

// ReadBundle opens key and decodes it as a source bundle. Unknown fields and
// trailing data are rejected as validation errors.
func ReadBundle(ctx context.Context, s Store, key string) (*model.Bundle, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", key, err)
	}
	defer rc.Close()
	dec := json.NewDecoder(io.LimitReader(rc, MaxBundleBytes))
	dec.DisallowUnknownFields()
	bundle := &model.Bundle{}
	if err := dec.Decode(bundle); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w: %w", key, appErr.ErrValidation, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode bundle %s: trailing data: %w", key, appErr.ErrValidation)
	}
	return bundle, nil
}

func isBundle(key string) bool {
	return strings.EqualFold(path.Ext(key), ".json")
}

// validKey accepts clean relative slash paths only.
func validKey(key string) bool {
	if key == "" || strings.ContainsRune(key, '\\') || path.IsAbs(key) {
		return false
	}
	return path.Clean(key) == key && key != "." && !strings.HasPrefix(key, "../")
}
