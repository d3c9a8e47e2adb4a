package dbutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

func TestFinalize(t *testing.T) {
	query, args := Finalize("SELECT id FROM text_segments WHERE work_id=? ORDER BY ordinal_index LIMIT ?,?", []interface{}{"w", 0, 20})
	require.Equal(t, "SELECT id FROM text_segments WHERE work_id=$1 ORDER BY ordinal_index LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"w", 20, 0}, args)

	query, args = Finalize("DELETE FROM embedding_cache WHERE ctime<?", []interface{}{int64(7)})
	require.Equal(t, "DELETE FROM embedding_cache WHERE ctime<$1", query)
	require.Equal(t, []interface{}{int64(7)}, args)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique", err: &pq.Error{Code: "23505"}, want: appErr.ErrConflict},
		{name: "canceled", err: &pq.Error{Code: "57014"}, want: appErr.ErrCallerCancelled},
		{name: "encoding", err: &pq.Error{Code: "22021"}, want: appErr.ErrEncoding},
		{name: "vector dims", err: &pq.Error{Code: "22000", Message: "different vector dimensions 3 and 16"}, want: appErr.ErrDimensionMismatch},
		{name: "wrapped", err: fmt.Errorf("insert tokens: %w", &pq.Error{Code: "23505"}), want: appErr.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, Classify(tt.err), tt.want)
		})
	}

	plain := errors.New("connection refused")
	require.Same(t, plain, Classify(plain))
	other := &pq.Error{Code: "42P01"}
	require.Equal(t, error(other), Classify(other))
}
