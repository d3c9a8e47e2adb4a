package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/pkg/response"
	"github.com/xxxsen/lectio/internal/store"
)

const defaultSegmentLimit = 200

type CorpusHandler struct {
	store *store.Store
}

func NewCorpusHandler(st *store.Store) *CorpusHandler {
	return &CorpusHandler{store: st}
}

func (h *CorpusHandler) Languages(c *gin.Context) {
	snap := h.store.Snapshot()
	response.Success(c, gin.H{"languages": snap.Languages(), "version": snap.Version()})
}

// Segments lists a work's passage range, by ordinal or by citation.
func (h *CorpusHandler) Segments(c *gin.Context) {
	snap := h.store.Snapshot()
	work, ok := snap.Work(c.Param("id"))
	if !ok {
		handleError(c, fmt.Errorf("work %s: %w", c.Param("id"), appErr.ErrNotFound))
		return
	}
	q := store.ScanQuery{
		Language: work.Language,
		WorkID:   work.ID,
		FromRef:  c.Query("from_ref"),
		ToRef:    c.Query("to_ref"),
		Limit:    defaultSegmentLimit,
	}
	var err error
	if q.From, err = queryInt(c, "from"); err != nil {
		handleError(c, err)
		return
	}
	if q.To, err = queryInt(c, "to"); err != nil {
		handleError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		handleError(c, err)
		return
	}
	if limit != nil && *limit > 0 && *limit < defaultSegmentLimit {
		q.Limit = *limit
	}
	segs, err := snap.ScanSegments(q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"work": work, "segments": segs, "version": snap.Version()})
}
