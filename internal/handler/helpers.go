package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/middleware"
	"github.com/xxxsen/lectio/internal/pkg/errcode"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	switch {
	case errors.Is(err, appErr.ErrUnknownLanguage):
		response.Error(c, errcode.ErrUnknownLanguage, "unknown language")
	case errors.Is(err, appErr.ErrEncoding):
		response.Error(c, errcode.ErrEncoding, "input is not valid utf-8")
	case errors.Is(err, appErr.ErrDimensionMismatch):
		response.Error(c, errcode.ErrDimensionMismatch, "embedding dimension mismatch")
	case errors.Is(err, appErr.ErrValidation):
		response.Error(c, errcode.ErrValidation, err.Error())
	case errors.Is(err, appErr.ErrCallerCancelled):
		response.Error(c, errcode.ErrCancelled, "request cancelled")
	case errors.Is(err, ai.ErrUnavailable):
		response.Error(c, errcode.ErrEmbeddingUnavailable, "embedding not configured")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, appErr.ErrInvalid
	}
	return &v, nil
}
