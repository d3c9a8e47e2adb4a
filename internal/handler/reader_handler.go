package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/lectio/internal/pkg/errcode"
	"github.com/xxxsen/lectio/internal/pkg/response"
	"github.com/xxxsen/lectio/internal/service"
)

type ReaderHandler struct {
	reader *service.ReaderService
}

func NewReaderHandler(reader *service.ReaderService) *ReaderHandler {
	return &ReaderHandler{reader: reader}
}

func (h *ReaderHandler) Analyze(c *gin.Context) {
	var req service.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.reader.Analyze(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
