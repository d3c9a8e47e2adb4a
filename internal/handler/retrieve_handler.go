package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/lectio/internal/pkg/errcode"
	"github.com/xxxsen/lectio/internal/pkg/response"
	"github.com/xxxsen/lectio/internal/retrieval"
	"github.com/xxxsen/lectio/internal/service"
)

const maxRetrieveK = 100

type RetrieveHandler struct {
	retriever service.Retriever
}

func NewRetrieveHandler(retriever service.Retriever) *RetrieveHandler {
	return &RetrieveHandler{retriever: retriever}
}

func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req retrieval.Request
	if err := c.ShouldBindJSON(&req); err != nil || req.K > maxRetrieveK {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.retriever.Retrieve(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
