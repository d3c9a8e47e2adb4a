package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/lectio/internal/middleware"
)

type RouterDeps struct {
	Reader    *ReaderHandler
	Retrieve  *RetrieveHandler
	Corpus    *CorpusHandler
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimit))
	limited.POST("/reader/analyze", deps.Reader.Analyze)
	limited.POST("/retrieve", deps.Retrieve.Retrieve)

	api.GET("/languages", deps.Corpus.Languages)
	api.GET("/works/:id/segments", deps.Corpus.Segments)
}
