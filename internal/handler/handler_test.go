package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/lectio/internal/handler"
	"github.com/xxxsen/lectio/internal/index"
	"github.com/xxxsen/lectio/internal/middleware"
	"github.com/xxxsen/lectio/internal/morph"
	"github.com/xxxsen/lectio/internal/pkg/errcode"
	"github.com/xxxsen/lectio/internal/retrieval"
	"github.com/xxxsen/lectio/internal/service"
	"github.com/xxxsen/lectio/internal/store"
	"github.com/xxxsen/lectio/internal/testutil"
)

const testDim = 16

type envelope struct {
	Code errcode.Code    `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := testutil.NewCorpus(t, testDim)
	orch := retrieval.New(retrieval.DefaultConfig(), st,
		index.NewLexical(st, index.LexicalConfig{}), index.NewSemantic(st, testDim),
		retrieval.WithEmbedder(testutil.NewEmbedder(testDim)))
	analyzer := morph.NewAnalyzer(morph.NewStoreLookup(st), morph.NewSuffixLemmatizer(st, nil, nil))
	reader := service.NewReaderService(service.ReaderConfig{}, st, analyzer, orch, nil)

	deps := handler.RouterDeps{
		Reader:   handler.NewReaderHandler(reader),
		Retrieve: handler.NewRetrieveHandler(orch),
		Corpus:   handler.NewCorpusHandler(st),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return env
}

func TestAnalyzeEndpoint(t *testing.T) {
	router := setupRouter(t)
	env := do(t, router, http.MethodPost, "/api/v1/reader/analyze", map[string]interface{}{
		"text":            "Μῆνιν ἄειδε",
		"language_code":   "grc",
		"include_lexicon": true,
		"include_grammar": true,
	})
	require.Zero(t, env.Code)

	var result service.AnalyzeResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Len(t, result.Tokens, 2)
	require.Equal(t, "μῆνις", result.Tokens[0].Lemma)
	require.Equal(t, morph.SourcePrimary, result.Tokens[0].Source)
	require.NotEmpty(t, result.Lexicon)
	require.NotEmpty(t, result.Grammar)

	var raw struct {
		Tokens []map[string]interface{} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	for _, tok := range raw.Tokens {
		require.NotContains(t, tok, "surface_fold")
		require.NotEqual(t, "μηνιν", tok["surface"])
	}
	require.NotContains(t, string(env.Data), "μηνιν")
}

func TestAnalyzeEndpoint_UnknownLanguage(t *testing.T) {
	router := setupRouter(t)
	env := do(t, router, http.MethodPost, "/api/v1/reader/analyze", map[string]interface{}{
		"text":          "Μῆνιν",
		"language_code": "xx-unknown",
	})
	require.Equal(t, errcode.ErrUnknownLanguage, env.Code)
}

func TestRetrieveEndpoint(t *testing.T) {
	router := setupRouter(t)
	env := do(t, router, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"language":         "grc",
		"text_query":       "μῆνιν ἄειδε",
		"k":                3,
		"include_passages": true,
	})
	require.Zero(t, env.Code)
	var result retrieval.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotEmpty(t, result.Hits)
	require.Equal(t, store.SegmentID(store.WorkID(testutil.SourceSlug, "grc", "Iliad"), 1), result.Hits[0].EntityID)

	env = do(t, router, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"language":   "grc",
		"text_query": "",
		"k":          5,
	})
	require.Zero(t, env.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Empty(t, result.Hits)

	env = do(t, router, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"language":        "grc",
		"embedding_query": []float32{1, 0},
		"k":               5,
	})
	require.Equal(t, errcode.ErrDimensionMismatch, env.Code)
}

func TestCorpusEndpoints(t *testing.T) {
	router := setupRouter(t)
	env := do(t, router, http.MethodGet, "/api/v1/languages", nil)
	require.Zero(t, env.Code)
	require.Contains(t, string(env.Data), `"grc"`)

	workID := store.WorkID(testutil.SourceSlug, "grc", "Iliad")
	env = do(t, router, http.MethodGet, "/api/v1/works/"+workID+"/segments?from_ref=1.2&to_ref=1.3", nil)
	require.Zero(t, env.Code)
	var page struct {
		Segments []struct {
			Ordinal int    `json:"ordinal_index"`
			Ref     string `json:"ref"`
		} `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Segments, 2)
	require.Equal(t, "1.2", page.Segments[0].Ref)
	require.Equal(t, 3, page.Segments[1].Ordinal)

	env = do(t, router, http.MethodGet, "/api/v1/works/missing/segments", nil)
	require.Equal(t, errcode.ErrNotFound, env.Code)

	env = do(t, router, http.MethodGet, "/api/v1/works/"+workID+"/segments?from=x", nil)
	require.Equal(t, errcode.ErrInvalid, env.Code)
}
