package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiTimeout = 30 * time.Second

type geminiConfig struct {
	APIKey         string `json:"api_key"`
	Dimensions     int32  `json:"dimensions"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// geminiEmbedProvider creates its client lazily so a missing key only fails
// calls, not startup.
type geminiEmbedProvider struct {
	cfg     geminiConfig
	timeout time.Duration

	once      sync.Once
	client    *genai.Client
	clientErr error
}

func (p *geminiEmbedProvider) Name() string {
	return "gemini"
}

func (p *geminiEmbedProvider) models(ctx context.Context) (*genai.Models, error) {
	p.once.Do(func() {
		p.client, p.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if p.clientErr != nil {
		return nil, fmt.Errorf("gemini client: %w", p.clientErr)
	}
	return p.client.Models, nil
}

func (p *geminiEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.cfg.APIKey == "" {
		return nil, ErrUnavailable
	}
	models, err := p.models(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := &genai.EmbedContentConfig{TaskType: taskType}
	if p.cfg.Dimensions > 0 {
		dims := p.cfg.Dimensions
		req.OutputDimensionality = &dims
	}
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	resp, err := models.EmbedContent(ctx, model, contents, req)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embed: response has no embedding")
	}
	return resp.Embeddings[0].Values, nil
}

func createGeminiEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := geminiConfig{}
	if err := decodeConfig(args, &cfg); err != nil {
		return nil, err
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	timeout := defaultGeminiTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &geminiEmbedProvider{cfg: cfg, timeout: timeout}, nil
}

func init() {
	RegisterEmbed("gemini", createGeminiEmbedFactory)
}
