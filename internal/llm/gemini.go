package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/resilience"
)

// ContentGenerator is the subset of *genai.Models used by Gemini.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini is a Completer backed by the Google Gemini API.
type Gemini struct {
	models    ContentGenerator
	model     string
	maxTokens int64
}

// NewGeminiClient opens a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: create gemini client")
	}
	return client, nil
}

// NewGemini creates a Gemini completer for one model. Pass client.Models.
func NewGemini(models ContentGenerator, modelID string, maxTokens int64) *Gemini {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Gemini{models: models, model: modelID, maxTokens: maxTokens}
}

// Name implements Completer.
func (g *Gemini) Name() string { return "gemini/" + g.model }

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(req.User), cfg)
	if err != nil {
		var apiErr genai.APIError
		switch {
		case errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code):
			err = resilience.NewTransientError(err, apiErr.Code)
		case resilience.IsTransient(err):
			err = resilience.NewTransientError(err, 0)
		}
		return nil, eris.Wrapf(err, "llm: %s", g.Name())
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, eris.Wrapf(ErrInvalidResponse, "llm: %s returned no candidates", g.Name())
	}

	usage := model.Usage{Calls: 1}
	if md := resp.UsageMetadata; md != nil {
		usage.InputTokens = int64(md.PromptTokenCount)
		usage.OutputTokens = int64(md.CandidatesTokenCount)
	}
	zap.L().Info("cost attribution",
		zap.String("model", g.model),
		zap.String("phase", req.Phase),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
	)

	return &Response{Text: resp.Text(), Model: g.model, Usage: usage}, nil
}
