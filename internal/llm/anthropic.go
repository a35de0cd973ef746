package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/resilience"
	"github.com/sells-group/cutting-params/pkg/anthropic"
)

const defaultMaxTokens int64 = 2048

// Anthropic is a Completer backed by the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic completer for one model.
func NewAnthropic(client anthropic.Client, modelID string, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{client: client, model: modelID, maxTokens: maxTokens}
}

// Name implements Completer.
func (a *Anthropic) Name() string { return "anthropic/" + a.model }

// Complete implements Completer. Calls run at temperature 0.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	system := anthropic.BuildSystemBlocks(req.System)
	if req.CacheSystem {
		system = anthropic.BuildCachedSystemBlocks(req.System)
	}

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: &temp,
	})
	if err != nil {
		if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
			err = resilience.NewTransientError(err, status)
		}
		return nil, eris.Wrapf(err, "llm: %s", a.Name())
	}

	resp.Usage.LogCost(a.model, req.Phase)

	return &Response{
		Text:  resp.Text(),
		Model: a.model,
		Usage: model.Usage{
			Calls:        1,
			InputTokens:  resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CostUSD:      resp.Usage.EstimateCost(a.model),
		},
	}, nil
}
