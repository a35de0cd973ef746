package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Validator is implemented by contract types that check their own required
// fields after decoding.
type Validator interface {
	Validate() error
}

// CleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// DecodeJSON parses a model reply into T and validates it. Any failure is
// reported as ErrInvalidResponse.
func DecodeJSON[T any](text string) (T, error) {
	var v T
	cleaned := CleanJSON(text)
	if cleaned == "" {
		return v, eris.Wrap(ErrInvalidResponse, "llm: empty reply")
	}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return v, eris.Wrapf(ErrInvalidResponse, "llm: decode reply: %v", err)
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, eris.Wrapf(ErrInvalidResponse, "llm: validate reply: %v", err)
		}
	}
	return v, nil
}

// CompleteJSON runs req on c and decodes the reply into T.
func CompleteJSON[T any](ctx context.Context, c Completer, req Request) (T, error) {
	req.JSON = true
	resp, err := c.Complete(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := DecodeJSON[T](resp.Text)
	if err != nil {
		return v, eris.Wrapf(err, "%s", c.Name())
	}
	return v, nil
}
