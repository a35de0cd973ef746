// Package embed turns query and chunk text into vectors for similarity search.
package embed

import (
	"context"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/cutting-params/pkg/jina"
)

// Embedder produces vectors. Queries and documents may be embedded
// differently by providers with asymmetric retrieval models.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// ContentEmbedder is the subset of *genai.Models used by Gemini.
type ContentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Gemini embeds with the Gemini embeddings API.
type Gemini struct {
	models ContentEmbedder
	model  string
}

// NewGemini creates a Gemini embedder. Pass client.Models.
func NewGemini(models ContentEmbedder, model string) *Gemini {
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &Gemini{models: models, model: model}
}

// Name implements Embedder.
func (g *Gemini) Name() string { return "gemini/" + g.model }

// EmbedQuery implements Embedder.
func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments implements Embedder.
func (g *Gemini) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return g.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

func (g *Gemini) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	res, err := g.models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		return nil, eris.Wrap(err, "embed: gemini")
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, eris.Errorf("embed: gemini returned %d embeddings for %d inputs", got, len(texts))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Jina embeds with the Jina embeddings API.
type Jina struct {
	client jina.Client
	model  string
}

// NewJina creates a Jina embedder.
func NewJina(client jina.Client, model string) *Jina {
	return &Jina{client: client, model: model}
}

// Name implements Embedder.
func (j *Jina) Name() string { return "jina/" + j.model }

// EmbedQuery implements Embedder.
func (j *Jina) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := j.embed(ctx, []string{text}, "retrieval.query")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments implements Embedder.
func (j *Jina) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return j.embed(ctx, texts, "retrieval.passage")
}

func (j *Jina) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	resp, err := j.client.Embed(ctx, jina.EmbedRequest{Model: j.model, Task: task, Input: texts})
	if err != nil {
		return nil, eris.Wrap(err, "embed: jina")
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, eris.Errorf("embed: jina returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, eris.Errorf("embed: jina returned no embedding for input %d", i)
		}
	}
	return out, nil
}
