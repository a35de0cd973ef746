package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/sells-group/cutting-params/pkg/jina"
)

type fakeModels struct {
	task  string
	n     int
	model string
	err   error
	short bool
}

func (f *fakeModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model = model
	f.task = config.TaskType
	f.n = len(contents)
	if f.err != nil {
		return nil, f.err
	}
	res := &genai.EmbedContentResponse{}
	count := len(contents)
	if f.short {
		count--
	}
	for i := 0; i < count; i++ {
		res.Embeddings = append(res.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 1}})
	}
	return res, nil
}

func TestGemini_EmbedQuery(t *testing.T) {
	fm := &fakeModels{}
	g := NewGemini(fm, "")
	assert.Equal(t, "gemini/gemini-embedding-001", g.Name())

	v, err := g.EmbedQuery(context.Background(), "cutting speed D10")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
	assert.Equal(t, "RETRIEVAL_QUERY", fm.task)
	assert.Equal(t, 1, fm.n)
}

func TestGemini_EmbedDocuments(t *testing.T) {
	fm := &fakeModels{}
	g := NewGemini(fm, "text-embedding-004")

	vs, err := g.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, []float32{2, 1}, vs[2])
	assert.Equal(t, "RETRIEVAL_DOCUMENT", fm.task)
	assert.Equal(t, "text-embedding-004", fm.model)

	vs, err = g.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vs)
}

func TestGemini_Errors(t *testing.T) {
	g := NewGemini(&fakeModels{err: errors.New("quota")}, "")
	_, err := g.EmbedQuery(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed: gemini")

	g = NewGemini(&fakeModels{short: true}, "")
	_, err = g.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 inputs")
}

func TestJina_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jina.EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := jina.EmbedResponse{}
		// Return out of order to check index placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, jina.EmbeddingData{Index: i, Embedding: []float32{float32(i)}})
		}
		if req.Task == "retrieval.query" {
			resp.Data[0].Embedding = []float32{42}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	j := NewJina(jina.NewClient("k", jina.WithAPIBaseURL(srv.URL)), "jina-embeddings-v3")
	assert.Equal(t, "jina/jina-embeddings-v3", j.Name())

	vs, err := j.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}, {2}}, vs)

	v, err := j.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{42}, v)
}

func TestJina_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	j := NewJina(jina.NewClient("k", jina.WithAPIBaseURL(srv.URL)), "")
	_, err := j.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed: jina")
}

func TestJina_MissingEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jina.EmbedResponse{Data: []jina.EmbeddingData{{Index: 1, Embedding: []float32{1}}}})
	}))
	defer srv.Close()

	j := NewJina(jina.NewClient("k", jina.WithAPIBaseURL(srv.URL)), "")
	_, err := j.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding for input 0")
}
