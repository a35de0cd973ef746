package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cutting-params/internal/chunk"
	"github.com/sells-group/cutting-params/internal/llm/mocks"
	"github.com/sells-group/cutting-params/internal/store"
	"github.com/sells-group/cutting-params/internal/tables"
)

type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	rs := make([]rune, len(tokens))
	for i, t := range tokens {
		rs[i] = rune(t)
	}
	return string(rs)
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text))}, f.err
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t))}
	}
	return out, nil
}

const toolDoc = "# D10 inserts\nGeneral notes on D10.\n<table><tr><td>Vc</td><td>150-200</td></tr></table>\nApply coolant.\n"

func newTestIndexer(t *testing.T, emb *fakeEmbedder, st *store.MemoryStore) *indexer {
	summarizer := mocks.NewCompleter(t)
	summarizer.On("Complete", mock.Anything, mock.Anything).Return(mocks.Reply("D10 cutting speeds, 150-200 m/min"), nil).Maybe()
	return &indexer{
		pre:      tables.NewPreprocessor(summarizer, 2),
		chunker:  chunk.New(runeTokenizer{}, 1000),
		embedder: emb,
		store:    st,
	}
}

func TestIndexer_Build(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	emb := &fakeEmbedder{}

	stats, err := newTestIndexer(t, emb, st).build(ctx, "rag-tools", toolDoc)
	require.NoError(t, err)

	require.Len(t, stats.Records, 1)
	assert.Equal(t, 0, stats.Records[0].TableID)
	assert.Equal(t, "<table><tr><td>Vc</td><td>150-200</td></tr></table>", stats.Records[0].OriginalTable)
	assert.Equal(t, 1, emb.calls)

	cols, err := st.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "rag-tools", cols[0].Name)
	assert.Equal(t, stats.Chunks, cols[0].Chunks)

	hits, err := st.SearchChunks(ctx, "rag-tools", []float32{1, 1}, 10)
	require.NoError(t, err)
	var withTable int
	for _, h := range hits {
		assert.NotContains(t, h.Text, "<table>")
		if len(h.TableIDs) > 0 {
			withTable++
			assert.Equal(t, []int{0}, h.TableIDs)
			assert.Contains(t, h.Text, "__TABLE0__:D10 cutting speeds, 150-200 m/min")
		}
	}
	assert.Equal(t, 1, withTable)
}

func TestIndexer_BuildErrors(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		_, err := newTestIndexer(t, &fakeEmbedder{}, store.NewMemory()).build(context.Background(), "rag-empty", "  \n ")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no chunks")
	})

	t.Run("embedding fails", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		st := store.NewMemory()
		_, err := newTestIndexer(t, &fakeEmbedder{err: boom}, st).build(context.Background(), "rag-tools", toolDoc)
		require.ErrorIs(t, err, boom)

		cols, err := st.ListCollections(context.Background())
		require.NoError(t, err)
		assert.Empty(t, cols)
	})
}
