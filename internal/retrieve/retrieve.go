// Package retrieve finds the tool-document chunks most similar to a query
// and reattaches the original tables their markers refer to.
package retrieve

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cutting-params/internal/embed"
	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/resilience"
	"github.com/sells-group/cutting-params/internal/store"
)

// DefaultTopK is the number of chunks retrieved when none is configured.
const DefaultTopK = 5

// TableLookup resolves a table id to its record.
type TableLookup interface {
	Lookup(id int) (model.TableRecord, bool)
}

// CollectionName derives the index collection for a source document:
// "rag-" plus the base name without extension.
func CollectionName(docPath string) string {
	base := filepath.Base(docPath)
	return "rag-" + strings.TrimSuffix(base, filepath.Ext(base))
}

// Retriever embeds queries, searches one collection and reinflates tables.
type Retriever struct {
	embedder   embed.Embedder
	index      store.ChunkSearcher
	tables     TableLookup
	collection string
	topK       int
	timeout    resilience.Timeout
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the number of chunks retrieved.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithTimeout bounds the embedding call.
func WithTimeout(t resilience.Timeout) Option {
	return func(r *Retriever) { r.timeout = t }
}

// New creates a Retriever over collection.
func New(embedder embed.Embedder, index store.ChunkSearcher, tables TableLookup, collection string, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:   embedder,
		index:      index,
		tables:     tables,
		collection: collection,
		topK:       DefaultTopK,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Collection returns the searched collection.
func (r *Retriever) Collection() string { return r.collection }

// Retrieve returns up to topK reference texts, most similar first. A chunk
// carrying table markers is followed by the original tables, joined with
// single spaces. Markers without a record are skipped.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	vec, err := resilience.Call(ctx, r.timeout, func(ctx context.Context) ([]float32, error) {
		return r.embedder.EmbedQuery(ctx, query)
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: embed query")
	}
	if len(vec) == 0 {
		return nil, eris.Errorf("retrieve: embedder %s returned an empty query vector", r.embedder.Name())
	}

	hits, err := r.index.SearchChunks(ctx, r.collection, vec, r.topK)
	if err != nil {
		return nil, eris.Wrapf(err, "retrieve: search %s", r.collection)
	}

	refs := make([]string, 0, len(hits))
	for _, h := range hits {
		refs = append(refs, r.reinflate(h))
	}
	zap.L().Debug("retrieve: chunks retrieved",
		zap.String("collection", r.collection),
		zap.Int("hits", len(hits)),
	)
	return refs, nil
}

func (r *Retriever) reinflate(h model.ScoredChunk) string {
	ids := h.TableIDs
	if len(ids) == 0 {
		ids = model.TableIDs(h.Text)
	}
	if len(ids) == 0 {
		return h.Text
	}

	parts := []string{h.Text}
	for _, id := range ids {
		var rec model.TableRecord
		ok := false
		if r.tables != nil {
			rec, ok = r.tables.Lookup(id)
		}
		if !ok || rec.OriginalTable == "" {
			zap.L().Warn("retrieve: table record missing",
				zap.String("collection", r.collection),
				zap.Int("ordinal", h.Ordinal),
				zap.Int("table_id", id),
			)
			continue
		}
		parts = append(parts, rec.OriginalTable)
	}
	return strings.Join(parts, " ")
}
