package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cutting-params/internal/chunk"
	"github.com/sells-group/cutting-params/internal/embed"
	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/retrieve"
	"github.com/sells-group/cutting-params/internal/tables"
)

// embedBatch bounds the number of chunks sent in one embeddings call.
const embedBatch = 64

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the tool-document index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build <doc.md>",
	Short: "Summarize tables, chunk and embed a markdown document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("index"); err != nil {
			return err
		}

		docPath := args[0]
		data, err := os.ReadFile(docPath)
		if err != nil {
			return eris.Wrap(err, "index build: read document")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		prov, err := newProviders(ctx)
		if err != nil {
			return err
		}
		summarizer, err := prov.completer("anthropic", cfg.Anthropic.FastModel)
		if err != nil {
			return err
		}
		embedder, err := prov.embedder()
		if err != nil {
			return err
		}
		tok, err := chunk.NewTiktoken(cfg.Chunker.Encoding)
		if err != nil {
			return err
		}

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		recordsPath, _ := cmd.Flags().GetString("records")
		if recordsPath == "" {
			recordsPath = cfg.Retrieval.TableRecords
		}
		collection, _ := cmd.Flags().GetString("collection")
		if collection == "" {
			collection = retrieve.CollectionName(docPath)
		}

		ix := &indexer{
			pre:      tables.NewPreprocessor(summarizer, concurrency),
			chunker:  chunk.New(tok, cfg.Chunker.MaxTokens),
			embedder: embedder,
			store:    st,
		}
		stats, err := ix.build(ctx, collection, string(data))
		if err != nil {
			return err
		}
		if err := tables.SaveRecords(recordsPath, stats.Records); err != nil {
			return err
		}

		fmt.Printf("Indexed %s into %q: %d chunks, %d tables (records: %s)\n",
			docPath, collection, stats.Chunks, len(stats.Records), recordsPath)
		return nil
	},
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed collections",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cols, err := st.ListCollections(ctx)
		if err != nil {
			return eris.Wrap(err, "index list")
		}
		if len(cols) == 0 {
			fmt.Fprintln(os.Stderr, "No collections indexed.")
			return nil
		}
		for _, c := range cols {
			fmt.Printf("%s\t%d chunks\t%d dims\n", c.Name, c.Chunks, c.Dimensions)
		}
		return nil
	},
}

func init() {
	indexBuildCmd.Flags().Int("concurrency", 4, "parallel table summaries")
	indexBuildCmd.Flags().String("records", "", "table records output path (default from config)")
	indexBuildCmd.Flags().String("collection", "", "collection name (default rag-<doc name>)")

	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexListCmd)
	rootCmd.AddCommand(indexCmd)
}

type collectionWriter interface {
	ReplaceCollection(ctx context.Context, collection string, chunks []model.DocumentChunk) error
}

// indexer turns a markdown document into an embedded collection.
type indexer struct {
	pre      *tables.Preprocessor
	chunker  *chunk.Chunker
	embedder embed.Embedder
	store    collectionWriter
}

type indexStats struct {
	Chunks  int
	Records []model.TableRecord
}

func (ix *indexer) build(ctx context.Context, collection, doc string) (*indexStats, error) {
	processed, records, err := ix.pre.Preprocess(ctx, doc)
	if err != nil {
		return nil, eris.Wrap(err, "index build: preprocess")
	}

	chunks := ix.chunker.Chunk(collection, processed)
	kept := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) != "" {
			kept = append(kept, c)
		}
	}
	chunks = kept
	for i := range chunks {
		chunks[i].Ordinal = i
	}
	if len(chunks) == 0 {
		return nil, eris.New("index build: document produced no chunks")
	}

	for start := 0; start < len(chunks); start += embedBatch {
		end := min(start+embedBatch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, eris.Wrapf(err, "index build: embed chunks %d-%d", start, end-1)
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
		}
	}

	if err := ix.store.ReplaceCollection(ctx, collection, chunks); err != nil {
		return nil, eris.Wrap(err, "index build: store collection")
	}
	zap.L().Info("index built",
		zap.String("collection", collection),
		zap.String("embedder", ix.embedder.Name()),
		zap.Int("chunks", len(chunks)),
		zap.Int("tables", len(records)),
	)
	return &indexStats{Chunks: len(chunks), Records: records}, nil
}
