// Package tables lifts HTML tables out of a reference document, replacing
// each with a marker and a short model-written summary, and keeps the
// original tables as records for reinflation at query time.
package tables

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/model"
)

var (
	tablePattern       = regexp.MustCompile(`(?is)<table.*?</table>`)
	markdownImgPattern = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	htmlImgPattern     = regexp.MustCompile(`(?i)<img.*?>`)
)

const summarySystem = `You are an expert in manufacturing. Summarize the table below concisely in one or two sentences.
Do not repeat exact values. Mention which tools, materials, operations and parameters the table covers.`

// RemoveImages strips markdown and HTML image references.
func RemoveImages(doc string) string {
	doc = markdownImgPattern.ReplaceAllString(doc, "")
	return htmlImgPattern.ReplaceAllString(doc, "")
}

// Preprocessor replaces tables with summarized markers.
type Preprocessor struct {
	summarizer  llm.Completer
	concurrency int
}

// NewPreprocessor returns a Preprocessor that summarizes up to concurrency
// tables at a time.
func NewPreprocessor(summarizer llm.Completer, concurrency int) *Preprocessor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Preprocessor{summarizer: summarizer, concurrency: concurrency}
}

// Preprocess removes images, then replaces the i-th table in document order
// with "__TABLE<i>__:<summary>". It returns the rewritten document and one
// record per table.
func (p *Preprocessor) Preprocess(ctx context.Context, doc string) (string, []model.TableRecord, error) {
	doc = RemoveImages(doc)
	locs := tablePattern.FindAllStringIndex(doc, -1)
	if len(locs) == 0 {
		return doc, nil, nil
	}

	records := make([]model.TableRecord, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, loc := range locs {
		original := doc[loc[0]:loc[1]]
		g.Go(func() error {
			summary, err := p.summarize(gctx, original)
			if err != nil {
				return eris.Wrapf(err, "tables: summarize table %d", i)
			}
			records[i] = model.TableRecord{TableID: i, Summary: summary, OriginalTable: original}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	prev := 0
	for i, loc := range locs {
		b.WriteString(doc[prev:loc[0]])
		b.WriteString(model.TableMarker(i))
		b.WriteString(":")
		b.WriteString(records[i].Summary)
		prev = loc[1]
	}
	b.WriteString(doc[prev:])

	zap.L().Info("tables: preprocessed document", zap.Int("tables", len(records)))
	return b.String(), records, nil
}

func (p *Preprocessor) summarize(ctx context.Context, table string) (string, error) {
	resp, err := p.summarizer.Complete(ctx, llm.Request{
		System:      summarySystem,
		User:        table,
		MaxTokens:   256,
		CacheSystem: true,
		Phase:       "table_summary",
	})
	if err != nil {
		return "", err
	}
	// Markers are matched up to the next marker, so the summary stays on one line.
	summary := strings.Join(strings.Fields(resp.Text), " ")
	if summary == "" {
		return "", eris.Wrap(llm.ErrInvalidResponse, "tables: empty summary")
	}
	return summary, nil
}
