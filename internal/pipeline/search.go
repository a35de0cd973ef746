package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/pkg/jina"
	"github.com/sells-group/cutting-params/pkg/perplexity"
)

const searchSummarySystem = `You are an expert in manufacturing and a helpful assistant that answers questions from the provided search results.
Summarize the search results and give a brief, concise answer to the original question.`

// Searcher answers a sub-query from the web.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
	Name() string
}

// JinaSearcher searches with Jina and summarizes the hits with a model.
type JinaSearcher struct {
	client     jina.Client
	summarizer llm.Completer
	maxResults int
}

// NewJinaSearcher creates a JinaSearcher using at most maxResults hits.
func NewJinaSearcher(client jina.Client, summarizer llm.Completer, maxResults int) *JinaSearcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &JinaSearcher{client: client, summarizer: summarizer, maxResults: maxResults}
}

// Name implements Searcher.
func (s *JinaSearcher) Name() string { return "jina" }

// Search implements Searcher.
func (s *JinaSearcher) Search(ctx context.Context, query string) (string, error) {
	resp, err := s.client.Search(ctx, query)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: web search")
	}
	if resp == nil || len(resp.Data) == 0 {
		return "", eris.Errorf("pipeline: web search returned no results for %q", query)
	}

	results := resp.Data
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}

	answer, err := s.summarizer.Complete(ctx, llm.Request{
		System:      searchSummarySystem,
		User:        fmt.Sprintf("Question: %s\n\n%s\n\nBased on the search results above, please answer the original question.", query, formatSearchResults(query, results)),
		MaxTokens:   1024,
		CacheSystem: true,
		Phase:       "search_summary",
	})
	if err != nil {
		return "", eris.Wrap(err, "pipeline: summarize search results")
	}
	text := strings.TrimSpace(answer.Text)
	if text == "" {
		return "", eris.Wrap(llm.ErrInvalidResponse, "pipeline: empty search summary")
	}
	return text, nil
}

func formatSearchResults(query string, results []jina.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\nHere are the search results summary:\n\n", query)
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		link := r.URL
		if link == "" {
			link = "No link"
		}
		content := r.Content
		if content == "" {
			content = r.Description
		}
		if content == "" {
			content = "No content"
		}
		fmt.Fprintf(&b, "%d. %s\n   Link: %s\n   Content summary: %s...\n\n", i+1, title, link, truncateRunes(content, 200))
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// PerplexitySearcher answers with Perplexity's online models.
type PerplexitySearcher struct {
	client perplexity.Client
}

// NewPerplexitySearcher creates a PerplexitySearcher.
func NewPerplexitySearcher(client perplexity.Client) *PerplexitySearcher {
	return &PerplexitySearcher{client: client}
}

// Name implements Searcher.
func (s *PerplexitySearcher) Name() string { return "perplexity" }

// Search implements Searcher. Citations are appended as a source list.
func (s *PerplexitySearcher) Search(ctx context.Context, query string) (string, error) {
	ans, err := s.client.Ask(ctx, searchSummarySystem, query)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: perplexity search")
	}
	if len(ans.Citations) == 0 {
		return ans.Text, nil
	}
	var b strings.Builder
	b.WriteString(ans.Text)
	b.WriteString("\n\nSources:")
	for _, c := range ans.Citations {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String(), nil
}
