// Package jina provides a client for the Jina AI search and embeddings APIs.
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/resilience"
)

const (
	defaultSearchBaseURL = "https://s.jina.ai"
	defaultAPIBaseURL    = "https://api.jina.ai/v1"
	defaultEmbedModel    = "jina-embeddings-v3"
)

// Client defines the Jina AI operations used by the advisor.
type Client interface {
	// Search performs a web search via Jina AI Search and returns results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)
}

// SearchResponse is the parsed Jina Search API response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// EmbedRequest is the request body for POST /embeddings.
type EmbedRequest struct {
	Model string   `json:"model"`
	Task  string   `json:"task,omitempty"`
	Input []string `json:"input"`
}

// EmbedResponse is the response from POST /embeddings.
type EmbedResponse struct {
	Data  []EmbeddingData `json:"data"`
	Usage EmbedUsage      `json:"usage"`
}

// EmbeddingData holds a single embedding and the index of its input.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbedUsage tracks token consumption for an embeddings call.
type EmbedUsage struct {
	TotalTokens int `json:"total_tokens"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	siteFilter string
}

// WithSiteFilter restricts search results to a specific domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) {
		o.siteFilter = domain
	}
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithSearchBaseURL sets a custom search base URL (for testing).
func WithSearchBaseURL(url string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = url
	}
}

// WithAPIBaseURL sets a custom embeddings API base URL (for testing).
func WithAPIBaseURL(url string) Option {
	return func(c *httpClient) {
		c.apiBaseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey        string
	searchBaseURL string
	apiBaseURL    string
	http          *http.Client
}

// NewClient creates a new Jina AI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		searchBaseURL: defaultSearchBaseURL,
		apiBaseURL:    defaultAPIBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do executes a single request. Callers own retry policy; none is applied here.
func (c *httpClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "jina: read response body")
	}
	return body, resp.StatusCode, nil
}

// statusError reports a non-200 reply, marking 429 and 5xx as transient.
func statusError(op string, statusCode int, body []byte) error {
	err := eris.Errorf("jina: %s unexpected status %d: %s", op, statusCode, string(body))
	if resilience.IsTransientHTTPStatus(statusCode) {
		return resilience.NewTransientError(err, statusCode)
	}
	return err
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	reqURL := fmt.Sprintf("%s/%s", c.searchBaseURL, url.QueryEscape(query))

	if so.siteFilter != "" {
		reqURL += "?site=" + url.QueryEscape(so.siteFilter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search request failed")
	}

	// Jina returns 422 when no results are available for the query.
	// Treat this as empty results rather than an error.
	if statusCode == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: 422}, nil
	}

	if statusCode != http.StatusOK {
		return nil, statusError("search", statusCode, body)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}

	return &result, nil
}

func (c *httpClient) Embed(ctx context.Context, er EmbedRequest) (*EmbedResponse, error) {
	if er.Model == "" {
		er.Model = defaultEmbedModel
	}
	if len(er.Input) == 0 {
		return &EmbedResponse{}, nil
	}

	payload, err := json.Marshal(er)
	if err != nil {
		return nil, eris.Wrap(err, "jina: marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "jina: create embed request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: embed request failed")
	}
	if statusCode != http.StatusOK {
		return nil, statusError("embed", statusCode, body)
	}

	var result EmbedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal embed response")
	}
	if len(result.Data) != len(er.Input) {
		return nil, eris.Errorf("jina: embed returned %d vectors for %d inputs", len(result.Data), len(er.Input))
	}

	return &result, nil
}
