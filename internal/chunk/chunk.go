// Package chunk splits reference documents into bounded token windows
// without ever cutting a table marker away from its summary.
package chunk

import (
	"regexp"
	"unicode/utf8"

	"github.com/sells-group/cutting-params/internal/model"
)

// DefaultMaxTokens bounds non-table units.
const DefaultMaxTokens = 1000

// markerStart matches a table marker together with its trailing colon and
// whitespace, the point where a table unit begins.
var markerStart = regexp.MustCompile(`__TABLE\d+__[:\s]*`)

// unit is a phase-one split of the document.
type unit struct {
	text  string
	table bool
}

// Split chunks text in two phases. Each table marker is glued to the text that
// follows it up to the next marker and the resulting unit is never split.
// Remaining text is cut into consecutive windows of at most maxTokens tokens.
// Concatenating the result reproduces text.
func Split(tok Tokenizer, text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var out []string
	for _, u := range units(text) {
		if u.table {
			out = append(out, u.text)
			continue
		}
		out = append(out, window(tok, u.text, maxTokens)...)
	}
	return out
}

func units(text string) []unit {
	locs := markerStart.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if text == "" {
			return nil
		}
		return []unit{{text: text}}
	}

	var us []unit
	if lead := text[:locs[0][0]]; lead != "" {
		us = append(us, unit{text: lead})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		us = append(us, unit{text: text[loc[0]:end], table: true})
	}
	return us
}

// window splits text into pieces of at most maxTokens tokens. A window edge
// that would split a multi-byte character is pulled back to the previous token
// boundary that yields valid UTF-8.
func window(tok Tokenizer, text string, maxTokens int) []string {
	tokens := tok.Encode(text)
	if len(tokens) <= maxTokens {
		return []string{text}
	}

	var out []string
	for start := 0; start < len(tokens); {
		end := min(start+maxTokens, len(tokens))
		piece := tok.Decode(tokens[start:end])
		for e := end - 1; e > start && !utf8.ValidString(piece); e-- {
			if p := tok.Decode(tokens[start:e]); utf8.ValidString(p) {
				piece, end = p, e
				break
			}
		}
		if piece != "" {
			out = append(out, piece)
		}
		start = end
	}
	return out
}

// Chunker binds a tokenizer and token bound for building an index collection.
type Chunker struct {
	tok       Tokenizer
	maxTokens int
}

// New creates a Chunker.
func New(tok Tokenizer, maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{tok: tok, maxTokens: maxTokens}
}

// Chunk splits text into ordered DocumentChunks for collection, tagging each
// with the table ids it carries.
func (c *Chunker) Chunk(collection, text string) []model.DocumentChunk {
	parts := Split(c.tok, text, c.maxTokens)
	chunks := make([]model.DocumentChunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, model.DocumentChunk{
			Collection: collection,
			Ordinal:    i,
			Text:       p,
			TableIDs:   model.TableIDs(p),
		})
	}
	return chunks
}

// TokenCount reports the token length of text under the chunker's tokenizer.
func (c *Chunker) TokenCount(text string) int {
	return len(c.tok.Encode(text))
}
