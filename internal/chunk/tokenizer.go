package chunk

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rotisserie/eris"
)

// Tokenizer is a reversible tokenization: Decode(Encode(s)) == s.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Tiktoken adapts a tiktoken BPE encoding to Tokenizer.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (e.g. "cl100k_base"). The BPE ranks
// are fetched and cached on first use unless an offline loader is installed.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: load encoding %s", encoding)
	}
	return &Tiktoken{enc: enc}, nil
}

// Encode tokenizes text, treating special-token text as ordinary text.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode reverses Encode.
func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
