package model

import (
	"fmt"
	"regexp"
	"strconv"
)

// TableMarkerPattern matches a table marker token and captures its id.
var TableMarkerPattern = regexp.MustCompile(`__TABLE(\d+)__`)

// TableMarker returns the marker token for a table id.
func TableMarker(id int) string {
	return fmt.Sprintf("__TABLE%d__", id)
}

// TableIDs returns the ids of every marker in text, in order of appearance.
func TableIDs(text string) []int {
	matches := TableMarkerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// TableRecord holds a table lifted out of a source document.
type TableRecord struct {
	TableID       int    `json:"table_id"`
	Summary       string `json:"summary"`
	OriginalTable string `json:"original_table"`
}

// DocumentChunk is one retrievable unit of an indexed document.
type DocumentChunk struct {
	Collection string    `json:"collection"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	TableIDs   []int     `json:"table_ids,omitempty"`
	Embedding  []float32 `json:"-"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	DocumentChunk
	Score float64 `json:"score"`
}
