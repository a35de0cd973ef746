// Package resolve maps free-text material mentions onto the canonical
// material table by fuzzy string similarity.
package resolve

import (
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"

	"github.com/sells-group/cutting-params/internal/model"
)

// DefaultThreshold is the minimum score, on a 0-100 scale, for a match.
const DefaultThreshold = 80.0

// Match is the outcome of a resolution. When Matched is false every other
// field is zero.
type Match struct {
	CanonicalID  string  `json:"canonical_id,omitempty"`
	DocPath      string  `json:"doc_path,omitempty"`
	MatchedAlias string  `json:"matched_alias,omitempty"`
	Score        float64 `json:"score"`
	Matched      bool    `json:"matched"`
}

// indel weights: substitution costs one deletion plus one insertion, which
// makes Similarity the normalized indel ratio.
var indel = levenshtein.NewParams().InsCost(1).DelCost(1).SubCost(2)

// Score returns the case-insensitive, whitespace-trimmed similarity of a and
// b in [0, 100].
func Score(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == "" && b == "" {
		return 100
	}
	return levenshtein.Similarity(a, b, indel) * 100
}

func normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Resolver scans an alias table in entry order. It holds no mutable state
// and is safe for concurrent use.
type Resolver struct {
	table     *model.AliasTable
	threshold float64
}

// New creates a Resolver. A non-positive threshold falls back to DefaultThreshold.
func New(table *model.AliasTable, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if table == nil {
		table = &model.AliasTable{}
	}
	return &Resolver{table: table, threshold: threshold}
}

// Threshold returns the configured acceptance threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve resolves query with the configured threshold.
func (r *Resolver) Resolve(query string) Match {
	return r.ResolveAt(query, r.threshold)
}

// ResolveAt scores query against every canonical id and alias and returns the
// best candidate if it reaches threshold. Ties go to the first candidate seen:
// entries in table order, and within an entry the id before its aliases.
func (r *Resolver) ResolveAt(query string, threshold float64) Match {
	if normalize(query) == "" {
		return Match{}
	}

	var (
		best      float64
		bestEntry *model.AliasEntry
		bestName  string
	)
	for i := range r.table.Entries {
		e := &r.table.Entries[i]
		if s := Score(query, e.CanonicalID); s > best {
			best, bestEntry, bestName = s, e, e.CanonicalID
		}
		for _, alias := range e.Aliases {
			if s := Score(query, alias); s > best {
				best, bestEntry, bestName = s, e, alias
			}
		}
	}

	if bestEntry == nil || best < threshold {
		return Match{}
	}
	return Match{
		CanonicalID:  bestEntry.CanonicalID,
		DocPath:      bestEntry.DocPath,
		MatchedAlias: bestName,
		Score:        best,
		Matched:      true,
	}
}
