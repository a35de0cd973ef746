package model

import "strings"

// ConflictMarker is the combined-range value used when tool and material
// evidence disagree.
const ConflictMarker = "conflicted"

// Relevance labels returned by an evaluator.
const (
	JudgeRelevant    = "relevant"
	JudgeNotRelevant = "not relevant"
)

// RelevanceVerdict is one evaluator's judgement of one chunk.
type RelevanceVerdict struct {
	Judge   string `json:"judge"`
	Thought string `json:"thought"`
}

// Relevant reports whether the verdict accepts the chunk.
func (v RelevanceVerdict) Relevant() bool {
	return strings.EqualFold(strings.TrimSpace(v.Judge), JudgeRelevant)
}

// FactorCheck is the completeness check of a sub-query.
type FactorCheck struct {
	Judge                string `json:"judge"`
	Tool                 string `json:"tool"`
	Metal                string `json:"metal"`
	Operation            string `json:"operation"`
	QuestionedParameters string `json:"questioned_parameters"`
}

// Complete reports whether the check passed and the required factors are present.
func (f FactorCheck) Complete() bool {
	return strings.EqualFold(strings.TrimSpace(f.Judge), "yes") &&
		Present(f.Tool) && Present(f.Metal) && Present(f.Operation)
}

// Present reports whether a model-extracted field carries a value rather than
// one of the absent sentinels.
func Present(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null", "unknown", "n/a":
		return false
	}
	return true
}

// RecommendationAnswer is the synthesized result for one parameter. It is not
// modified after construction.
type RecommendationAnswer struct {
	QuestionedParameter string `json:"questioned_parameter"`
	ToolRange           string `json:"tool_range"`
	MetalRange          string `json:"metal_range"`
	CombinedRange       string `json:"combined_range"`
	Thoughts            string `json:"thoughts"`
	Conflicted          bool   `json:"conflicted"`
}
