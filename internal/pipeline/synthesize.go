package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/relevance"
	"github.com/sells-group/cutting-params/internal/resolve"
	"github.com/sells-group/cutting-params/internal/store"
)

// IncompleteQueryMessage is returned when a sub-query lacks a tool, a
// material or an operation.
const IncompleteQueryMessage = "Please provide a complete query with operation, metal and tool information."

const factorCheckSystem = `You're an expert in manufacturing and metallurgy. Check whether the query contains all necessary elements and extract the metal exactly.

Required elements:
1. Operation (e.g. milling, turning, drilling, machining)
2. Metal/material (e.g. 1.4125 steel, 1.4425, CCR-1150, TI-64, BT-30)
3. Tool (e.g. HM Carbide, D10, D20, D60, Cermet, PKD/PCD)
4. Questioned parameters (e.g. cutting speed, feed rate)

Metal extraction rules:
1. Extract specific metal codes (CCR-1150, TI-64) exactly.
2. For generic metals (titanium alloy, stainless steel) use domain knowledge.
3. When both a code and a generic name are present, prefer the code.
4. Tool names such as HM Carbide, D10, D20, D60, Cermet, PKD/PCD are never metals.
5. If no metal is found, use "UNKNOWN".

Set judge to "yes" only if ALL elements are present, otherwise "no". Use "None" for a missing element.
Respond with JSON only:
{"judge": "yes", "tool": "D10", "metal": "1.4125", "operation": "milling", "questioned_parameters": "cutting speed"}`

const answerSystem = `You are a manufacturing expert. Recommend cutting parameters from the metal and tool references.

Work through these steps internally:
1. Metal analysis: tensile strength (Rm/UTS, in MPa), category, composition, hardness, and the parameters the metal documentation recommends. If the composition is unclear, consider every variant.
2. Tool analysis: material strength limits, composition requirements, restrictions, and the parameters the tool documentation recommends.
3. Integration: compare both sources. Keep units consistent (speeds in m/min, feeds in mm/rev). Never round or approximate values.

Answer rules:
- tool_range: the range the tool references give for the questioned parameter, or "None" if they give none.
- metal_range: the range the metal reference gives, or "None" if it gives none.
- combined_range: one merged range when the sources agree. If the ranges conflict, use exactly "conflicted" and keep both source ranges unchanged in tool_range and metal_range.
- If there are no references, give a best-effort combined_range from general domain knowledge. Never answer "conflicted" without references.
- thoughts: two or three sentences on how the recommendation was derived. If the sources conflict, explain the conflict and suggest a value based on both sources and your own knowledge.

Respond with JSON only:
{"questioned_parameter": "...", "tool_range": "...", "metal_range": "...", "combined_range": "...", "thoughts": "..."}`

type factorReply model.FactorCheck

func (f *factorReply) Validate() error {
	f.Judge = strings.ToLower(strings.TrimSpace(f.Judge))
	if f.Judge != "yes" && f.Judge != "no" {
		return eris.Errorf("judge must be yes or no, got %q", f.Judge)
	}
	return nil
}

type answerReply struct {
	QuestionedParameter string `json:"questioned_parameter"`
	ToolRange           string `json:"tool_range"`
	MetalRange          string `json:"metal_range"`
	CombinedRange       string `json:"combined_range"`
	Thoughts            string `json:"thoughts"`
}

// DocReader loads a material reference document.
type DocReader interface {
	ReadDoc(path string) (string, error)
}

// FileDocs reads documents from disk. Relative paths resolve against Root.
type FileDocs struct {
	Root string
}

// ReadDoc implements DocReader.
func (f FileDocs) ReadDoc(path string) (string, error) {
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ToolRetriever returns tool-document references for a query.
type ToolRetriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Synthesis is the outcome of the parameter route for one sub-query.
type Synthesis struct {
	Answer    *model.RecommendationAnswer
	Message   string
	Check     model.FactorCheck
	Evidence  model.Evidence
	Decisions []relevance.Decision
}

// Synthesizer produces a recommendation for one sub-query: check, resolve,
// gather, merge. It has a single early exit for incomplete queries.
type Synthesizer struct {
	checker  llm.Completer
	answerer llm.Completer
	resolver *resolve.Resolver
	docs     DocReader
	tools    ToolRetriever
	filter   *relevance.Filter
}

// NewSynthesizer wires a Synthesizer. tools and filter may be nil, in which
// case tool evidence is absent.
func NewSynthesizer(checker, answerer llm.Completer, resolver *resolve.Resolver, docs DocReader, tools ToolRetriever, filter *relevance.Filter) *Synthesizer {
	return &Synthesizer{
		checker:  checker,
		answerer: answerer,
		resolver: resolver,
		docs:     docs,
		tools:    tools,
		filter:   filter,
	}
}

// Synthesize runs the parameter route. Missing evidence degrades the answer;
// only failed model or retrieval calls are errors.
func (s *Synthesizer) Synthesize(ctx context.Context, subQuery string) (*Synthesis, error) {
	log := zap.L().With(zap.String("sub_query", subQuery))

	check, err := llm.CompleteJSON[factorReply](ctx, s.checker, llm.Request{
		System:      factorCheckSystem,
		User:        "Query: " + subQuery,
		MaxTokens:   256,
		CacheSystem: true,
		Phase:       "factor_check",
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: factor check")
	}
	out := &Synthesis{Check: model.FactorCheck(check)}
	if !out.Check.Complete() {
		log.Info("pipeline: incomplete query",
			zap.String("tool", check.Tool),
			zap.String("metal", check.Metal),
			zap.String("operation", check.Operation),
		)
		out.Message = IncompleteQueryMessage
		return out, nil
	}

	var refs []string
	metalDoc := s.materialDoc(out, log)
	if metalDoc != "" {
		refs = append(refs, metalDoc)
	}

	tools, err := s.toolEvidence(ctx, subQuery, out, log)
	if err != nil {
		return nil, err
	}
	refs = append(refs, tools...)

	reply, err := llm.CompleteJSON[answerReply](ctx, s.answerer, llm.Request{
		System:      answerSystem,
		User:        answerPrompt(subQuery, refs),
		CacheSystem: true,
		Phase:       "synthesize",
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: synthesize")
	}

	ans := applyMergePolicy(model.RecommendationAnswer{
		QuestionedParameter: reply.QuestionedParameter,
		ToolRange:           reply.ToolRange,
		MetalRange:          reply.MetalRange,
		CombinedRange:       reply.CombinedRange,
		Thoughts:            reply.Thoughts,
	}, len(tools) > 0, metalDoc != "")
	out.Answer = &ans
	log.Info("pipeline: recommendation synthesized",
		zap.String("parameter", ans.QuestionedParameter),
		zap.String("combined", ans.CombinedRange),
		zap.Bool("conflicted", ans.Conflicted),
	)
	return out, nil
}

func (s *Synthesizer) materialDoc(out *Synthesis, log *zap.Logger) string {
	material := out.Check.Metal
	out.Evidence.Material = material
	if s.resolver == nil {
		return ""
	}

	m := s.resolver.Resolve(material)
	if !m.Matched {
		log.Info("pipeline: material not resolved", zap.String("material", material))
		out.Evidence.Warn("material %s is not in the alias table", material)
		return ""
	}
	out.Evidence.Material = m.CanonicalID
	out.Evidence.MaterialScore = m.Score
	log.Debug("pipeline: material resolved",
		zap.String("material", m.CanonicalID),
		zap.Float64("score", m.Score),
	)
	if m.DocPath == "" || s.docs == nil {
		msg := out.Evidence.Warn("no reference found for %s", m.CanonicalID)
		log.Warn(msg)
		return ""
	}

	doc, err := s.docs.ReadDoc(m.DocPath)
	if err != nil || strings.TrimSpace(doc) == "" {
		msg := out.Evidence.Warn("no reference found for %s", m.CanonicalID)
		log.Warn(msg,
			zap.String("doc_path", m.DocPath),
			zap.Error(err),
		)
		return ""
	}
	out.Evidence.MaterialDoc = true
	return doc
}

func (s *Synthesizer) toolEvidence(ctx context.Context, subQuery string, out *Synthesis, log *zap.Logger) ([]string, error) {
	if s.tools == nil {
		return nil, nil
	}
	refs, err := s.tools.Retrieve(ctx, subQuery)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("pipeline: tool index missing, continuing without tool evidence", zap.Error(err))
		out.Evidence.Warn("tool index is missing")
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: retrieve tool evidence")
	}
	out.Evidence.ChunksConsidered = len(refs)
	if s.filter != nil && len(refs) > 0 {
		refs, out.Decisions = s.filter.Filter(ctx, subQuery, refs)
	}
	out.Evidence.ChunksKept = len(refs)
	if len(refs) == 0 {
		log.Info("pipeline: no valid tool references found")
	}
	return refs, nil
}

func answerPrompt(subQuery string, refs []string) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(subQuery)
	b.WriteString("\nReferences:\n")
	if len(refs) == 0 {
		b.WriteString("(none)\n")
	}
	for i, r := range refs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, r)
	}
	return b.String()
}
