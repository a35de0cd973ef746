package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/llm/mocks"
	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/relevance"
	"github.com/sells-group/cutting-params/internal/resilience"
	"github.com/sells-group/cutting-params/internal/retrieve"
	"github.com/sells-group/cutting-params/internal/store"
	"github.com/sells-group/cutting-params/internal/tables"
)

type harness struct {
	decomposer *mocks.Completer
	router     *mocks.Completer
	checker    *mocks.Completer
	answerer   *mocks.Completer
}

func newHarness(t *testing.T) *harness {
	return &harness{
		decomposer: mocks.NewCompleter(t),
		router:     mocks.NewCompleter(t),
		checker:    mocks.NewCompleter(t),
		answerer:   mocks.NewCompleter(t),
	}
}

func (h *harness) pipeline(opts ...Option) *Pipeline {
	synth := NewSynthesizer(h.checker, h.answerer, materials(), mapDocs{"metals/1.4125.md": "Vc 80-120 m/min"}, nil, nil)
	return New(NewDecomposer(h.decomposer), NewRouter(h.router), synth, opts...)
}

// pipelineWithTools wires the full parameter route: tool retrieval over an
// in-memory index and a two-stage relevance filter.
func (h *harness) pipelineWithTools(t *testing.T, primary, secondary llm.Completer, opts ...Option) *Pipeline {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.ReplaceCollection(context.Background(), "rag-tools", []model.DocumentChunk{
		{Text: "__TABLE0__:D10 turning speeds.", TableIDs: []int{0}, Embedding: []float32{1, 0}},
		{Text: "Coolant guidance for milling.", Embedding: []float32{0, 1}},
	}))
	recs, err := tables.NewRecords([]model.TableRecord{
		{TableID: 0, Summary: "D10 turning speeds.", OriginalTable: "<table>Vc 150-200 m/min</table>"},
	})
	require.NoError(t, err)

	tools := retrieve.New(queryEmbedder{vec: []float32{1, 0.1}}, st, recs, "rag-tools", retrieve.WithTopK(2))
	docs := mapDocs{"metals/1.4125.md": "1.4125 turning: Vc 120-180 m/min"}
	synth := NewSynthesizer(h.checker, h.answerer, materials(), docs, tools, relevance.New(primary, secondary, 1))
	return New(NewDecomposer(h.decomposer), NewRouter(h.router), synth, opts...)
}

type queryEmbedder struct{ vec []float32 }

func (queryEmbedder) Name() string { return "fixed" }

func (q queryEmbedder) EmbedQuery(context.Context, string) ([]float32, error) { return q.vec, nil }

func (q queryEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = q.vec
	}
	return out, nil
}

func (h *harness) decomposesTo(subs ...string) {
	body := `{"queries": [`
	for i, s := range subs {
		if i > 0 {
			body += ", "
		}
		body += fmt.Sprintf("%q", s)
	}
	body += `]}`
	h.decomposer.On("Complete", mock.Anything, phase("decompose")).Return(mocks.Reply(body), nil).Once()
}

func (h *harness) routes(sub string, route model.Route) {
	h.router.On("Complete", mock.Anything, phaseAbout("route", sub)).
		Return(mocks.Reply(fmt.Sprintf(`{"route": %q}`, route)), nil).Once()
}

func TestRun_FailureIsContainedPerSubQuery(t *testing.T) {
	h := newHarness(t)
	speed := "What's the cutting speed for turning 1.4125 steel with D10 tool?"
	feed := "What's the feed rate for turning 1.4125 steel with D10 tool?"
	h.decomposesTo(speed, feed)
	h.router.On("Complete", mock.Anything, phaseAbout("route", "cutting speed")).Return(nil, errUpstream).Once()
	h.routes(feed, model.RouteParameterRecommendation)
	h.checker.On("Complete", mock.Anything, phase("factor_check")).
		Return(mocks.Reply(`{"judge": "yes", "tool": "D10", "metal": "1.4125", "operation": "turning", "questioned_parameters": "feed rate"}`), nil).Once()
	h.answerer.On("Complete", mock.Anything, phase("synthesize")).
		Return(mocks.Reply(`{"questioned_parameter": "feed rate", "tool_range": "None", "metal_range": "0.1-0.2 mm/rev", "combined_range": "0.1-0.2 mm/rev", "thoughts": "From the metal sheet."}`), nil).Once()

	res := h.pipeline().Run(context.Background(), "turn 1.4125 with D10, cutting speed and feed rate?")

	require.Len(t, res.Results, 2)
	assert.Equal(t, []string{speed, feed}, res.SubQueries)

	first := res.Results[0]
	assert.Equal(t, speed, first.SubQuery)
	assert.False(t, first.Successful)
	assert.Equal(t, model.RouteUnknown, first.Route)
	assert.Contains(t, first.Error, "pipeline: route")
	assert.Contains(t, first.Error, errUpstream.Error())

	second := res.Results[1]
	assert.True(t, second.Successful)
	assert.Empty(t, second.Error)
	require.NotNil(t, second.Answer)
	assert.Equal(t, "0.1-0.2 mm/rev", second.Answer.CombinedRange)
	require.NotNil(t, second.Evidence)
	assert.True(t, second.Evidence.MaterialDoc)
	assert.Equal(t, 1, res.Succeeded())
}

func TestRun_FixedRoutes(t *testing.T) {
	h := newHarness(t)
	h.decomposesTo("show the figure of the D10 insert", "who makes the D10 tool")
	h.routes("figure", model.RouteDocumentExtraction)
	h.router.On("Complete", mock.Anything, phaseAbout("route", "who makes")).Return(mocks.Reply("product_info"), nil).Once()

	res := h.pipeline().Run(context.Background(), "figure and maker of D10")

	require.Len(t, res.Results, 2)
	assert.Equal(t, model.RouteDocumentExtraction, res.Results[0].Route)
	assert.Equal(t, DocumentExtractionMessage, res.Results[0].Message)
	assert.False(t, res.Results[0].Successful)
	assert.Equal(t, model.RouteUnknown, res.Results[1].Route)
	assert.Equal(t, UnknownQuestionPrefix+"who makes the D10 tool", res.Results[1].Message)
	assert.Empty(t, res.Results[1].Error)
}

func TestRun_IncompleteQueryIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.decomposesTo("cutting speed for 1.4125?")
	h.routes("cutting speed", model.RouteParameterRecommendation)
	h.checker.On("Complete", mock.Anything, phase("factor_check")).Return(mocks.Reply(incompleteCheck), nil).Once()

	res := h.pipeline().Run(context.Background(), "cutting speed for 1.4125?")

	require.Len(t, res.Results, 1)
	assert.Equal(t, IncompleteQueryMessage, res.Results[0].Message)
	assert.False(t, res.Results[0].Successful)
	assert.Empty(t, res.Results[0].Error)
	assert.Nil(t, res.Results[0].Answer)
}

func TestRun_OnlineSearch(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		h := newHarness(t)
		h.decomposesTo("latest coolant trends")
		h.routes("coolant", model.RouteOnlineSearch)
		p := h.pipeline(WithSearcher(stubSearcher{text: "Minimum quantity lubrication."}, resilience.Timeout{}))
		res := p.Run(context.Background(), "latest coolant trends")

		require.Len(t, res.Results, 1)
		assert.True(t, res.Results[0].Successful)
		assert.Equal(t, "Minimum quantity lubrication.", res.Results[0].Message)
	})

	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t)
		h.decomposesTo("latest coolant trends")
		h.routes("coolant", model.RouteOnlineSearch)

		res := h.pipeline().Run(context.Background(), "latest coolant trends")

		require.Len(t, res.Results, 1)
		assert.False(t, res.Results[0].Successful)
		assert.Contains(t, res.Results[0].Error, "online search is not configured")
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t)
		h.decomposesTo("latest coolant trends")
		h.routes("coolant", model.RouteOnlineSearch)

		p := h.pipeline(WithSearcher(stubSearcher{block: true}, resilience.Timeout{Name: "search", Duration: 10 * time.Millisecond}))
		res := p.Run(context.Background(), "latest coolant trends")

		require.Len(t, res.Results, 1)
		assert.False(t, res.Results[0].Successful)
		assert.Contains(t, res.Results[0].Error, resilience.ErrTimeout.Error())
	})
}

type stubSearcher struct {
	text  string
	block bool
}

func (s stubSearcher) Name() string { return "stub" }

func (s stubSearcher) Search(ctx context.Context, _ string) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.text, nil
}

func TestRun_DecompositionFallback(t *testing.T) {
	h := newHarness(t)
	h.decomposer.On("Complete", mock.Anything, phase("decompose")).Return(nil, errUpstream).Once()
	h.routes("figure", model.RouteDocumentExtraction)

	res := h.pipeline().Run(context.Background(), "  show   the figure  ")

	assert.Equal(t, []string{"show the figure"}, res.SubQueries)
	require.Len(t, res.Results, 1)
	assert.Equal(t, DocumentExtractionMessage, res.Results[0].Message)
}

func TestRun_EmptyQuery(t *testing.T) {
	h := newHarness(t)

	res := h.pipeline().Run(context.Background(), "   ")

	assert.Empty(t, res.SubQueries)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0, res.Succeeded())
}

func TestRun_PreservesOrderWhenConcurrent(t *testing.T) {
	h := newHarness(t)
	subs := []string{"figure one", "figure two", "figure three", "figure four"}
	h.decomposesTo(subs...)
	for _, s := range subs {
		h.routes(s, model.RouteDocumentExtraction)
	}

	res := h.pipeline(WithConcurrency(4)).Run(context.Background(), "four figures")

	require.Len(t, res.Results, len(subs))
	for i, s := range subs {
		assert.Equal(t, s, res.Results[i].SubQuery)
	}
}

func TestRun_MetersUsage(t *testing.T) {
	decomposer := mocks.NewCompleter(t)
	router := mocks.NewCompleter(t)
	decomposer.On("Complete", mock.Anything, mock.Anything).Return(metered(`{"queries": ["figure a", "figure b"]}`), nil).Once()
	router.On("Complete", mock.Anything, mock.Anything).Return(metered(`{"route": "document_extraction"}`), nil).Twice()

	p := New(NewDecomposer(llm.Guard(decomposer, llm.Policy{})), NewRouter(llm.Guard(router, llm.Policy{})), nil)
	res := p.Run(context.Background(), "figures a and b")

	assert.Equal(t, 3, res.Usage.Calls)
	assert.Equal(t, int64(30), res.Usage.InputTokens)
	assert.Equal(t, int64(15), res.Usage.OutputTokens)
}

func TestRun_RecordsRuns(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		h := newHarness(t)
		h.decomposesTo("figure a")
		h.routes("figure a", model.RouteDocumentExtraction)
		runs := store.NewMemory()

		res := h.pipeline(WithRecorder(runs)).Run(context.Background(), "figure a")
		require.NotEmpty(t, res.RunID)

		run, err := runs.GetRun(context.Background(), res.RunID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, run.Status)
		require.NotNil(t, run.Result)
		assert.Len(t, run.Result.Results, 1)
	})

	t.Run("cancelled", func(t *testing.T) {
		h := newHarness(t)
		h.decomposesTo("figure a")
		h.routes("figure a", model.RouteDocumentExtraction)
		runs := store.NewMemory()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := h.pipeline(WithRecorder(runs)).Run(ctx, "figure a")
		require.NotEmpty(t, res.RunID)

		run, err := runs.GetRun(context.Background(), res.RunID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, run.Status)
		assert.Equal(t, context.Canceled.Error(), run.Error)
	})
}

func TestRun_ParameterRouteEndToEnd(t *testing.T) {
	h := newHarness(t)
	primary := mocks.NewCompleter(t)
	secondary := mocks.NewCompleter(t)

	h.decomposesTo(speedQuery)
	h.routes(speedQuery, model.RouteParameterRecommendation)
	h.checker.On("Complete", mock.Anything, phase("factor_check")).Return(mocks.Reply(completeCheck), nil).Once()
	primary.On("Complete", mock.Anything, phaseAbout("relevance", "D10 turning speeds")).Return(mocks.Reply(relevantJSON), nil).Once()
	primary.On("Complete", mock.Anything, phaseAbout("relevance", "Coolant")).Return(mocks.Reply(notRelevantJSON), nil).Once()
	secondary.On("Complete", mock.Anything, phaseAbout("relevance", "Coolant")).Return(mocks.Reply(notRelevantJSON), nil).Once()
	h.answerer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Phase == "synthesize" &&
			strings.Contains(r.User, "[1] 1.4125 turning: Vc 120-180 m/min") &&
			strings.Contains(r.User, "[2] __TABLE0__:D10 turning speeds. <table>Vc 150-200 m/min</table>") &&
			!strings.Contains(r.User, "Coolant")
	})).Return(mocks.Reply(`{"questioned_parameter": "cutting speed", "tool_range": "150-200 m/min", "metal_range": "120-180 m/min",
		"combined_range": "150-180 m/min", "thoughts": "Both sources overlap at 150-180 m/min."}`), nil).Once()

	res := h.pipelineWithTools(t, primary, secondary).Run(context.Background(), speedQuery)

	require.Len(t, res.Results, 1)
	r := res.Results[0]
	require.True(t, r.Successful, r.Error)
	assert.Equal(t, model.RouteParameterRecommendation, r.Route)
	require.NotNil(t, r.Evidence)
	assert.Equal(t, "1.4125", r.Evidence.Material)
	assert.GreaterOrEqual(t, r.Evidence.MaterialScore, 80.0)
	assert.True(t, r.Evidence.MaterialDoc)
	assert.Equal(t, 2, r.Evidence.ChunksConsidered)
	assert.Equal(t, 1, r.Evidence.ChunksKept)
	assert.Empty(t, r.Evidence.Warnings)

	require.NotNil(t, r.Answer)
	assert.Equal(t, "150-200 m/min", r.Answer.ToolRange)
	assert.Equal(t, "120-180 m/min", r.Answer.MetalRange)
	assert.Equal(t, "150-180 m/min", r.Answer.CombinedRange)
	assert.False(t, r.Answer.Conflicted)
	assert.Equal(t, 1, res.Succeeded())
}
