// Package pipeline turns a free-text machining query into per-parameter
// recommendations: decompose, route, and answer each sub-query on its own.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/resilience"
	"github.com/sells-group/cutting-params/internal/store"
)

// Fixed replies of the routes that do not produce a recommendation.
const (
	DocumentExtractionMessage = "Document extraction is not implemented yet."
	UnknownQuestionPrefix     = "Unknown question type: "
)

// Pipeline orchestrates one query. A failing sub-query is recorded in its
// result and never affects its siblings.
type Pipeline struct {
	decomposer    *Decomposer
	router        *Router
	synthesizer   *Synthesizer
	searcher      Searcher
	searchTimeout resilience.Timeout
	recorder      store.RunRecorder
	concurrency   int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSearcher enables the online search route.
func WithSearcher(s Searcher, timeout resilience.Timeout) Option {
	return func(p *Pipeline) {
		p.searcher = s
		p.searchTimeout = timeout
	}
}

// WithRecorder records every run.
func WithRecorder(r store.RunRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithConcurrency sets how many sub-queries run at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// New creates a Pipeline. Sub-queries run one at a time unless
// WithConcurrency says otherwise.
func New(decomposer *Decomposer, router *Router, synthesizer *Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		decomposer:  decomposer,
		router:      router,
		synthesizer: synthesizer,
		concurrency: 1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes query and always returns a result; per-sub-query failures
// are reported in Results.
func (p *Pipeline) Run(ctx context.Context, query string) *model.QueryResult {
	meter := &llm.Meter{}
	ctx = llm.WithMeter(ctx, meter)

	result := &model.QueryResult{
		Query:     query,
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(zap.String("query", query))

	var run *model.Run
	if p.recorder != nil {
		r, err := p.recorder.CreateRun(ctx, query)
		if err != nil {
			log.Warn("pipeline: failed to record run", zap.Error(err))
		} else {
			run = r
			result.RunID = r.ID
		}
	}

	if NormalizeQuery(query) != "" {
		result.SubQueries = p.decomposer.Decompose(ctx, query)
	}
	log.Info("pipeline: query decomposed", zap.Strings("sub_queries", result.SubQueries))

	result.Results = make([]model.SubQueryResult, len(result.SubQueries))
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for i, sub := range result.SubQueries {
		g.Go(func() error {
			result.Results[i] = p.RunSubQuery(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()

	result.Usage = meter.Usage()
	result.Duration = time.Since(result.StartedAt)
	log.Info("pipeline: query complete",
		zap.Int("sub_queries", len(result.Results)),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("llm_calls", result.Usage.Calls),
		zap.Float64("cost_usd", result.Usage.CostUSD),
		zap.Duration("duration", result.Duration),
	)

	if run != nil {
		p.finishRun(ctx, run.ID, result)
	}
	return result
}

func (p *Pipeline) finishRun(ctx context.Context, runID string, result *model.QueryResult) {
	// The record is written even when the caller has gone away.
	wctx := context.WithoutCancel(ctx)
	var err error
	if cerr := ctx.Err(); cerr != nil {
		err = p.recorder.FailRun(wctx, runID, cerr.Error())
	} else {
		err = p.recorder.CompleteRun(wctx, runID, result)
	}
	if err != nil {
		zap.L().Warn("pipeline: failed to save run", zap.String("run_id", runID), zap.Error(err))
	}
}

// RunSubQuery routes and answers one sub-query.
func (p *Pipeline) RunSubQuery(ctx context.Context, subQuery string) model.SubQueryResult {
	res := model.SubQueryResult{SubQuery: subQuery, Route: model.RouteUnknown}
	log := zap.L().With(zap.String("sub_query", subQuery))

	route, err := p.router.Route(ctx, subQuery)
	if err != nil {
		return failed(res, eris.Wrap(err, "pipeline: route"), log)
	}
	res.Route = route
	log = log.With(zap.String("route", string(route)))
	log.Info("pipeline: sub-query routed")

	switch route {
	case model.RouteParameterRecommendation:
		syn, err := p.synthesizer.Synthesize(ctx, subQuery)
		if err != nil {
			return failed(res, err, log)
		}
		res.Evidence = &syn.Evidence
		if syn.Answer == nil {
			res.Message = syn.Message
			return res
		}
		res.Answer = syn.Answer
		res.Successful = true

	case model.RouteOnlineSearch:
		if p.searcher == nil {
			return failed(res, eris.New("pipeline: online search is not configured"), log)
		}
		text, err := resilience.Call(ctx, p.searchTimeout, func(ctx context.Context) (string, error) {
			return p.searcher.Search(ctx, subQuery)
		})
		if err != nil {
			return failed(res, err, log)
		}
		res.Message = text
		res.Successful = true

	case model.RouteDocumentExtraction:
		res.Message = DocumentExtractionMessage

	default:
		res.Message = UnknownQuestionPrefix + subQuery
	}
	return res
}

func failed(res model.SubQueryResult, err error, log *zap.Logger) model.SubQueryResult {
	log.Warn("pipeline: sub-query failed", zap.Error(err))
	res.Successful = false
	res.Error = err.Error()
	return res
}
