package main

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sells-group/cutting-params/internal/embed"
	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/pipeline"
	"github.com/sells-group/cutting-params/internal/relevance"
	"github.com/sells-group/cutting-params/internal/resilience"
	"github.com/sells-group/cutting-params/internal/resolve"
	"github.com/sells-group/cutting-params/internal/retrieve"
	"github.com/sells-group/cutting-params/internal/store"
	"github.com/sells-group/cutting-params/internal/tables"
	anthropicpkg "github.com/sells-group/cutting-params/pkg/anthropic"
	"github.com/sells-group/cutting-params/pkg/jina"
	"github.com/sells-group/cutting-params/pkg/perplexity"
)

// advisor holds the store and pipeline used by the recommend and serve
// commands.
type advisor struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the advisor.
func (a *advisor) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// providers builds guarded completers and embedders from the config. All
// completers share one limiter; each provider has its own breaker.
type providers struct {
	limiter   *rate.Limiter
	timeout   resilience.Timeout
	breakers  *resilience.Breakers
	anthropic anthropicpkg.Client
	gemini    *genai.Client
	jina      jina.Client
}

func newProviders(ctx context.Context) (*providers, error) {
	p := &providers{
		timeout:  resilience.NewTimeout("llm", cfg.LLM.CallTimeoutSecs),
		breakers: resilience.NewBreakers(resilience.BreakerConfig{}),
	}
	if cfg.LLM.RatePerSec > 0 {
		burst := cfg.LLM.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RatePerSec), burst)
	}
	if cfg.Anthropic.Key != "" {
		p.anthropic = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}
	if cfg.Gemini.Key != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, err
		}
		p.gemini = client
	}
	if cfg.Jina.Key != "" {
		p.jina = jina.NewClient(cfg.Jina.Key,
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
			jina.WithAPIBaseURL(cfg.Jina.APIBaseURL),
		)
	}
	return p, nil
}

// completer returns a guarded completer for provider and model.
func (p *providers) completer(provider, modelID string) (llm.Completer, error) {
	var c llm.Completer
	switch provider {
	case "anthropic":
		if p.anthropic == nil {
			return nil, eris.New("anthropic.key is not set")
		}
		c = llm.NewAnthropic(p.anthropic, modelID, cfg.LLM.MaxTokens)
	case "gemini":
		if p.gemini == nil {
			return nil, eris.New("gemini.key is not set")
		}
		c = llm.NewGemini(p.gemini.Models, modelID, cfg.LLM.MaxTokens)
	default:
		return nil, eris.Errorf("unknown llm provider %q", provider)
	}
	return llm.Guard(c, llm.Policy{
		Limiter: p.limiter,
		Timeout: p.timeout,
		Breaker: p.breakers.Get(provider),
	}), nil
}

func (p *providers) embedder() (embed.Embedder, error) {
	switch cfg.Embed.Provider {
	case "gemini":
		if p.gemini == nil {
			return nil, eris.New("gemini.key is not set")
		}
		return embed.NewGemini(p.gemini.Models, cfg.Gemini.EmbedModel), nil
	case "jina":
		if p.jina == nil {
			return nil, eris.New("jina.key is not set")
		}
		return embed.NewJina(p.jina, cfg.Jina.EmbedModel), nil
	default:
		return nil, eris.Errorf("unknown embed provider %q", cfg.Embed.Provider)
	}
}

func (p *providers) searcher(summarizer llm.Completer) (pipeline.Searcher, error) {
	switch cfg.Search.Provider {
	case "jina":
		if p.jina == nil {
			return nil, eris.New("jina.key is not set")
		}
		return pipeline.NewJinaSearcher(p.jina, summarizer, cfg.Search.MaxResults), nil
	case "perplexity":
		return pipeline.NewPerplexitySearcher(perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)), nil
	default:
		return nil, eris.Errorf("unknown search provider %q", cfg.Search.Provider)
	}
}

// initAdvisor validates the config for mode, opens the store and wires the
// pipeline. Callers should defer a.Close().
func initAdvisor(ctx context.Context, mode string) (*advisor, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	a := &advisor{Store: st}

	p, err := buildPipeline(ctx, st)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p
	return a, nil
}

func buildPipeline(ctx context.Context, st store.Store) (*pipeline.Pipeline, error) {
	prov, err := newProviders(ctx)
	if err != nil {
		return nil, err
	}

	fast, err := prov.completer("anthropic", cfg.Anthropic.FastModel)
	if err != nil {
		return nil, eris.Wrap(err, "fast model")
	}
	strong, err := prov.completer("anthropic", cfg.Anthropic.Model)
	if err != nil {
		return nil, eris.Wrap(err, "synthesis model")
	}
	primary, err := prov.completer(cfg.Evaluator.PrimaryProvider, cfg.Evaluator.PrimaryModel)
	if err != nil {
		return nil, eris.Wrap(err, "primary evaluator")
	}
	secondary, err := prov.completer(cfg.Evaluator.SecondaryProvider, cfg.Evaluator.SecondaryModel)
	if err != nil {
		return nil, eris.Wrap(err, "secondary evaluator")
	}
	embedder, err := prov.embedder()
	if err != nil {
		return nil, eris.Wrap(err, "embedder")
	}

	aliases, err := resolve.LoadAliasTable(cfg.Resolver.AliasTable)
	if err != nil {
		return nil, err
	}
	resolver := resolve.New(aliases, cfg.Resolver.Threshold)

	var lookup retrieve.TableLookup
	records, err := tables.LoadRecords(cfg.Retrieval.TableRecords)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		zap.L().Warn("table records not found, retrieval will not reinflate tables",
			zap.String("path", cfg.Retrieval.TableRecords),
		)
	case err != nil:
		return nil, err
	default:
		lookup = records
	}

	retriever := retrieve.New(embedder, st, lookup, retrieve.CollectionName(cfg.Retrieval.ToolDoc),
		retrieve.WithTopK(cfg.Retrieval.TopK),
		retrieve.WithTimeout(prov.timeout),
	)
	filter := relevance.New(primary, secondary, cfg.Pipeline.Concurrency)
	docs := pipeline.FileDocs{Root: filepath.Dir(cfg.Resolver.AliasTable)}
	synth := pipeline.NewSynthesizer(fast, strong, resolver, docs, retriever, filter)

	opts := []pipeline.Option{pipeline.WithConcurrency(cfg.Pipeline.Concurrency)}
	searcher, err := prov.searcher(fast)
	if err != nil {
		zap.L().Warn("online search disabled", zap.Error(err))
	} else {
		opts = append(opts, pipeline.WithSearcher(searcher, resilience.NewTimeout("search", cfg.Search.TimeoutSecs)))
	}
	if cfg.Pipeline.RecordRuns {
		opts = append(opts, pipeline.WithRecorder(st))
	}

	zap.L().Info("advisor ready",
		zap.String("collection", retriever.Collection()),
		zap.String("embedder", embedder.Name()),
		zap.String("primary_evaluator", primary.Name()),
		zap.String("secondary_evaluator", secondary.Name()),
		zap.Int("materials", aliases.Len()),
	)
	return pipeline.New(pipeline.NewDecomposer(fast), pipeline.NewRouter(fast), synth, opts...), nil
}
