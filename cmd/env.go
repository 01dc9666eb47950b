package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cache"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cost"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/equipment"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/pipeline"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/providers"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/search"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/validation"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/anthropic"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/gemini"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/jina"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/perplexity"
)

// pipelineEnv bundles everything a command needs to run the photo
// pipeline, so each cobra command can initialize once and defer Close.
type pipelineEnv struct {
	store  store.Store
	gemini gemini.Client
	orch   *pipeline.Orchestrator
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.DatabaseURL
		if path == "" {
			path = "rivet.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("cmd: store.database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}

// initPipeline wires the provider clients, cascade executors, and
// orchestrator from the loaded configuration.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Anthropic.Key == "" {
		st.Close()
		return nil, eris.New("cmd: anthropic.key is required")
	}
	claudeClient := anthropic.NewClient(cfg.Anthropic.Key)

	var geminiClient gemini.Client
	if cfg.Gemini.Key != "" {
		geminiClient, err = gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			st.Close()
			return nil, err
		}
	} else {
		zap.L().Warn("cmd: no gemini key, vision stages fall through to claude only")
	}

	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
	)
	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)

	calc := cost.NewCalculator(cost.DefaultRates())

	// Optional cascade override file: provider order and thresholds can
	// change without a redeploy.
	var overrides *cascade.Config
	if cfg.Pipeline.CascadeConfigPath != "" {
		overrides, err = cascade.LoadConfig(cfg.Pipeline.CascadeConfigPath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	breakerCfg := resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	callTimeout := cfg.Pipeline.ProviderTimeout()

	screenProviders := []cascade.Provider[providers.ImageInput, model.ScreenPayload]{
		providers.NewClaudeScreen(claudeClient, cfg.Anthropic.VisionModel, calc),
	}
	extractProviders := []cascade.Provider[providers.ImageInput, model.ExtractPayload]{
		providers.NewClaudeExtract(claudeClient, cfg.Anthropic.VisionModel, calc),
	}
	if geminiClient != nil {
		// Gemini is cheaper, so it leads both vision cascades.
		screenProviders = append([]cascade.Provider[providers.ImageInput, model.ScreenPayload]{
			providers.NewGeminiScreen(geminiClient, cfg.Gemini.Model, calc),
		}, screenProviders...)
		extractProviders = append([]cascade.Provider[providers.ImageInput, model.ExtractPayload]{
			providers.NewGeminiExtract(geminiClient, cfg.Gemini.Model, calc),
		}, extractProviders...)
	}
	screenProviders = cascade.Reorder(screenProviders, overrides.Order(string(model.StageScreen), nil))
	extractProviders = cascade.Reorder(extractProviders, overrides.Order(string(model.StageExtract), nil))

	screenExec := cascade.New(string(model.StageScreen), cascade.StageConfig{
		Threshold:   overrides.Threshold(string(model.StageScreen), cfg.Pipeline.ScreenThreshold),
		CallTimeout: callTimeout,
	}, screenProviders, breakerCfg)

	extractExec := cascade.New(string(model.StageExtract), cascade.StageConfig{
		Threshold:   overrides.Threshold(string(model.StageExtract), cfg.Pipeline.ExtractThreshold),
		CallTimeout: callTimeout,
	}, extractProviders, breakerCfg)

	analyzeExec := cascade.New(string(model.StageAnalyze), cascade.StageConfig{
		Threshold:   overrides.Threshold(string(model.StageAnalyze), cfg.Pipeline.AnalyzeThreshold),
		CallTimeout: callTimeout,
	}, []cascade.Provider[providers.AnalyzeInput, model.AnalyzePayload]{
		providers.NewClaudeAnalyze(claudeClient, cfg.Anthropic.AnalyzeModel, calc),
	}, breakerCfg)

	searchProviders := []cascade.Provider[search.Query, model.SearchCandidate]{
		providers.NewJinaSearch(jinaClient, calc),
		providers.NewPerplexitySearch(perplexityClient, cfg.Perplexity.Model, calc),
		providers.NewClaudeSearch(claudeClient, cfg.Anthropic.AnalyzeModel, calc),
	}
	searchProviders = cascade.Reorder(searchProviders, overrides.Order(string(model.StageSearch), nil))

	searchExec := cascade.New(string(model.StageSearch), cascade.StageConfig{
		Threshold:   overrides.Threshold(string(model.StageSearch), cfg.Validation.AcceptThreshold),
		CallTimeout: callTimeout,
	}, searchProviders, breakerCfg)

	retryCfg := resilience.FromConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMS,
		cfg.Retry.MaxBackoffMS,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)

	searchCascade := search.NewCascade(searchExec, st, jinaClient,
		cfg.Validation.AcceptThreshold, cfg.Validation.BandLower, cfg.Validation.PromotedConf)

	orch := pipeline.New(pipeline.Deps{
		Store:          st,
		Cache:          cache.New(st, cfg.Cache.TTL(), retryCfg),
		Matcher:        equipment.NewMatcher(st, retryCfg),
		Gate:           validation.NewGate(st, cfg.Validation.Window()),
		Search:         searchCascade,
		Screen:         screenExec,
		Extract:        extractExec,
		Analyze:        analyzeExec,
		OverallTimeout: cfg.Pipeline.OverallTimeout(),
	})

	return &pipelineEnv{
		store:  st,
		gemini: geminiClient,
		orch:   orch,
	}, nil
}

// Close releases the environment's connections.
func (e *pipelineEnv) Close() {
	if e.gemini != nil {
		if err := e.gemini.Close(); err != nil {
			zap.L().Warn("cmd: gemini close", zap.Error(err))
		}
	}
	if err := e.store.Close(); err != nil {
		zap.L().Warn("cmd: store close", zap.Error(err))
	}
}
