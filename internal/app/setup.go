package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mosaichq/mosaic/db"
	"github.com/mosaichq/mosaic/internal/agents"
	"github.com/mosaichq/mosaic/internal/chunk"
	"github.com/mosaichq/mosaic/internal/classify"
	"github.com/mosaichq/mosaic/internal/config"
	"github.com/mosaichq/mosaic/internal/embed"
	"github.com/mosaichq/mosaic/internal/extract"
	"github.com/mosaichq/mosaic/internal/match"
	"github.com/mosaichq/mosaic/internal/observability"
	"github.com/mosaichq/mosaic/internal/onboard"
	"github.com/mosaichq/mosaic/internal/profile"
	"github.com/mosaichq/mosaic/internal/rag"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so its
	// TracerProvider picks up the span processor.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	if err := wireServices(a, logger); err != nil {
		return nil, err
	}
	return a, nil
}

// wireServices builds the stores, the pipeline and the agents on top of the
// already-initialized pool, Genkit instance and embedder.
func wireServices(a *App, logger *slog.Logger) error {
	cfg := a.Config
	modelName := cfg.FullModelName()

	a.Ledger = embed.NewLedger(a.DBPool, logger)
	a.Embedding = embed.NewService(a.Embedder, a.Ledger, embed.Config{
		BatchSize:     cfg.EmbedBatchSize,
		RatePerSecond: cfg.EmbedRatePerSecond,
		RateBurst:     cfg.EmbedRateBurst,
	}, logger)

	vectors, err := vecstore.New(a.DBPool, logger)
	if err != nil {
		return err
	}
	a.Vectors = vectors

	chunker, err := chunk.New(chunk.Config{
		TargetTokens:  cfg.ChunkTargetTokens,
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	}, logger)
	if err != nil {
		return err
	}

	a.Documents = rag.NewStore(a.DBPool, logger)
	generator := rag.NewGenerator(a.Genkit, modelName, a.Ledger, 0, logger)
	classifier := classify.New(a.Genkit, modelName, logger)

	pipeline, err := rag.NewPipeline(a.Documents, extract.New(logger), chunker,
		a.Embedding, vectors, classifier, generator,
		rag.PipelineConfig{Workers: cfg.IngestWorkers}, logger)
	if err != nil {
		return err
	}
	a.Pipeline = pipeline

	dataAgent := agents.NewDataQueryAgent(a.DBPool, a.Genkit, modelName, logger)
	synth := agents.NewSynthesisAgent(a.Genkit, modelName, logger)
	orchestrator, err := agents.NewOrchestrator(a.Genkit, modelName, pipeline, dataAgent, synth, logger)
	if err != nil {
		return err
	}
	a.Orchestrator = orchestrator

	a.OnboardStore = onboard.NewStore(a.DBPool, logger)
	onboardAgent, err := onboard.NewAgent(a.OnboardStore, a.Genkit, modelName, logger)
	if err != nil {
		return err
	}
	a.OnboardAgent = onboardAgent

	a.Members = profile.NewStore(a.DBPool, logger)
	scraper := profile.NewScraper(profile.ScraperConfig{
		Parallelism: cfg.Scraper.Parallelism,
		Delay:       time.Duration(cfg.Scraper.DelayMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond,
		UserAgent:   cfg.Scraper.UserAgent,
	}, logger)
	enricher, err := profile.NewEnricher(a.Members, scraper, logger)
	if err != nil {
		return err
	}
	a.Enricher = enricher

	a.MatchStore = match.NewStore(a.DBPool, logger)
	matcher, err := match.NewMatcher(a.Members, a.MatchStore, a.Genkit, modelName, logger)
	if err != nil {
		return err
	}
	a.Matcher = matcher

	return nil
}

// provideOtelShutdown sets up OTLP tracing before Genkit initialization.
// An empty agent host disables tracing entirely.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if cfg.OTLPAgentHost == "" {
		return func() {}
	}

	shutdown, err := observability.SetupTracing(ctx, observability.Config{
		AgentHost:   cfg.OTLPAgentHost,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		logger.Warn("setting up tracing", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports openai (default), gemini/googleai and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderGemini, config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)

	default: // "openai"
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - ollama: registered in provideGenkit, keyed by server address
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderGemini, config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default: // "openai"
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
