package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/koopa0/crawlchat/db"
	"github.com/koopa0/crawlchat/internal/agent"
	"github.com/koopa0/crawlchat/internal/api"
	"github.com/koopa0/crawlchat/internal/auth"
	"github.com/koopa0/crawlchat/internal/checkpoint"
	"github.com/koopa0/crawlchat/internal/config"
	"github.com/koopa0/crawlchat/internal/crawler"
	"github.com/koopa0/crawlchat/internal/ingest"
	"github.com/koopa0/crawlchat/internal/knowledge"
	"github.com/koopa0/crawlchat/internal/lifecycle"
	"github.com/koopa0/crawlchat/internal/log"
	"github.com/koopa0/crawlchat/internal/observability"
	"github.com/koopa0/crawlchat/internal/retrieval"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit creates its first span.
	a.otelCleanup = provideTracing(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	a.Genkit = g
	logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)

	a.Model = googlegenai.GoogleAIModel(g, cfg.ModelName)
	if a.Model == nil {
		return nil, fmt.Errorf("model %q not found", cfg.ModelName)
	}
	a.Embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	a.Knowledge = knowledge.New(pool, logger)
	a.Checkpoints = checkpoint.New(pool, logger)

	fetcher := crawler.NewFetcher(cfg.CrawlMaxPages, cfg.CrawlMaxDepth, logger)
	a.Pipeline = ingest.New(fetcher, a.Embedder, a.Knowledge, logger)

	toolRef := retrieval.Define(g)
	newTool := func(threadID string) (agent.Searcher, error) {
		return retrieval.NewTool(a.Embedder, a.Knowledge, threadID,
			cfg.RetrievalLimit, cfg.RetrievalOversample, logger)
	}

	a.Orchestrator, err = agent.New(g, a.Model, toolRef, newTool, a.Checkpoints, cfg.MaxTurns, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	a.Lifecycle = lifecycle.New(a.Knowledge, a.Checkpoints, logger)

	a.Authorizer, err = auth.NewHTTP(cfg.AuthEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("creating authorizer: %w", err)
	}

	a.Server, err = api.NewServer(api.ServerConfig{
		Logger:        logger,
		Ingestor:      a.Pipeline,
		Conversations: a.Orchestrator,
		Lifecycle:     a.Lifecycle,
		Authorizer:    a.Authorizer,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	return a, nil
}

// provideTracing sets up the OTLP exporter before Genkit initialization.
func provideTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without it", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool
// with pgvector types registered on every connection.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
