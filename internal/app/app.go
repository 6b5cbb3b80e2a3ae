// Package app provides application initialization and dependency wiring.
//
// App is the container that connects configuration, the database pool,
// Genkit, and the service components into a runnable server.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/crawlchat/internal/agent"
	"github.com/koopa0/crawlchat/internal/api"
	"github.com/koopa0/crawlchat/internal/auth"
	"github.com/koopa0/crawlchat/internal/checkpoint"
	"github.com/koopa0/crawlchat/internal/config"
	"github.com/koopa0/crawlchat/internal/ingest"
	"github.com/koopa0/crawlchat/internal/knowledge"
	"github.com/koopa0/crawlchat/internal/lifecycle"
	"github.com/koopa0/crawlchat/internal/log"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit       *genkit.Genkit
	Model        ai.Model
	Embedder     ai.Embedder
	DBPool       *pgxpool.Pool
	Knowledge    *knowledge.Store
	Checkpoints  *checkpoint.Store
	Pipeline     *ingest.Pipeline
	Orchestrator *agent.Orchestrator
	Lifecycle    *lifecycle.Manager
	Authorizer   auth.Authorizer
	Server       *api.Server

	logger      log.Logger
	otelCleanup func()
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, a.Config.Addr, a.logger)
}

// Close releases all resources.
func (a *App) Close() error {
	a.logger.Info("shutting down application")

	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger.Info("database pool closed")
	}
	return nil
}
