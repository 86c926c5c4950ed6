// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the database
// pool, the Genkit instance, the ingestion pipeline, the agents and the
// stores they depend on. Setup builds it in dependency order; Close tears
// it down in reverse.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mosaichq/mosaic/internal/agents"
	"github.com/mosaichq/mosaic/internal/config"
	"github.com/mosaichq/mosaic/internal/embed"
	"github.com/mosaichq/mosaic/internal/match"
	"github.com/mosaichq/mosaic/internal/onboard"
	"github.com/mosaichq/mosaic/internal/profile"
	"github.com/mosaichq/mosaic/internal/rag"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Document side
	Documents *rag.Store
	Vectors   *vecstore.Store
	Ledger    *embed.Ledger
	Embedding *embed.Service
	Pipeline  *rag.Pipeline

	// Agents
	Orchestrator *agents.Orchestrator
	OnboardStore *onboard.Store
	OnboardAgent *onboard.Agent

	// Members and matching
	Members    *profile.Store
	Enricher   *profile.Enricher
	MatchStore *match.Store
	Matcher    *match.Matcher

	// Lifecycle management
	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	// Pipeline first so in-flight ingest workers finish before the pool
	// goes away.
	if a.Pipeline != nil {
		a.Pipeline.Release()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
