// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/browser"
	"github.com/probelight/specdriver/internal/compiler"
	"github.com/probelight/specdriver/internal/config"
	"github.com/probelight/specdriver/internal/diagnostics"
	"github.com/probelight/specdriver/internal/executor"
	"github.com/probelight/specdriver/internal/observability"
	"github.com/probelight/specdriver/internal/oracle"
	"github.com/probelight/specdriver/internal/orchestrator"
	"github.com/probelight/specdriver/internal/report"
	"github.com/probelight/specdriver/internal/store"
)

// Components holds the initialized services a run needs. Centralizing them
// here keeps lifecycle management in one place.
type Components struct {
	Orchestrator *orchestrator.Orchestrator
	ReportWriter *report.Writer
	Store        *store.Store

	browserManager *browser.Manager
	dbPool         *pgxpool.Pool
	logger         *zap.Logger
}

// BuildComponents wires the full engine from configuration. The store is
// optional: no postgres URL means file reports only.
func BuildComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := observability.GetLogger()

	reasoning := oracle.NewReasoning(cfg.Oracle.Reasoning, logger)
	vision := oracle.NewVision(cfg.Oracle.Vision, logger)

	planCompiler, err := compiler.New(cfg.Compiler, reasoning, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize compiler: %w", err)
	}

	manager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	sessions := func(ctx context.Context) (schemas.Session, error) {
		return manager.NewSession(ctx)
	}
	executors := func(session schemas.Session) orchestrator.StepRunner {
		return executor.New(session, vision, cfg.Executor, logger)
	}

	c := &Components{
		Orchestrator: orchestrator.New(
			planCompiler,
			sessions,
			executors,
			diagnostics.NewAnalyzer(logger),
			logger,
		),
		ReportWriter:   report.NewWriter(cfg.Report, logger),
		browserManager: manager,
		logger:         logger,
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			manager.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		runStore, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			manager.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		c.Store = runStore
		c.dbPool = pool
	}

	return c, nil
}

// Shutdown releases browser and database resources. Safe to call once the
// run report has been written.
func (c *Components) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if c.browserManager != nil {
		c.browserManager.Shutdown(ctx)
		c.logger.Debug("Browser manager stopped.")
	}
	if c.dbPool != nil {
		c.dbPool.Close()
		c.logger.Debug("Database pool closed.")
	}
}
