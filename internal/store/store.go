// Package store persists run history to PostgreSQL. Persistence is optional;
// the engine runs fully without it and the file report stays authoritative.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// SaveReport writes the run header and its scenario rows in one transaction.
// The full report document goes into a jsonb column so later tooling can dig
// into step evidence without a schema migration.
func (s *Store) SaveReport(ctx context.Context, report *schemas.RunReport) error {
	document, err := jsoniter.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const insertRun = `
        INSERT INTO runs (id, started_at, finished_at, passed, scenarios, scenarios_passed, report)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	if _, err := tx.Exec(ctx, insertRun,
		report.RunID, report.StartedAt, report.FinishedAt, !report.Failed(),
		report.Totals.Scenarios, report.Totals.ScenariosPassed, string(document),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	if err := s.persistScenarios(ctx, tx, report); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run persisted.", zap.String("run_id", report.RunID))
	return nil
}

func (s *Store) persistScenarios(ctx context.Context, tx pgx.Tx, report *schemas.RunReport) error {
	var rows [][]interface{}
	now := time.Now()
	for _, f := range report.Features {
		for _, sc := range f.Scenarios {
			rows = append(rows, []interface{}{
				report.RunID, f.File, f.Feature, sc.Name,
				string(sc.Status), len(sc.Steps), sc.Error, now,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"scenario_results"},
		[]string{"run_id", "file", "feature", "scenario", "status", "steps", "error", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy scenario results: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied scenario count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Passed          bool
	Scenarios       int
	ScenariosPassed int
}

// RecentRuns returns the newest runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	const query = `
        SELECT id, started_at, finished_at, passed, scenarios, scenarios_passed
        FROM runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Passed, &r.Scenarios, &r.ScenariosPassed); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		summaries = append(summaries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}

// GetReport loads the full persisted report of one run.
func (s *Store) GetReport(ctx context.Context, runID string) (*schemas.RunReport, error) {
	const query = `SELECT report FROM runs WHERE id = $1;`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("run %s not found", runID)
	}

	var document string
	if err := rows.Scan(&document); err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	var report schemas.RunReport
	if err := jsoniter.UnmarshalFromString(document, &report); err != nil {
		return nil, fmt.Errorf("failed to decode stored report: %w", err)
	}
	return &report, nil
}
