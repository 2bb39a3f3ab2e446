// File: cmd/report.go
package cmd

import (
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/probelight/specdriver/internal/observability"
	"github.com/probelight/specdriver/internal/report"
	"github.com/probelight/specdriver/internal/store"
)

func newReportCmd() *cobra.Command {
	var (
		runID string
		limit int
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect persisted run history",
		Long:  "Lists recent runs from the run-history database, or prints the full summary of one run when --run-id is given. Requires postgres.url to be configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("run history requires postgres.url (SPECDRIVER_POSTGRES_URL)")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			runStore, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			if runID != "" {
				runReport, err := runStore.GetReport(ctx, runID)
				if err != nil {
					return err
				}
				report.Summarize(runReport, os.Stdout)
				return nil
			}

			summaries, err := runStore.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}
			for _, s := range summaries {
				verdict := "PASS"
				if !s.Passed {
					verdict = "FAIL"
				}
				fmt.Printf("%s  %s  [%s]  %d/%d scenarios passed\n",
					s.StartedAt.Format("2006-01-02 15:04:05"), s.RunID, verdict, s.ScenariosPassed, s.Scenarios)
			}
			return nil
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "print the full summary of one run")
	reportCmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs to list")
	return reportCmd
}
