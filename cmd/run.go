// File: cmd/run.go
package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/internal/observability"
	"github.com/probelight/specdriver/internal/report"
)

func newRunCmd() *cobra.Command {
	var (
		force    bool
		noVision bool
	)

	runCmd := &cobra.Command{
		Use:   "run [feature files or directories...]",
		Short: "Compile and execute feature files against a live browser",
		Long: `Compiles each feature file into an execution plan (cached by content hash),
opens one browser session per file and executes the scenarios in order.
The command exits non-zero when any scenario fails.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if force {
				cfg.Compiler.ForceRecompile = true
			}
			if noVision {
				cfg.Executor.VisionEnabled = false
			}

			files, err := collectFeatureFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no .feature files found under %s", strings.Join(args, ", "))
			}

			components, err := BuildComponents(ctx, cfg)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			runReport, err := components.Orchestrator.Run(ctx, files)
			if err != nil {
				return err
			}

			if path, err := components.ReportWriter.Write(runReport); err != nil {
				logger.Error("Report could not be written.", zap.Error(err))
			} else {
				logger.Info("Report available.", zap.String("path", path))
			}

			if components.Store != nil {
				// Persistence is best effort; the verdict already stands.
				if err := components.Store.SaveReport(ctx, runReport); err != nil {
					logger.Warn("Run history could not be persisted.", zap.Error(err))
				}
			}

			report.Summarize(runReport, os.Stdout)

			if runReport.Failed() {
				return fmt.Errorf("%d of %d scenarios did not pass",
					runReport.Totals.ScenariosFailed+runReport.Totals.ScenariosErrored,
					runReport.Totals.Scenarios)
			}
			return nil
		},
	}

	runCmd.Flags().BoolVar(&force, "force", false, "recompile plans even when a valid cache entry exists")
	runCmd.Flags().BoolVar(&noVision, "no-vision", false, "disable the vision oracle and rely on deterministic selectors only")
	return runCmd
}

// collectFeatureFiles expands files and directories into a sorted list of
// .feature sources. Order is deterministic so runs are comparable.
func collectFeatureFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".feature") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
