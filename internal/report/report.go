// Package report renders finished runs: a machine-readable JSON artifact per
// run plus a human summary for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// Writer persists run reports to the configured output directory.
type Writer struct {
	cfg    config.ReportConfig
	logger *zap.Logger
}

func NewWriter(cfg config.ReportConfig, logger *zap.Logger) *Writer {
	return &Writer{cfg: cfg, logger: logger.Named("report")}
}

// Write serializes the report to <output_dir>/run-<id>.json and returns the
// path. Screenshots are stripped unless the config keeps them; they dominate
// the file size otherwise.
func (w *Writer) Write(report *schemas.RunReport) (string, error) {
	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	out := report
	if !w.cfg.Screenshots {
		out = withoutScreenshots(report)
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	path := filepath.Join(w.cfg.OutputDir, fmt.Sprintf("run-%s.json", report.RunID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	w.logger.Info("Report written.",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return path, nil
}

// withoutScreenshots deep-copies the result tree minus the image payloads.
// The original report stays intact for other sinks.
func withoutScreenshots(report *schemas.RunReport) *schemas.RunReport {
	clone := *report
	clone.Features = make([]schemas.FeatureResult, len(report.Features))
	for i, f := range report.Features {
		fc := f
		fc.Scenarios = make([]schemas.ScenarioResult, len(f.Scenarios))
		for j, sc := range f.Scenarios {
			scc := sc
			scc.Steps = make([]schemas.StepResult, len(sc.Steps))
			for k, st := range sc.Steps {
				st.Screenshot = nil
				scc.Steps[k] = st
			}
			fc.Scenarios[j] = scc
		}
		clone.Features[i] = fc
	}
	return &clone
}

// Summarize prints the human-readable run summary.
func Summarize(report *schemas.RunReport, out io.Writer) {
	fmt.Fprintf(out, "\nRun %s (%s)\n", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, f := range report.Features {
		mark := "PASS"
		if !f.Passed {
			mark = "FAIL"
		}
		name := f.Feature
		if name == "" {
			name = f.File
		}
		fmt.Fprintf(out, "  [%s] %s\n", mark, name)
		for _, sc := range f.Scenarios {
			fmt.Fprintf(out, "    %-6s %s (%d steps)\n", sc.Status, sc.Name, len(sc.Steps))
			if sc.Error != "" {
				fmt.Fprintf(out, "           %s\n", sc.Error)
			}
			for _, st := range sc.Steps {
				if st.Diagnosis != nil {
					fmt.Fprintf(out, "           diagnosis [%s]: %s\n", st.Diagnosis.Category, st.Diagnosis.Summary)
				}
			}
		}
	}
	t := report.Totals
	fmt.Fprintf(out, "\n  %d features, %d scenarios: %d passed, %d failed, %d errored (%d/%d steps failed)\n",
		t.Features, t.Scenarios, t.ScenariosPassed, t.ScenariosFailed, t.ScenariosErrored, t.StepsFailed, t.Steps)
}
