package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

func sampleReport() *schemas.RunReport {
	r := &schemas.RunReport{
		RunID:     "test-run",
		StartedAt: time.Now().UTC().Add(-time.Minute),
		Features: []schemas.FeatureResult{{
			Feature: "Login",
			File:    "login.feature",
			Passed:  false,
			Scenarios: []schemas.ScenarioResult{{
				Name:   "Successful login",
				Status: schemas.ScenarioFailed,
				Error:  "no element found",
				Steps: []schemas.StepResult{
					{Success: true, Action: schemas.ActionNavigate, Screenshot: []byte{0xff, 0xd8}},
					{Success: false, Action: schemas.ActionClick, Error: "no element found",
						Screenshot: []byte{0xff, 0xd8},
						Diagnosis:  &schemas.Diagnosis{Category: "element_absent", Summary: "gone"}},
				},
			}},
		}},
	}
	r.FinishedAt = time.Now().UTC()
	r.Recount()
	return r
}

func TestWriteProducesValidJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(config.ReportConfig{OutputDir: dir, Screenshots: true}, zaptest.NewLogger(t))

	path, err := w.Write(sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-test-run.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded schemas.RunReport
	require.NoError(t, jsoniter.Unmarshal(data, &decoded))
	assert.Equal(t, "test-run", decoded.RunID)
	assert.Equal(t, 1, decoded.Totals.StepsFailed)
	assert.NotEmpty(t, decoded.Features[0].Scenarios[0].Steps[0].Screenshot)
}

func TestWriteStripsScreenshotsWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(config.ReportConfig{OutputDir: dir, Screenshots: false}, zaptest.NewLogger(t))

	original := sampleReport()
	path, err := w.Write(original)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded schemas.RunReport
	require.NoError(t, jsoniter.Unmarshal(data, &decoded))
	for _, st := range decoded.Features[0].Scenarios[0].Steps {
		assert.Empty(t, st.Screenshot)
	}
	// The in-memory report keeps its evidence.
	assert.NotEmpty(t, original.Features[0].Scenarios[0].Steps[0].Screenshot)
}

func TestSummarizeListsVerdictsAndDiagnosis(t *testing.T) {
	var buf strings.Builder
	Summarize(sampleReport(), &buf)

	out := buf.String()
	assert.Contains(t, out, "[FAIL] Login")
	assert.Contains(t, out, "Successful login")
	assert.Contains(t, out, "diagnosis [element_absent]")
	assert.Contains(t, out, "1 features, 1 scenarios")
}
