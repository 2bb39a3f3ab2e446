package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
)

func testReport() *schemas.RunReport {
	r := &schemas.RunReport{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Features: []schemas.FeatureResult{{
			Feature: "Login",
			File:    "login.feature",
			Passed:  true,
			Scenarios: []schemas.ScenarioResult{{
				Name:   "Successful login",
				Status: schemas.ScenarioPassed,
				Steps:  []schemas.StepResult{{Success: true}},
			}},
		}},
	}
	r.FinishedAt = r.StartedAt.Add(time.Minute)
	r.Recount()
	return r
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveReport(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist run and scenario rows in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		report := testReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
			WithArgs(report.RunID, report.StartedAt, report.FinishedAt, true, 1, 1, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(
			[]string{"scenario_results"},
			[]string{"run_id", "file", "feature", "scenario", "status", "steps", "error", "recorded_at"},
		).WillReturnResult(1)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		require.NoError(t, store.SaveReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the run insert fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		insertErr := errors.New("relation runs does not exist")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err = store.SaveReport(ctx, testReport())
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRuns(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "started_at", "finished_at", "passed", "scenarios", "scenarios_passed"}).
		AddRow("run-2", started.Add(time.Hour), started.Add(time.Hour+time.Minute), false, 3, 2).
		AddRow("run-1", started, started.Add(time.Minute), true, 1, 1)
	mockPool.ExpectQuery(regexp.QuoteMeta("FROM runs")).
		WithArgs(5).
		WillReturnRows(rows)

	summaries, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "run-2", summaries[0].RunID)
	assert.False(t, summaries[0].Passed)
	assert.Equal(t, 1, summaries[1].ScenariosPassed)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetReportRoundTrip(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	document := `{"runId":"run-1","features":[],"totals":{"features":0}}`
	mockPool.ExpectQuery(regexp.QuoteMeta("SELECT report FROM runs")).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow(document))

	report, err := store.GetReport(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
