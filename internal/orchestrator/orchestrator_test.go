package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/mocks"
)

type mockCompiler struct{ mock.Mock }

func (m *mockCompiler) CompileFile(ctx context.Context, path string) (*schemas.ExecutionPlan, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ExecutionPlan), args.Error(1)
}

type mockRunner struct{ mock.Mock }

func (m *mockRunner) ExecuteStep(ctx context.Context, step schemas.Step) schemas.StepResult {
	args := m.Called(ctx, step)
	return args.Get(0).(schemas.StepResult)
}

type mockDiagnoser struct{ mock.Mock }

func (m *mockDiagnoser) Diagnose(ctx context.Context, session schemas.Session, result *schemas.StepResult) {
	m.Called(ctx, session, result)
}

func passingSession(t *testing.T) (*mocks.MockSession, SessionFactory) {
	t.Helper()
	session := new(mocks.MockSession)
	session.On("Close", mock.Anything).Return(nil)
	return session, func(ctx context.Context) (schemas.Session, error) { return session, nil }
}

func fixedExecutor(runner StepRunner) ExecutorFactory {
	return func(schemas.Session) StepRunner { return runner }
}

func step(text string) schemas.Step {
	return schemas.Step{OriginalText: text, Action: schemas.ActionClick}
}

func planWith(steps ...schemas.Step) *schemas.ExecutionPlan {
	return &schemas.ExecutionPlan{
		FeatureName: "Login",
		Scenarios:   []schemas.Scenario{{Name: "Successful login", Steps: steps}},
	}
}

func TestRunFailFastSkipsRemainingSteps(t *testing.T) {
	compiler := new(mockCompiler)
	compiler.On("CompileFile", mock.Anything, "login.feature").
		Return(planWith(step("one"), step("two"), step("three")), nil)

	runner := new(mockRunner)
	runner.On("ExecuteStep", mock.Anything, step("one")).
		Return(schemas.StepResult{Success: true}).Once()
	runner.On("ExecuteStep", mock.Anything, step("two")).
		Return(schemas.StepResult{Success: false, Error: "no element found"}).Once()

	_, sessions := passingSession(t)
	o := New(compiler, sessions, fixedExecutor(runner), nil, zaptest.NewLogger(t))
	report, err := o.Run(context.Background(), []string{"login.feature"})
	require.NoError(t, err)

	sc := report.Features[0].Scenarios[0]
	assert.Equal(t, schemas.ScenarioFailed, sc.Status)
	// The failing step is recorded; the third step never ran.
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, "no element found", sc.Error)
	runner.AssertNotCalled(t, "ExecuteStep", mock.Anything, step("three"))
	assert.True(t, report.Failed())
	assert.Equal(t, 1, report.Totals.StepsFailed)
}

func TestRunAllStepsPassing(t *testing.T) {
	compiler := new(mockCompiler)
	compiler.On("CompileFile", mock.Anything, "login.feature").
		Return(planWith(step("one"), step("two")), nil)

	runner := new(mockRunner)
	runner.On("ExecuteStep", mock.Anything, mock.Anything).
		Return(schemas.StepResult{Success: true}).Twice()

	session, sessions := passingSession(t)
	o := New(compiler, sessions, fixedExecutor(runner), nil, zaptest.NewLogger(t))
	report, err := o.Run(context.Background(), []string{"login.feature"})
	require.NoError(t, err)

	require.Len(t, report.Features, 1)
	assert.True(t, report.Features[0].Passed)
	assert.Equal(t, schemas.ScenarioPassed, report.Features[0].Scenarios[0].Status)
	assert.False(t, report.Failed())
	session.AssertCalled(t, "Close", mock.Anything)
}

func TestCompileFailureIsFatalToThatFileOnly(t *testing.T) {
	compiler := new(mockCompiler)
	compiler.On("CompileFile", mock.Anything, "broken.feature").
		Return(nil, &schemas.ParseError{File: "broken.feature", Reason: "no feature block"})
	compiler.On("CompileFile", mock.Anything, "ok.feature").
		Return(planWith(step("one")), nil)

	runner := new(mockRunner)
	runner.On("ExecuteStep", mock.Anything, mock.Anything).
		Return(schemas.StepResult{Success: true})

	_, sessions := passingSession(t)
	o := New(compiler, sessions, fixedExecutor(runner), nil, zaptest.NewLogger(t))
	report, err := o.Run(context.Background(), []string{"broken.feature", "ok.feature"})
	require.NoError(t, err)

	require.Len(t, report.Features, 2)
	assert.Equal(t, schemas.ScenarioError, report.Features[0].Scenarios[0].Status)
	assert.Equal(t, schemas.ScenarioPassed, report.Features[1].Scenarios[0].Status)
}

func TestSessionFailureErrorsTheFeature(t *testing.T) {
	compiler := new(mockCompiler)
	compiler.On("CompileFile", mock.Anything, mock.Anything).Return(planWith(step("one")), nil)

	sessions := func(context.Context) (schemas.Session, error) {
		return nil, errors.New("browser did not start")
	}
	o := New(compiler, sessions, fixedExecutor(new(mockRunner)), nil, zaptest.NewLogger(t))
	report, err := o.Run(context.Background(), []string{"login.feature"})
	require.NoError(t, err)

	sc := report.Features[0].Scenarios[0]
	assert.Equal(t, schemas.ScenarioError, sc.Status)
	assert.Contains(t, sc.Error, "browser did not start")
}

type panickingRunner struct{}

func (panickingRunner) ExecuteStep(context.Context, schemas.Step) schemas.StepResult {
	panic("nil dereference in resolver")
}

func TestScenarioPanicBecomesErrorState(t *testing.T) {
	compiler := new(mockCompiler)
	compiler.On("CompileFile", mock.Anything, mock.Anything).Return(planWith(step("one")), nil)

	_, sessions := passingSession(t)
	o := New(compiler, sessions, fixedExecutor(panickingRunner{}), nil, zaptest.NewLogger(t))
	report, err := o.Run(context.Background(), []string{"login.feature"})
	require.NoError(t, err)

	sc := report.Features[0].Scenarios[0]
	assert.Equal(t, schemas.ScenarioError, sc.Status)
	assert.Contains(t, sc.Error, "internal error")
	assert.True(t, report.Failed())
}

func TestDiagnoserRunsOnFailedStepsOnly(t *testing.T) {
	compiler := new(mockCompiler)
	compiler.On("CompileFile", mock.Anything, mock.Anything).
		Return(planWith(step("one"), step("two")), nil)

	runner := new(mockRunner)
	runner.On("ExecuteStep", mock.Anything, step("one")).
		Return(schemas.StepResult{Success: true}).Once()
	runner.On("ExecuteStep", mock.Anything, step("two")).
		Return(schemas.StepResult{Success: false, Error: "boom"}).Once()

	diagnoser := new(mockDiagnoser)
	diagnoser.On("Diagnose", mock.Anything, mock.Anything, mock.Anything).Once()

	_, sessions := passingSession(t)
	o := New(compiler, sessions, fixedExecutor(runner), diagnoser, zaptest.NewLogger(t))
	_, err := o.Run(context.Background(), []string{"login.feature"})
	require.NoError(t, err)

	diagnoser.AssertNumberOfCalls(t, "Diagnose", 1)
}

func TestRunRejectsEmptyFileList(t *testing.T) {
	_, sessions := passingSession(t)
	o := New(new(mockCompiler), sessions, fixedExecutor(new(mockRunner)), nil, zaptest.NewLogger(t))
	_, err := o.Run(context.Background(), nil)
	assert.Error(t, err)
}
