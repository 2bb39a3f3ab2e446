// Package orchestrator runs compiled plans against live browser sessions and
// assembles the run report. One session per feature file, scenarios strictly
// sequential, fail-fast within a scenario.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
)

// Compiler turns one feature source file into an execution plan.
type Compiler interface {
	CompileFile(ctx context.Context, path string) (*schemas.ExecutionPlan, error)
}

// SessionFactory opens an isolated browser session.
type SessionFactory func(ctx context.Context) (schemas.Session, error)

// StepRunner executes one step against the session it was built around.
type StepRunner interface {
	ExecuteStep(ctx context.Context, step schemas.Step) schemas.StepResult
}

// ExecutorFactory binds a step runner to a session.
type ExecutorFactory func(session schemas.Session) StepRunner

// Diagnoser attaches a best-effort root-cause diagnosis to a failed step.
// It must never fail the run; errors are logged and discarded.
type Diagnoser interface {
	Diagnose(ctx context.Context, session schemas.Session, result *schemas.StepResult)
}

// Orchestrator coordinates compilation, session lifecycle and execution for
// a whole run.
type Orchestrator struct {
	compiler    Compiler
	newSession  SessionFactory
	newExecutor ExecutorFactory
	diagnoser   Diagnoser
	logger      *zap.Logger
}

// New wires an orchestrator. diagnoser may be nil to skip failure analysis.
func New(compiler Compiler, sessions SessionFactory, executors ExecutorFactory, diagnoser Diagnoser, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		compiler:    compiler,
		newSession:  sessions,
		newExecutor: executors,
		diagnoser:   diagnoser,
		logger:      logger.Named("orchestrator"),
	}
}

// Run compiles and executes every feature file in order and returns the
// aggregated report. The error return covers orchestration itself; scenario
// failures live in the report, not the error.
func (o *Orchestrator) Run(ctx context.Context, featureFiles []string) (*schemas.RunReport, error) {
	if len(featureFiles) == 0 {
		return nil, fmt.Errorf("no feature files to run")
	}

	report := &schemas.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	o.logger.Info("Run starting.",
		zap.String("run_id", report.RunID),
		zap.Int("features", len(featureFiles)),
	)

	for _, file := range featureFiles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.Features = append(report.Features, o.runFeature(ctx, file))
	}

	report.FinishedAt = time.Now().UTC()
	report.Recount()
	o.logger.Info("Run finished.",
		zap.String("run_id", report.RunID),
		zap.Int("scenarios_passed", report.Totals.ScenariosPassed),
		zap.Int("scenarios_failed", report.Totals.ScenariosFailed),
		zap.Int("scenarios_errored", report.Totals.ScenariosErrored),
	)
	return report, nil
}

// runFeature compiles one file and drives its scenarios through a fresh
// session. A compile or session failure is fatal to this feature only.
func (o *Orchestrator) runFeature(ctx context.Context, file string) schemas.FeatureResult {
	logger := o.logger.With(zap.String("file", file))
	result := schemas.FeatureResult{File: file}

	plan, err := o.compiler.CompileFile(ctx, file)
	if err != nil {
		logger.Error("Feature compilation failed.", zap.Error(err))
		result.Scenarios = []schemas.ScenarioResult{{
			Name:   "compilation",
			Status: schemas.ScenarioError,
			Error:  err.Error(),
		}}
		return result
	}
	result.Feature = plan.FeatureName

	session, err := o.newSession(ctx)
	if err != nil {
		logger.Error("Browser session could not be opened.", zap.Error(err))
		result.Scenarios = []schemas.ScenarioResult{{
			Name:   "session",
			Status: schemas.ScenarioError,
			Error:  err.Error(),
		}}
		return result
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn("Session close failed.", zap.Error(err))
		}
	}()

	executor := o.newExecutor(session)
	result.Passed = true
	for _, scenario := range plan.Scenarios {
		sr := o.runScenario(ctx, executor, session, scenario)
		if sr.Status != schemas.ScenarioPassed {
			result.Passed = false
		}
		result.Scenarios = append(result.Scenarios, sr)
	}
	return result
}

// runScenario walks the steps in order and stops at the first failure; the
// remaining steps are skipped, never marked failed. A panic anywhere in the
// pipeline lands the scenario in the error state instead of killing the run.
func (o *Orchestrator) runScenario(ctx context.Context, executor StepRunner, session schemas.Session, scenario schemas.Scenario) (result schemas.ScenarioResult) {
	logger := o.logger.With(zap.String("scenario", scenario.Name))
	result = schemas.ScenarioResult{Name: scenario.Name, Status: schemas.ScenarioRunning}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Scenario panicked.", zap.Any("panic", r))
			result.Status = schemas.ScenarioError
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	logger.Info("Scenario starting.", zap.Int("steps", len(scenario.Steps)))
	for i, step := range scenario.Steps {
		if ctx.Err() != nil {
			result.Status = schemas.ScenarioError
			result.Error = ctx.Err().Error()
			return result
		}

		stepResult := executor.ExecuteStep(ctx, step)
		if !stepResult.Success && o.diagnoser != nil {
			o.diagnoser.Diagnose(ctx, session, &stepResult)
		}
		result.Steps = append(result.Steps, stepResult)

		if !stepResult.Success {
			logger.Warn("Scenario failed, skipping remaining steps.",
				zap.Int("failed_step", i+1),
				zap.Int("skipped", len(scenario.Steps)-i-1),
				zap.String("error", stepResult.Error),
			)
			result.Status = schemas.ScenarioFailed
			result.Error = stepResult.Error
			return result
		}
	}

	logger.Info("Scenario passed.")
	result.Status = schemas.ScenarioPassed
	return result
}
