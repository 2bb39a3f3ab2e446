// Package executor turns a compiled step into browser interaction. Each step
// runs the same pipeline: resolve a target, locate it on the live page, act,
// wait for the page to settle, then capture evidence for the report.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// Executor drives one browser session through the steps of a scenario.
// It is stateless across steps apart from the session it holds.
type Executor struct {
	session schemas.Session
	vision  schemas.VisionOracle
	cfg     config.ExecutorConfig
	logger  *zap.Logger
}

// New builds an executor for one session. vision may be nil when resolution
// runs in deterministic-only mode.
func New(session schemas.Session, vision schemas.VisionOracle, cfg config.ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		session: session,
		vision:  vision,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

// ExecuteStep runs a single step to completion and always returns a result,
// even when the step failed. The caller decides what a failure means for the
// rest of the scenario.
func (e *Executor) ExecuteStep(ctx context.Context, step schemas.Step) schemas.StepResult {
	started := time.Now()
	result := schemas.StepResult{
		Action:      step.Action,
		Description: stepLabel(step),
		Timestamp:   started.UTC(),
	}

	e.logger.Info("Executing step.",
		zap.String("action", string(step.Action)),
		zap.String("step", result.Description),
	)

	selectorUsed, err := e.perform(ctx, step)
	result.Duration = time.Since(started)
	result.SelectorUsed = selectorUsed
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("Step failed.",
			zap.String("step", result.Description),
			zap.Error(err),
		)
	}

	// Evidence capture is best effort and must never change the verdict.
	capCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if shot, shotErr := e.session.Screenshot(capCtx); shotErr == nil {
		result.Screenshot = shot
	} else {
		e.logger.Debug("Evidence screenshot failed.", zap.Error(shotErr))
	}
	result.PageErrors = e.session.PageErrors()

	return result
}

func (e *Executor) perform(ctx context.Context, step schemas.Step) (string, error) {
	switch step.Action {
	case schemas.ActionNavigate:
		return "", e.navigate(ctx, step)
	case schemas.ActionClick:
		return e.click(ctx, step)
	case schemas.ActionType:
		return e.typeInto(ctx, step)
	case schemas.ActionSelect:
		return e.selectOption(ctx, step)
	case schemas.ActionValidate:
		return e.validate(ctx, step)
	case schemas.ActionWait:
		return "", e.wait(ctx, step)
	case schemas.ActionHover:
		return e.hover(ctx, step)
	case schemas.ActionScroll:
		return "", e.scroll(ctx, step)
	default:
		return "", &schemas.ActionFailedError{
			Action: step.Action,
			Err:    fmt.Errorf("no browser primitive for this step"),
		}
	}
}

func (e *Executor) navigate(ctx context.Context, step schemas.Step) error {
	url := strings.TrimSpace(step.Payload.Value)
	if url == "" {
		return &schemas.ActionFailedError{Action: step.Action, Err: fmt.Errorf("navigate step carries no URL")}
	}
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()
	if err := e.session.Navigate(navCtx, url); err != nil {
		return &schemas.ActionFailedError{Action: step.Action, Selector: url, Err: err}
	}
	e.stabilize(ctx)
	return nil
}

func (e *Executor) click(ctx context.Context, step schemas.Step) (string, error) {
	selector, err := e.locate(ctx, step)
	if err != nil {
		return "", err
	}
	if err := e.session.Click(ctx, selector); err != nil {
		e.logger.Debug("Interactive click failed, trying DOM dispatch.",
			zap.String("selector", selector), zap.Error(err))
		if domErr := e.session.ClickDOM(ctx, selector); domErr != nil {
			return selector, &schemas.ActionFailedError{Action: step.Action, Selector: selector, Err: err}
		}
	}
	e.stabilize(ctx)
	return selector, nil
}

func (e *Executor) typeInto(ctx context.Context, step schemas.Step) (string, error) {
	targets, err := e.fieldTargets(ctx, step)
	if err != nil {
		return "", err
	}

	var used []string
	for _, target := range targets {
		selector, locErr := e.locateField(ctx, step, target)
		if locErr != nil {
			return strings.Join(used, ", "), locErr
		}
		if fillErr := e.session.Fill(ctx, selector, target.Value); fillErr != nil {
			e.logger.Debug("Interactive fill failed, trying DOM dispatch.",
				zap.String("selector", selector), zap.Error(fillErr))
			if domErr := e.session.FillDOM(ctx, selector, target.Value); domErr != nil {
				return strings.Join(used, ", "), &schemas.ActionFailedError{
					Action: step.Action, Selector: selector, Err: fillErr,
				}
			}
		}
		used = append(used, selector)
	}
	e.stabilize(ctx)
	return strings.Join(used, ", "), nil
}

// fieldTargets expands a type step into (label, selector, value) triples.
// Vision resolution contributes selectors when available; otherwise labels
// alone drive the deterministic locate chain.
func (e *Executor) fieldTargets(ctx context.Context, step schemas.Step) ([]schemas.FieldTarget, error) {
	var targets []schemas.FieldTarget

	if res := e.resolveVision(ctx, step); res != nil && len(res.AuxiliaryTargets) > 0 {
		for _, aux := range res.AuxiliaryTargets {
			value := aux.Value
			if value == "" {
				value = step.Payload.Fields[aux.Label]
			}
			if value == "" && len(step.Payload.Fields) == 0 {
				value = step.Payload.Value
			}
			targets = append(targets, schemas.FieldTarget{Label: aux.Label, Selector: aux.Selector, Value: value})
		}
		return targets, nil
	}

	if len(step.Payload.Fields) > 0 {
		for _, kv := range sortedFields(step.Payload.Fields) {
			targets = append(targets, schemas.FieldTarget{Label: kv.label, Value: kv.value})
		}
		return targets, nil
	}

	if step.Payload.Value != "" {
		targets = append(targets, schemas.FieldTarget{Label: stepLabel(step), Value: step.Payload.Value})
		return targets, nil
	}
	return nil, &schemas.ActionFailedError{Action: step.Action, Err: fmt.Errorf("type step carries no input data")}
}

func (e *Executor) selectOption(ctx context.Context, step schemas.Step) (string, error) {
	selector, err := e.locate(ctx, step)
	if err != nil {
		return "", err
	}
	if err := e.session.SelectOption(ctx, selector, step.Payload.Value); err != nil {
		return selector, &schemas.ActionFailedError{Action: step.Action, Selector: selector, Err: err}
	}
	e.stabilize(ctx)
	return selector, nil
}

func (e *Executor) hover(ctx context.Context, step schemas.Step) (string, error) {
	selector, err := e.locate(ctx, step)
	if err != nil {
		return "", err
	}
	if err := e.session.Hover(ctx, selector); err != nil {
		return selector, &schemas.ActionFailedError{Action: step.Action, Selector: selector, Err: err}
	}
	e.stabilize(ctx)
	return selector, nil
}

func (e *Executor) scroll(ctx context.Context, step schemas.Step) error {
	direction := "down"
	lowered := strings.ToLower(step.OriginalText + " " + step.Payload.Value)
	if strings.Contains(lowered, "up") || strings.Contains(lowered, "top") {
		direction = "up"
	}
	if err := e.session.Scroll(ctx, direction); err != nil {
		return &schemas.ActionFailedError{Action: step.Action, Err: err}
	}
	e.stabilize(ctx)
	return nil
}

// wait blocks for an explicit duration when the step names one ("wait 3
// seconds"), otherwise until page quiescence.
func (e *Executor) wait(ctx context.Context, step schemas.Step) error {
	if d := parseWaitDuration(step); d > 0 {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.session.WaitQuiescence(ctx, e.cfg.QuiescenceTimeout)
}

func parseWaitDuration(step schemas.Step) time.Duration {
	for _, token := range strings.Fields(step.OriginalText + " " + step.Payload.Value) {
		if n, err := strconv.Atoi(strings.Trim(token, `"'`)); err == nil && n > 0 && n <= 300 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

// stabilize waits for the page to settle after a mutating action. A timeout
// is tolerated: validate steps carry their own retry budget.
func (e *Executor) stabilize(ctx context.Context) {
	if err := e.session.WaitQuiescence(ctx, e.cfg.QuiescenceTimeout); err != nil {
		e.logger.Debug("Stabilization interrupted.", zap.Error(err))
	}
}

// resolveVision asks the vision oracle for a resolution. Any failure,
// including an unreachable oracle, degrades to nil so the deterministic
// chain takes over.
func (e *Executor) resolveVision(ctx context.Context, step schemas.Step) *schemas.Resolution {
	if e.vision == nil || !e.cfg.VisionEnabled {
		return nil
	}
	shot, err := e.session.Screenshot(ctx)
	if err != nil {
		e.logger.Debug("Screenshot for vision resolution failed.", zap.Error(err))
		return nil
	}
	res, err := e.vision.Resolve(ctx, schemas.ResolveRequest{
		Instruction: stepLabel(step),
		Action:      step.Action,
		Payload:     step.Payload,
		Screenshot:  shot,
	})
	if err != nil {
		e.logger.Warn("Vision resolution failed, falling back to deterministic locate.",
			zap.String("step", stepLabel(step)), zap.Error(err))
		return nil
	}
	e.logger.Debug("Vision resolution.",
		zap.String("selector", res.PrimarySelector),
		zap.String("strategy", res.Strategy),
		zap.String("confidence", string(res.Confidence)),
	)
	return res
}

// stepLabel is the human-readable identity of a step: the description when
// the compiler produced one, otherwise the source text.
func stepLabel(step schemas.Step) string {
	if step.Description != "" {
		return step.Description
	}
	return step.OriginalText
}

type fieldKV struct{ label, value string }

func sortedFields(fields map[string]string) []fieldKV {
	out := make([]fieldKV, 0, len(fields))
	for label, value := range fields {
		out = append(out, fieldKV{label, value})
	}
	// Stable field order keeps form filling deterministic across runs.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].label < out[j-1].label; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
