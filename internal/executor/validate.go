package executor

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
)

// validate checks an expectation against the live page. The cheap DOM
// strategies get the whole retry budget first; the vision oracle is
// consulted exactly once, only after they are exhausted. Ordering matters:
// most validation failures are timing, and timing is solved by retrying,
// not by a second opinion.
func (e *Executor) validate(ctx context.Context, step schemas.Step) (string, error) {
	e.stabilize(ctx)

	exp := expectation(step)
	switch exp.Kind {
	case schemas.ExpectEquals:
		return e.validateEquals(ctx, step, exp)
	case schemas.ExpectContains:
		return e.validateContains(ctx, step, exp)
	default:
		return e.validateExists(ctx, step, exp)
	}
}

// expectation normalizes a validate step that the compiler left without an
// explicit expectation into an exists check on its visible text.
func expectation(step schemas.Step) schemas.Expectation {
	if step.Expectation != nil && step.Expectation.Expected != "" {
		return *step.Expectation
	}
	expected := step.Payload.Value
	if expected == "" {
		expected = elementLabel(step)
	}
	return schemas.Expectation{Kind: schemas.ExpectExists, Expected: expected}
}

func (e *Executor) validateExists(ctx context.Context, step schemas.Step, exp schemas.Expectation) (string, error) {
	strategies := existsStrategies(step, exp.Expected)

	for attempt := 0; attempt < e.cfg.ValidateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.ValidateRetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		for _, sel := range strategies {
			found, err := e.session.Exists(ctx, sel)
			if err != nil {
				continue
			}
			if found {
				return sel, nil
			}
		}
		if found, err := e.session.ContainsText(ctx, exp.Expected); err == nil && found {
			return "", nil
		}
	}

	// DOM strategies exhausted. One vision pass decides whether the element
	// is present under a rendering the selectors cannot reach.
	if res := e.resolveVision(ctx, step); res != nil && res.Found {
		e.logger.Info("Validation satisfied by vision after DOM retries.",
			zap.String("expected", exp.Expected),
			zap.String("selector", res.PrimarySelector),
		)
		return res.PrimarySelector, nil
	}
	return "", &schemas.ValidationFailedError{Kind: schemas.ExpectExists, Expected: exp.Expected}
}

func (e *Executor) validateContains(ctx context.Context, step schemas.Step, exp schemas.Expectation) (string, error) {
	// Scoped to an element when the step names one, page-wide otherwise.
	// Either way the check compares text directly, without a locate chain.
	if step.TargetSelector == "" {
		for attempt := 0; attempt < e.cfg.ValidateRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(e.cfg.ValidateRetryDelay):
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			if found, err := e.session.ContainsText(ctx, exp.Expected); err == nil && found {
				return "", nil
			}
		}
		return "", &schemas.ValidationFailedError{Kind: schemas.ExpectContains, Expected: exp.Expected}
	}

	var actual string
	for attempt := 0; attempt < e.cfg.ValidateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.ValidateRetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, err := e.session.Text(ctx, step.TargetSelector)
		if err != nil {
			continue
		}
		actual = text
		if strings.Contains(text, exp.Expected) {
			return step.TargetSelector, nil
		}
	}
	return step.TargetSelector, &schemas.ValidationFailedError{
		Kind: schemas.ExpectContains, Expected: exp.Expected, Actual: actual,
	}
}

func (e *Executor) validateEquals(ctx context.Context, step schemas.Step, exp schemas.Expectation) (string, error) {
	selector := step.TargetSelector
	if selector == "" {
		located, err := e.locate(ctx, step)
		if err != nil {
			return "", err
		}
		selector = located
	}

	var actual string
	for attempt := 0; attempt < e.cfg.ValidateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.ValidateRetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, err := e.session.Text(ctx, selector)
		if err != nil {
			continue
		}
		actual = strings.TrimSpace(text)
		if actual == exp.Expected {
			return selector, nil
		}
	}
	return selector, &schemas.ValidationFailedError{
		Kind: schemas.ExpectEquals, Expected: exp.Expected, Actual: actual,
	}
}

// existsStrategies is the selector set an exists check probes each attempt:
// the step's own selector when present, then the text forms.
func existsStrategies(step schemas.Step, expected string) []string {
	out := make([]string, 0, 3)
	if step.TargetSelector != "" {
		out = append(out, step.TargetSelector)
	}
	if expected != "" {
		out = append(out, "text="+expected)
	}
	return out
}
