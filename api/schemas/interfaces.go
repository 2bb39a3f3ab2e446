package schemas

import (
	"context"
	"time"
)

// InterpretRequest is the single batched request the compiler sends to the
// reasoning oracle for one feature file.
type InterpretRequest struct {
	FeatureName string     `json:"featureName"`
	Description string     `json:"description,omitempty"`
	Scenarios   []Scenario `json:"scenarios"`
}

// ReasoningOracle converts a raw parsed scenario set into a typed plan.
// The oracle must return every targetSelector empty; the compiler treats a
// non-empty value as a prompt contract violation and blanks it.
type ReasoningOracle interface {
	Interpret(ctx context.Context, req InterpretRequest) (*ExecutionPlan, error)
}

// ResolveRequest carries everything the vision oracle needs to turn an
// instruction into a triable element reference. Screenshot is a fresh,
// reduced-resolution capture taken immediately before the call.
type ResolveRequest struct {
	Instruction string
	Action      ActionKind
	Payload     Payload
	Screenshot  []byte
}

// VisionOracle maps (screenshot, instruction) to a ranked resolution.
// Returned selectors are untrusted strings to be tried, not guaranteed valid.
type VisionOracle interface {
	Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error)
}

// Session is the per-feature browser session the executor drives. One step
// is in flight at a time; ownership is exclusive and sequential.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Exists reports whether the selector matches a visible node right now,
	// without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	// ClickDOM dispatches a click at the DOM level, bypassing visibility and
	// actionability preconditions. Last resort after Click fails.
	ClickDOM(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	FillDOM(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	Scroll(ctx context.Context, direction string) error
	// Text returns the trimmed text content of the first match.
	Text(ctx context.Context, selector string) (string, error)
	// ContainsText reports whether the visible page text contains needle.
	ContainsText(ctx context.Context, needle string) (bool, error)
	// Screenshot captures a compressed, reduced-quality JPEG of the viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// DOM returns the current outer HTML of the document.
	DOM(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expr string, out any) error
	// WaitQuiescence blocks until network and load activity settle or the
	// bound elapses. Timing out is not an error.
	WaitQuiescence(ctx context.Context, bound time.Duration) error
	// PageErrors drains console errors and failed requests collected since
	// the last call.
	PageErrors() []PageError
	Close(ctx context.Context) error
}

// Store persists finished run reports for post-run inspection. Optional:
// a nil store is valid and means "file report only".
type Store interface {
	SaveReport(ctx context.Context, report *RunReport) error
}
