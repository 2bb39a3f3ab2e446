package schemas

import "fmt"

// ParseError means a source file contained no usable feature block. Fatal to
// that file only; other files in the run are unaffected.
type ParseError struct {
	File   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.File, e.Reason)
}

// ResolutionError means the vision oracle was unreachable or returned
// content that cannot be parsed as the expected shape. It triggers the
// locate fallback chain and is never fatal by itself.
type ResolutionError struct {
	Instruction string
	Err         error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Instruction, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ElementNotFoundError means every locate strategy was exhausted without a
// usable element. Step-fatal, scenario-recoverable.
type ElementNotFoundError struct {
	Description string
	Tried       []string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no element found for %q after %d strategies", e.Description, len(e.Tried))
}

// ActionFailedError means the element was located but both the interactive
// and the DOM-bypass invocation failed. Step-fatal, scenario-recoverable.
type ActionFailedError struct {
	Action   ActionKind
	Selector string
	Err      error
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("%s on %q failed: %v", e.Action, e.Selector, e.Err)
}

func (e *ActionFailedError) Unwrap() error { return e.Err }

// ValidationFailedError names the missing or mismatched expectation of a
// validate step. Step-fatal, scenario-recoverable.
type ValidationFailedError struct {
	Kind     ExpectationKind
	Expected string
	Actual   string
}

func (e *ValidationFailedError) Error() string {
	switch e.Kind {
	case ExpectExists:
		return fmt.Sprintf("expected text %q was not found on the page", e.Expected)
	default:
		return fmt.Sprintf("expected %s %q, got %q", e.Kind, e.Expected, e.Actual)
	}
}

// CacheError wraps a cache read or write problem. Always logged and treated
// as a miss, never fatal.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("plan cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// OracleInterpretationError means the reasoning oracle call failed or its
// output was unusable. The compiler degrades to the keyword heuristic.
type OracleInterpretationError struct {
	Err error
}

func (e *OracleInterpretationError) Error() string {
	return fmt.Sprintf("oracle interpretation failed: %v", e.Err)
}

func (e *OracleInterpretationError) Unwrap() error { return e.Err }
