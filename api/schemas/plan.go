package schemas

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ActionKind identifies the browser primitive a step ultimately drives.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionSelect   ActionKind = "select"
	ActionValidate ActionKind = "validate"
	ActionWait     ActionKind = "wait"
	ActionHover    ActionKind = "hover"
	ActionScroll   ActionKind = "scroll"
	ActionUnknown  ActionKind = "unknown"
)

// ExpectationKind is the comparison a validate step performs.
type ExpectationKind string

const (
	ExpectExists   ExpectationKind = "exists"
	ExpectEquals   ExpectationKind = "equals"
	ExpectContains ExpectationKind = "contains"
)

// Expectation describes what a validate step checks on the page.
type Expectation struct {
	Kind     ExpectationKind `json:"kind"`
	Expected string          `json:"expected"`
}

// Payload carries step input data. It is either a single string (the value
// to type, the URL to open, the option to pick) or a field map for
// multi-field form steps. Exactly one of the two is set.
type Payload struct {
	Value  string
	Fields map[string]string
}

// IsEmpty reports whether the payload carries no data at all.
func (p Payload) IsEmpty() bool {
	return p.Value == "" && len(p.Fields) == 0
}

// MarshalJSON encodes the payload as a bare string or a JSON object,
// matching the shape the reasoning oracle produces.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p.Fields) > 0 {
		return jsoniter.Marshal(p.Fields)
	}
	return jsoniter.Marshal(p.Value)
}

// UnmarshalJSON accepts a string, an object of string fields, or null.
func (p *Payload) UnmarshalJSON(data []byte) error {
	switch {
	case len(data) == 0 || string(data) == "null":
		*p = Payload{}
		return nil
	case data[0] == '"':
		return jsoniter.Unmarshal(data, &p.Value)
	case data[0] == '{':
		return jsoniter.Unmarshal(data, &p.Fields)
	default:
		// Numbers and booleans occasionally leak out of the oracle; keep
		// them as their textual form rather than failing the whole plan.
		p.Value = string(data)
		return nil
	}
}

// Step is a single executable instruction within a scenario.
//
// TargetSelector is authoritative only when non-empty (pre-resolved or
// non-vision fallback mode); otherwise resolution happens at execution time
// against the live page. Description must be non-empty for any step that may
// need vision resolution.
type Step struct {
	OriginalText   string       `json:"originalText"`
	Action         ActionKind   `json:"actionKind"`
	TargetSelector string       `json:"targetSelector"`
	Payload        Payload      `json:"payload"`
	Description    string       `json:"description"`
	Expectation    *Expectation `json:"expectation,omitempty"`
}

// Scenario is an ordered list of steps compiled from one scenario block.
// Outline rows are expanded at compile time, so no parameterization remains.
type Scenario struct {
	Name        string `json:"name"`
	ContextHint string `json:"context,omitempty"`
	Steps       []Step `json:"steps"`
}

// ExecutionPlan is the compiled, cacheable representation of one feature
// source. It is immutable after compilation except for the deliberate
// placeholder-substitution pass, which runs on every load.
type ExecutionPlan struct {
	FeatureName string     `json:"featureName"`
	Description string     `json:"description,omitempty"`
	Scenarios   []Scenario `json:"scenarios"`
	TestKind    string     `json:"testKind,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Language    string     `json:"language,omitempty"`
}

// Validate performs the minimal structural checks the orchestrator relies on.
func (p *ExecutionPlan) Validate() error {
	if p.FeatureName == "" {
		return fmt.Errorf("plan has no feature name")
	}
	if len(p.Scenarios) == 0 {
		return fmt.Errorf("plan %q has no scenarios", p.FeatureName)
	}
	return nil
}

// CacheEntry is the on-disk envelope for a compiled plan, keyed by the
// source file basename. A hit requires hash equality and entry age below
// the configured horizon.
type CacheEntry struct {
	FeatureFile string        `json:"featureFile"`
	ContentHash string        `json:"contentHash"`
	CreatedAt   time.Time     `json:"timestamp"`
	Plan        ExecutionPlan `json:"plan"`
}
