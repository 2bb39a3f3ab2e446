package schemas

import "time"

// Confidence is the vision oracle's advisory self-assessment. It is surfaced
// in logs and diagnostics only and never gates retry or fallback decisions.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// FieldTarget is one entry of a multi-field resolution (form filling).
type FieldTarget struct {
	Label    string `json:"label"`
	Selector string `json:"selector"`
	Value    string `json:"value,omitempty"`
}

// Resolution is the vision oracle's answer for a single attempt. It is
// ephemeral: consumed immediately by the executor and never persisted.
type Resolution struct {
	Strategy         string        `json:"strategy"`
	PrimarySelector  string        `json:"selector"`
	AuxiliaryTargets []FieldTarget `json:"fields,omitempty"`
	Confidence       Confidence    `json:"confidence"`
	Reasoning        string        `json:"reasoning,omitempty"`
	Found            bool          `json:"found,omitempty"`
}

// PageError is a console error or failed network request collected by the
// session listeners since the run began.
type PageError struct {
	Source    string    `json:"source"` // "console" or "network"
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Diagnosis classifies a failed step into a root-cause category with a
// suggested remediation. Produced by the diagnostic analyzer, best effort.
type Diagnosis struct {
	Category    string `json:"category"`
	Summary     string `json:"summary"`
	Remediation string `json:"remediation,omitempty"`
}

// StepResult is produced exactly once per executed step. It is never
// mutated after diagnosis attachment.
type StepResult struct {
	Success      bool          `json:"success"`
	Action       ActionKind    `json:"actionKind"`
	Description  string        `json:"description"`
	SelectorUsed string        `json:"selectorUsed,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	Screenshot   []byte        `json:"screenshot,omitempty"`
	Error        string        `json:"error,omitempty"`
	PageErrors   []PageError   `json:"pageErrors,omitempty"`
	Diagnosis    *Diagnosis    `json:"diagnosis,omitempty"`
}

// ScenarioStatus is the scenario state machine's terminal (or current) state.
type ScenarioStatus string

const (
	ScenarioPending ScenarioStatus = "pending"
	ScenarioRunning ScenarioStatus = "running"
	ScenarioPassed  ScenarioStatus = "passed"
	ScenarioFailed  ScenarioStatus = "failed"
	ScenarioError   ScenarioStatus = "error"
)

// ScenarioResult accumulates step results for one scenario. Fail-fast: on
// the first unsuccessful step the remaining steps are skipped, so Steps may
// be shorter than the scenario's step list.
type ScenarioResult struct {
	Name   string         `json:"name"`
	Status ScenarioStatus `json:"status"`
	Steps  []StepResult   `json:"steps"`
	Error  string         `json:"error,omitempty"`
}

// FeatureResult groups the scenario results of one feature file. Passed only
// when every scenario passed.
type FeatureResult struct {
	Feature   string           `json:"feature"`
	File      string           `json:"file"`
	Passed    bool             `json:"passed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// RunTotals are the aggregate counters for a whole run.
type RunTotals struct {
	Features         int `json:"features"`
	Scenarios        int `json:"scenarios"`
	ScenariosPassed  int `json:"scenariosPassed"`
	ScenariosFailed  int `json:"scenariosFailed"`
	ScenariosErrored int `json:"scenariosErrored"`
	Steps            int `json:"steps"`
	StepsFailed      int `json:"stepsFailed"`
}

// RunReport is the terminal, persisted artifact of a run.
type RunReport struct {
	RunID      string          `json:"runId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Features   []FeatureResult `json:"features"`
	Totals     RunTotals       `json:"totals"`
}

// Failed reports whether any executed step in the run failed.
func (r *RunReport) Failed() bool {
	return r.Totals.StepsFailed > 0 || r.Totals.ScenariosErrored > 0
}

// Recount rebuilds the aggregate counters from the result tree.
func (r *RunReport) Recount() {
	t := RunTotals{Features: len(r.Features)}
	for _, f := range r.Features {
		for _, sc := range f.Scenarios {
			t.Scenarios++
			switch sc.Status {
			case ScenarioPassed:
				t.ScenariosPassed++
			case ScenarioFailed:
				t.ScenariosFailed++
			case ScenarioError:
				t.ScenariosErrored++
			}
			for _, st := range sc.Steps {
				t.Steps++
				if !st.Success {
					t.StepsFailed++
				}
			}
		}
	}
	r.Totals = t
}
