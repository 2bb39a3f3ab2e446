// Package diagnostics classifies failed steps into root-cause categories.
// Everything here is best effort: analysis runs after the verdict is final
// and can only enrich the report, never change it.
package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
)

// Failure categories surfaced in reports.
const (
	CategoryBackend       = "backend_error"
	CategoryScript        = "script_error"
	CategoryElementDrift  = "element_drift"
	CategoryElementAbsent = "element_absent"
	CategoryAssertion     = "assertion_mismatch"
	CategoryTimeout       = "timeout"
	CategoryUnknown       = "unknown"
)

// Analyzer inspects the page state captured around a failed step.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("diagnostics")}
}

// Diagnose attaches a diagnosis to the failed step result. It never returns
// an error; anything that goes wrong is logged and the result left as-is.
func (a *Analyzer) Diagnose(ctx context.Context, session schemas.Session, result *schemas.StepResult) {
	if result == nil || result.Success {
		return
	}

	domCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	dom, err := session.DOM(domCtx)
	if err != nil {
		a.logger.Debug("DOM capture for diagnosis failed.", zap.Error(err))
	}

	result.Diagnosis = a.classify(result, dom)
	a.logger.Info("Failure diagnosed.",
		zap.String("step", result.Description),
		zap.String("category", result.Diagnosis.Category),
	)
}

func (a *Analyzer) classify(result *schemas.StepResult, dom string) *schemas.Diagnosis {
	// Page-level errors dominate: a failing backend explains most step
	// failures better than anything in the DOM does.
	if d := fromPageErrors(result.PageErrors); d != nil {
		return d
	}

	lowered := strings.ToLower(result.Error)
	switch {
	case strings.Contains(lowered, "no element found"):
		return a.classifyMissingElement(result, dom)
	case strings.Contains(lowered, "was not found on the page"),
		strings.Contains(lowered, "expected"):
		return &schemas.Diagnosis{
			Category:    CategoryAssertion,
			Summary:     result.Error,
			Remediation: "Check whether the expected text changed in the application, or whether the page needs more settle time.",
		}
	case strings.Contains(lowered, "deadline exceeded"), strings.Contains(lowered, "timeout"):
		return &schemas.Diagnosis{
			Category:    CategoryTimeout,
			Summary:     "The step ran out of time before the page responded.",
			Remediation: "Raise the element or navigation timeout, or add an explicit wait before this step.",
		}
	}
	return &schemas.Diagnosis{Category: CategoryUnknown, Summary: result.Error}
}

// classifyMissingElement distinguishes an element that moved (near matches
// exist in the DOM) from one that is genuinely absent.
func (a *Analyzer) classifyMissingElement(result *schemas.StepResult, dom string) *schemas.Diagnosis {
	if dom == "" {
		return &schemas.Diagnosis{Category: CategoryElementAbsent, Summary: result.Error}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom))
	if err != nil {
		a.logger.Debug("DOM parse failed during diagnosis.", zap.Error(err))
		return &schemas.Diagnosis{Category: CategoryElementAbsent, Summary: result.Error}
	}

	needle := strings.ToLower(keyword(result.Description))
	var near []string
	doc.Find("button, a, input, select, textarea, [role]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := interactiveLabel(s)
		if label == "" {
			return true
		}
		if needle != "" && strings.Contains(strings.ToLower(label), needle) {
			near = append(near, describeNode(s, label))
		}
		return len(near) < 3
	})

	if len(near) > 0 {
		return &schemas.Diagnosis{
			Category: CategoryElementDrift,
			Summary:  fmt.Sprintf("No selector matched, but similar elements exist: %s.", strings.Join(near, "; ")),
			Remediation: "The element likely changed its markup. Recompile with --force or update the step wording " +
				"to match the current label.",
		}
	}
	return &schemas.Diagnosis{
		Category:    CategoryElementAbsent,
		Summary:     "No matching or similar element is present in the captured DOM.",
		Remediation: "Verify the preceding steps reached the right page state.",
	}
}

func fromPageErrors(errors []schemas.PageError) *schemas.Diagnosis {
	var network, console []string
	for _, e := range errors {
		switch e.Source {
		case "network":
			network = append(network, strings.TrimSpace(e.Text+" "+e.URL))
		case "console":
			console = append(console, e.Text)
		}
	}
	if len(network) > 0 {
		return &schemas.Diagnosis{
			Category:    CategoryBackend,
			Summary:     fmt.Sprintf("The page reported failing requests: %s.", strings.Join(first(network, 3), "; ")),
			Remediation: "Check the backend the application talks to; the step failure is likely downstream of it.",
		}
	}
	if len(console) > 0 {
		return &schemas.Diagnosis{
			Category:    CategoryScript,
			Summary:     fmt.Sprintf("The page threw script errors: %s.", strings.Join(first(console, 3), "; ")),
			Remediation: "A client-side exception may have broken the UI before the step ran.",
		}
	}
	return nil
}

// keyword picks the most identifying word of a step description for the
// near-match search.
func keyword(description string) string {
	best := ""
	for _, w := range strings.Fields(description) {
		w = strings.Trim(w, `"'.,()`)
		switch strings.ToLower(w) {
		case "the", "a", "an", "on", "click", "button", "link", "field", "element", "into", "with":
			continue
		}
		if len(w) > len(best) {
			best = w
		}
	}
	return best
}

func interactiveLabel(s *goquery.Selection) string {
	if label := strings.TrimSpace(s.Text()); label != "" {
		return label
	}
	for _, attr := range []string{"aria-label", "placeholder", "name", "value", "title"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func describeNode(s *goquery.Selection, label string) string {
	tag := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && id != "" {
		return fmt.Sprintf("<%s id=%q> %q", tag, id, label)
	}
	return fmt.Sprintf("<%s> %q", tag, label)
}

func first(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
