package compiler

import (
	"regexp"
	"strings"

	"github.com/probelight/specdriver/api/schemas"
)

var quotedRe = regexp.MustCompile(`"([^"]*)"`)

// heuristicPlan builds a strictly lower-fidelity plan from the raw scenario
// set using keyword matching alone. This is the terminal fallback when the
// reasoning oracle is unavailable or unusable: it must never fail.
func heuristicPlan(feature *RawFeature, scenarios []RawScenario) *schemas.ExecutionPlan {
	plan := &schemas.ExecutionPlan{
		FeatureName: feature.Name,
		Description: feature.Description,
		TestKind:    "acceptance",
		Tags:        feature.Tags,
		Language:    feature.Language,
		Scenarios:   make([]schemas.Scenario, 0, len(scenarios)),
	}

	for _, raw := range scenarios {
		sc := schemas.Scenario{Name: raw.Name, ContextHint: raw.Context}
		for _, line := range raw.Steps {
			sc.Steps = append(sc.Steps, heuristicStep(line))
		}
		plan.Scenarios = append(plan.Scenarios, sc)
	}
	return plan
}

func heuristicStep(line string) schemas.Step {
	_, rest, ok := matchStepKeyword(line)
	if !ok {
		rest = line
	}
	lower := strings.ToLower(rest)
	quoted := quotedRe.FindAllStringSubmatch(rest, -1)

	step := schemas.Step{
		OriginalText: line,
		Action:       classifyAction(lower),
		Description:  rest,
	}

	switch step.Action {
	case schemas.ActionNavigate:
		if len(quoted) > 0 {
			step.Payload.Value = quoted[0][1]
		}
	case schemas.ActionType:
		// "type X into Y" style: first quote is the value. Multiple quotes
		// with field hints become a field map.
		step.Payload = typePayload(rest, quoted)
	case schemas.ActionSelect, schemas.ActionWait, schemas.ActionScroll:
		if len(quoted) > 0 {
			step.Payload.Value = quoted[0][1]
		}
	case schemas.ActionValidate:
		exp := &schemas.Expectation{Kind: schemas.ExpectExists}
		if len(quoted) > 0 {
			exp.Expected = quoted[0][1]
		} else {
			exp.Expected = rest
		}
		if strings.Contains(lower, "equal") {
			exp.Kind = schemas.ExpectEquals
		} else if strings.Contains(lower, "contain") {
			exp.Kind = schemas.ExpectContains
		}
		step.Expectation = exp
	}

	return step
}

func classifyAction(lower string) schemas.ActionKind {
	switch {
	case containsAny(lower, "navigate", "open", "go to", "visit", "browse"):
		return schemas.ActionNavigate
	case containsAny(lower, "type", "enter", "fill", "input", "write"):
		return schemas.ActionType
	case containsAny(lower, "select", "choose", "pick", "dropdown"):
		return schemas.ActionSelect
	case containsAny(lower, "click", "press", "tap", "submit", "button"):
		return schemas.ActionClick
	case containsAny(lower, "should see", "verify", "validate", "assert", "displayed", "appears", "visible", "expect"):
		return schemas.ActionValidate
	case containsAny(lower, "hover", "mouse over"):
		return schemas.ActionHover
	case containsAny(lower, "scroll"):
		return schemas.ActionScroll
	case containsAny(lower, "wait", "pause"):
		return schemas.ActionWait
	default:
		return schemas.ActionUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var fieldHintRe = regexp.MustCompile(`(?i)(?:into|in|to)\s+(?:the\s+)?"?([\w\s-]+?)"?\s*(?:field|box|input)?\s*$`)

func typePayload(rest string, quoted [][]string) schemas.Payload {
	if len(quoted) == 0 {
		return schemas.Payload{}
	}
	if len(quoted) == 1 {
		if m := fieldHintRe.FindStringSubmatch(rest); m != nil {
			field := strings.TrimSpace(m[1])
			if field != "" && !strings.EqualFold(field, quoted[0][1]) {
				return schemas.Payload{Fields: map[string]string{normalizeField(field): quoted[0][1]}}
			}
		}
		return schemas.Payload{Value: quoted[0][1]}
	}
	// Even-count quotes read as (value, field) pairs, matching the common
	// `type "a@b.com" into the "email" field` phrasing; otherwise the first
	// quote is the value and the rest are noise.
	if len(quoted)%2 == 0 {
		fields := make(map[string]string, len(quoted)/2)
		for i := 0; i+1 < len(quoted); i += 2 {
			fields[normalizeField(quoted[i+1][1])] = quoted[i][1]
		}
		return schemas.Payload{Fields: fields}
	}
	return schemas.Payload{Value: quoted[0][1]}
}

func normalizeField(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
