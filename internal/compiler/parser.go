package compiler

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/probelight/specdriver/api/schemas"
)

// RawScenario is one named scenario block as written in the source, before
// any interpretation: ordered keyworded lines plus an optional examples
// table for outlines.
type RawScenario struct {
	Name      string
	Context   string
	Steps     []string
	IsOutline bool
	Examples  *ExampleTable
}

// ExampleTable holds the header and data rows of a scenario outline.
type ExampleTable struct {
	Headers []string
	Rows    [][]string
}

// RawFeature is the parsed AST of one specification source file.
type RawFeature struct {
	Name        string
	Description string
	Language    string
	Tags        []string
	Scenarios   []RawScenario
}

var stepKeywords = []string{"Given", "When", "Then", "And", "But", "*"}

// ParseFeature converts specification source text into a raw AST. It fails
// with a ParseError when the source carries no top-level feature block.
func ParseFeature(source, sourcePath string) (*RawFeature, error) {
	feature := &RawFeature{Language: "en"}

	var (
		current      *RawScenario
		pendingTags  []string
		inExamples   bool
		descLines    []string
		sawFeature   bool
		tableHeaders []string
	)

	flush := func() {
		if current != nil {
			feature.Scenarios = append(feature.Scenarios, *current)
			current = nil
		}
		inExamples = false
		tableHeaders = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "# language:"):
			feature.Language = strings.TrimSpace(strings.TrimPrefix(line, "# language:"))
		case strings.HasPrefix(line, "#"):
			// Comment.
		case strings.HasPrefix(line, "@"):
			pendingTags = append(pendingTags, strings.Fields(line)...)
		case strings.HasPrefix(line, "Feature:"):
			sawFeature = true
			feature.Name = strings.TrimSpace(strings.TrimPrefix(line, "Feature:"))
			feature.Tags = append(feature.Tags, pendingTags...)
			pendingTags = nil
		case strings.HasPrefix(line, "Background:"):
			// Backgrounds are modeled as a scenario named after the keyword;
			// the oracle folds its steps into each scenario's context.
			flush()
			current = &RawScenario{Name: "Background", Context: "background"}
			pendingTags = nil
		case strings.HasPrefix(line, "Scenario Outline:") || strings.HasPrefix(line, "Scenario Template:"):
			flush()
			name := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			current = &RawScenario{Name: name, IsOutline: true}
			pendingTags = nil
		case strings.HasPrefix(line, "Scenario:") || strings.HasPrefix(line, "Example:"):
			flush()
			name := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			current = &RawScenario{Name: name}
			pendingTags = nil
		case strings.HasPrefix(line, "Examples:") || strings.HasPrefix(line, "Scenarios:"):
			inExamples = true
			tableHeaders = nil
		case strings.HasPrefix(line, "|"):
			cells := splitTableRow(line)
			if !inExamples || current == nil {
				// Data tables attached to a step are folded into the step text
				// so the oracle still sees them.
				if current != nil && len(current.Steps) > 0 {
					last := len(current.Steps) - 1
					current.Steps[last] += " | " + strings.Join(cells, " | ")
				}
				continue
			}
			if tableHeaders == nil {
				tableHeaders = cells
				current.Examples = &ExampleTable{Headers: cells}
				continue
			}
			current.Examples.Rows = append(current.Examples.Rows, cells)
		default:
			if _, _, ok := matchStepKeyword(line); ok && current != nil {
				current.Steps = append(current.Steps, line)
				continue
			}
			if !sawFeature || (current == nil && len(feature.Scenarios) == 0) {
				descLines = append(descLines, line)
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, &schemas.ParseError{File: sourcePath, Reason: err.Error()}
	}
	if !sawFeature {
		return nil, &schemas.ParseError{File: sourcePath, Reason: "no Feature block found"}
	}
	if len(feature.Scenarios) == 0 {
		return nil, &schemas.ParseError{File: sourcePath, Reason: fmt.Sprintf("feature %q has no scenarios", feature.Name)}
	}

	feature.Description = strings.Join(descLines, "\n")
	return feature, nil
}

// matchStepKeyword reports whether the line opens with a step keyword.
func matchStepKeyword(line string) (keyword, rest string, ok bool) {
	for _, kw := range stepKeywords {
		if strings.HasPrefix(line, kw+" ") {
			return kw, strings.TrimSpace(strings.TrimPrefix(line, kw)), true
		}
	}
	return "", "", false
}

func splitTableRow(line string) []string {
	trimmed := strings.Trim(line, "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

// ExpandOutlines replaces every outline scenario with one concrete scenario
// per example row, substituting each <param> token in every step with the
// row's value. Non-outline scenarios pass through untouched.
func ExpandOutlines(feature *RawFeature) []RawScenario {
	expanded := make([]RawScenario, 0, len(feature.Scenarios))
	for _, sc := range feature.Scenarios {
		if !sc.IsOutline || sc.Examples == nil || len(sc.Examples.Rows) == 0 {
			sc.IsOutline = false
			sc.Examples = nil
			expanded = append(expanded, sc)
			continue
		}
		for i, row := range sc.Examples.Rows {
			concrete := RawScenario{
				Name:    fmt.Sprintf("%s (Example %d)", sc.Name, i+1),
				Context: sc.Context,
				Steps:   make([]string, len(sc.Steps)),
			}
			for j, step := range sc.Steps {
				concrete.Steps[j] = substituteRow(step, sc.Examples.Headers, row)
			}
			expanded = append(expanded, concrete)
		}
	}
	return expanded
}

func substituteRow(step string, headers, row []string) string {
	out := step
	for i, h := range headers {
		if i >= len(row) {
			break
		}
		out = strings.ReplaceAll(out, "<"+h+">", row[i])
	}
	return out
}
