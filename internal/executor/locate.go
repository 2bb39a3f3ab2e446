package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/probelight/specdriver/api/schemas"
)

// locatePollInterval is how often the fallback chain re-probes the page
// while the element timeout has not elapsed.
const locatePollInterval = 250 * time.Millisecond

var quotedRe = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

// locate finds the first selector in the step's fallback chain that matches
// a visible element. TargetSelector is authoritative when set; otherwise the
// vision oracle contributes the primary candidate and deterministic
// derivations fill out the rest of the chain.
func (e *Executor) locate(ctx context.Context, step schemas.Step) (string, error) {
	primary := step.TargetSelector
	strategy := ""
	if primary == "" {
		if res := e.resolveVision(ctx, step); res != nil {
			primary = res.PrimarySelector
			strategy = res.Strategy
		}
	}
	return e.firstVisible(ctx, candidateSelectors(step, primary, strategy), stepLabel(step))
}

// locateField resolves one form field. A vision-supplied selector leads the
// chain; the label-derived patterns back it up.
func (e *Executor) locateField(ctx context.Context, step schemas.Step, target schemas.FieldTarget) (string, error) {
	candidates := fieldCandidates(target.Label)
	if target.Selector != "" {
		candidates = append([]string{target.Selector}, candidates...)
	}
	return e.firstVisible(ctx, candidates, fmt.Sprintf("%s field %q", stepLabel(step), target.Label))
}

// firstVisible probes the candidate chain in order until one matches a
// visible element or the element timeout elapses.
func (e *Executor) firstVisible(ctx context.Context, candidates []string, description string) (string, error) {
	candidates = dedupe(candidates)
	if len(candidates) == 0 {
		return "", &schemas.ElementNotFoundError{Description: description}
	}

	deadline := time.Now().Add(e.cfg.ElementTimeout)
	for {
		for _, sel := range candidates {
			found, err := e.session.Exists(ctx, sel)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				continue
			}
			if found {
				return sel, nil
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(locatePollInterval)
	}
	return "", &schemas.ElementNotFoundError{Description: description, Tried: candidates}
}

// candidateSelectors builds the click/select/hover fallback chain. Order
// matters: the authoritative or resolved selector first, then text and ARIA
// derivations, then attribute slugs, then element-type variants of a
// text-based primary, and finally the per-action generic catch-alls.
func candidateSelectors(step schemas.Step, primary, strategy string) []string {
	label := elementLabel(step)
	out := make([]string, 0, 16)
	if primary != "" {
		out = append(out, primary)
	}

	if label != "" {
		switch step.Action {
		case schemas.ActionSelect:
			for _, slug := range slugVariants(label) {
				out = append(out, fmt.Sprintf(`select[name=%q]`, slug), "#"+slug)
			}
			out = append(out, fmt.Sprintf(`select[aria-label=%q]`, label))
		default:
			out = append(out,
				"text="+label,
				fmt.Sprintf(`[aria-label=%q]`, label),
				fmt.Sprintf(`[title=%q]`, label),
				fmt.Sprintf(`input[type="submit"][value=%q]`, label),
			)
			for _, slug := range slugVariants(label) {
				out = append(out, "#"+slug, fmt.Sprintf(`[data-testid=%q]`, slug), fmt.Sprintf(`[name=%q]`, slug))
			}
		}
	}

	if text := textualTarget(primary, strategy, label); text != "" {
		out = append(out, typedTextVariants(text)...)
	}
	out = append(out, genericCatchAlls(step.Action)...)
	return out
}

// textualTarget reports the text a text-based primary selector matched on,
// or "" when the primary strategy was structural (css, xpath, role).
func textualTarget(primary, strategy, label string) string {
	if strings.HasPrefix(primary, "text=") {
		return strings.TrimPrefix(primary, "text=")
	}
	if strategy == "text" {
		return label
	}
	return ""
}

// typedTextVariants narrows a text match to the interactive element types a
// clickable control usually renders as.
func typedTextVariants(text string) []string {
	lit := xpathString(text)
	return []string{
		fmt.Sprintf("xpath=//button[contains(normalize-space(.), %s)]", lit),
		fmt.Sprintf(`xpath=//*[@role="button"][contains(normalize-space(.), %s)]`, lit),
		fmt.Sprintf("xpath=//a[contains(normalize-space(.), %s)]", lit),
	}
}

// genericCatchAlls are the last-resort selectors for an action when every
// derived candidate misses: any visible clickable for click, any native or
// widget dropdown for select.
func genericCatchAlls(action schemas.ActionKind) []string {
	switch action {
	case schemas.ActionClick:
		return []string{"button", "role=button", "a"}
	case schemas.ActionSelect:
		return []string{"select", "role=listbox", `[class*="dropdown"]`, `[class*="select"]`}
	}
	return nil
}

// xpathString quotes a Go string as an XPath string literal, using concat()
// when the text itself carries double quotes.
func xpathString(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range strings.Split(s, `"`) {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		fmt.Fprintf(&b, "%q", part)
	}
	b.WriteString(")")
	return b.String()
}

// fieldCandidates derives input selectors from a field's human label.
func fieldCandidates(label string) []string {
	out := make([]string, 0, 12)
	for _, slug := range slugVariants(label) {
		out = append(out,
			fmt.Sprintf(`input[name=%q]`, slug),
			"#"+slug,
			fmt.Sprintf(`textarea[name=%q]`, slug),
		)
	}
	out = append(out,
		fmt.Sprintf(`input[placeholder*=%q]`, label),
		fmt.Sprintf(`[aria-label=%q]`, label),
	)

	// Common field semantics get a typed catch-all at the end of the chain.
	switch {
	case strings.Contains(strings.ToLower(label), "email"):
		out = append(out, `input[type="email"]`)
	case strings.Contains(strings.ToLower(label), "password"):
		out = append(out, `input[type="password"]`)
	case strings.Contains(strings.ToLower(label), "search"):
		out = append(out, `input[type="search"]`)
	}
	return out
}

// elementLabel extracts the human name of the target element: the first
// quoted token of the source text, else the description minus filler words.
func elementLabel(step schemas.Step) string {
	if m := quotedRe.FindStringSubmatch(step.OriginalText); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	words := strings.Fields(step.Description)
	kept := words[:0]
	for _, w := range words {
		switch strings.ToLower(w) {
		case "the", "a", "an", "on", "click", "button", "link", "element":
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// slugVariants turns "User Name" into the attribute spellings sites
// actually use: user-name, user_name and username.
func slugVariants(label string) []string {
	lowered := strings.ToLower(strings.TrimSpace(label))
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return nil
	}
	if len(fields) == 1 {
		return []string{fields[0]}
	}
	return dedupe([]string{
		strings.Join(fields, "-"),
		strings.Join(fields, "_"),
		strings.Join(fields, ""),
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
