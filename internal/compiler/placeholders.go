package compiler

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/probelight/specdriver/api/schemas"
)

// Dynamic-value markers recognized inside step payloads. Substitution is
// deliberately excluded from the cached artifact so that fresh values are
// generated on every load, cache hit or miss.
const (
	markerEmail     = "<email>"
	markerUUID      = "<uuid>"
	markerTimestamp = "<timestamp>"
	markerRandom    = "<random>"
	markerPassword  = "<password>"
)

// SubstitutePlaceholders scans every step payload for dynamic-value markers
// and replaces each occurrence with a freshly generated value. It mutates
// the plan in place and always runs after compilation, cached or not.
func SubstitutePlaceholders(plan *schemas.ExecutionPlan) {
	for si := range plan.Scenarios {
		for ti := range plan.Scenarios[si].Steps {
			step := &plan.Scenarios[si].Steps[ti]
			step.Payload.Value = substituteMarkers(step.Payload.Value)
			for k, v := range step.Payload.Fields {
				step.Payload.Fields[k] = substituteMarkers(v)
			}
			if step.Expectation != nil {
				step.Expectation.Expected = substituteMarkers(step.Expectation.Expected)
			}
		}
	}
}

func substituteMarkers(value string) string {
	if value == "" || !strings.Contains(value, "<") {
		return value
	}
	for strings.Contains(value, markerEmail) {
		value = strings.Replace(value, markerEmail, uniqueEmail(), 1)
	}
	for strings.Contains(value, markerUUID) {
		value = strings.Replace(value, markerUUID, uuid.New().String(), 1)
	}
	for strings.Contains(value, markerTimestamp) {
		value = strings.Replace(value, markerTimestamp, fmt.Sprintf("%d", time.Now().UnixMilli()), 1)
	}
	for strings.Contains(value, markerRandom) {
		value = strings.Replace(value, markerRandom, randomToken(8), 1)
	}
	for strings.Contains(value, markerPassword) {
		value = strings.Replace(value, markerPassword, compliantPassword(), 1)
	}
	return value
}

// uniqueEmail synthesizes a syntactically valid address unique per call.
func uniqueEmail() string {
	local := strings.ReplaceAll(uuid.New().String()[:13], "-", "")
	return fmt.Sprintf("qa.%s@example.com", local)
}

const tokenChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenChars[rand.Intn(len(tokenChars))]
	}
	return string(b)
}

// compliantPassword satisfies the common length, case, digit and symbol
// rules registration forms enforce.
func compliantPassword() string {
	const (
		lower   = "abcdefghijklmnopqrstuvwxyz"
		upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		digits  = "0123456789"
		symbols = "!@#$%^&*-_"
		minLen  = 14
	)
	all := lower + upper + digits + symbols

	pw := []byte{
		upper[rand.Intn(len(upper))],
		digits[rand.Intn(len(digits))],
		symbols[rand.Intn(len(symbols))],
		lower[rand.Intn(len(lower))],
	}
	for len(pw) < minLen {
		pw = append(pw, all[rand.Intn(len(all))])
	}
	rand.Shuffle(len(pw), func(i, j int) { pw[i], pw[j] = pw[j], pw[i] })
	return string(pw)
}
