// Package roles implements the planner, executor, and reviewer behaviors
// the scheduler drives (spec.md §4.3-§4.5). Grounded on the teacher's
// agents/spawner.go template-rendering idiom and orchestrator.go's
// createSignoffReport/parseSignoffReport regex-over-fenced-code-block
// pattern, generalized here into one tolerant JSON extractor shared by the
// planner and reviewer.
package roles

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")
var bracketedArray = regexp.MustCompile(`(?s)\[.*\]`)
var bracketedObject = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON scans text for, in order: a fenced code block, then a
// bracketed JSON array or object, then falls back to the trimmed text
// itself, unmarshaling the first candidate that parses into target.
// Mirrors the teacher's tolerant parsing of agent markdown output.
func ExtractJSON(text string, target interface{}) error {
	candidates := candidateJSON(text)
	var lastErr error
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), target); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no JSON candidate found in text")
	}
	return errors.Wrap(lastErr, "roles: tolerant JSON extraction failed")
}

func candidateJSON(text string) []string {
	var out []string
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		out = append(out, m[1])
	}
	if m := bracketedArray.FindString(text); m != "" {
		out = append(out, m)
	}
	if m := bracketedObject.FindString(text); m != "" {
		out = append(out, m)
	}
	out = append(out, strings.TrimSpace(text))
	return out
}
