package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// ParseStructured decodes a backend response into translated cues.
// Two known shapes are accepted: the canonical {"cues": [...]} object
// and a bare top-level array. Anything else is malformed.
func ParseStructured(content string) ([]cue.TranslatedCue, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var wrapped StructuredResponse
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && wrapped.Cues != nil {
		if len(wrapped.Cues) == 0 {
			return nil, fmt.Errorf("%w: empty cue array", ErrMalformedResponse)
		}
		return wrapped.Cues, nil
	}

	var bare []cue.TranslatedCue
	if err := json.Unmarshal([]byte(trimmed), &bare); err == nil {
		if len(bare) == 0 {
			return nil, fmt.Errorf("%w: empty cue array", ErrMalformedResponse)
		}
		return bare, nil
	}

	return nil, fmt.Errorf("%w: expected {\"cues\": [...]} or a cue array", ErrMalformedResponse)
}

// stripCodeFence unwraps a ```json ... ``` fenced block some models
// emit despite instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// SanitizeIDs validates returned cues against the requested items:
// ids outside the request are discarded (never trusted), duplicates
// keep the first occurrence, and the result follows the request's item
// order. Requested ids absent from the response come back as failed.
func SanitizeIDs(items []Item, returned []cue.TranslatedCue) (ok []cue.TranslatedCue, failed []string) {
	requested := make(map[string]bool, len(items))
	for _, item := range items {
		requested[item.ID] = true
	}

	byID := make(map[string]cue.TranslatedCue, len(returned))
	for _, tc := range returned {
		if !requested[tc.ID] {
			log.Warn("Discarding translated cue with unknown id %q", tc.ID)
			continue
		}
		if _, dup := byID[tc.ID]; dup {
			log.Warn("Discarding duplicate translated cue for id %q", tc.ID)
			continue
		}
		byID[tc.ID] = tc
	}

	ok = make([]cue.TranslatedCue, 0, len(byID))
	failed = make([]string, 0)
	for _, item := range items {
		if tc, found := byID[item.ID]; found {
			if tc.Text == "" {
				log.Warn("Translated cue %q has empty text", tc.ID)
			}
			ok = append(ok, tc)
			continue
		}
		failed = append(failed, item.ID)
	}
	return ok, failed
}

// ValidateCoverage checks that the union of translated and passthrough
// ids covers every original id exactly once. Returns a list of
// human-readable problems; empty means full coverage.
func ValidateCoverage(originalIDs []string, covered ...[]string) []string {
	problems := make([]string, 0)
	seen := make(map[string]int)
	for _, set := range covered {
		for _, id := range set {
			seen[id]++
		}
	}

	original := make(map[string]bool, len(originalIDs))
	for _, id := range originalIDs {
		original[id] = true
		switch seen[id] {
		case 0:
			problems = append(problems, fmt.Sprintf("cue %s has no translation or passthrough", id))
		case 1:
			// covered exactly once
		default:
			problems = append(problems, fmt.Sprintf("cue %s covered %d times", id, seen[id]))
		}
	}
	for id := range seen {
		if !original[id] {
			problems = append(problems, fmt.Sprintf("unexpected cue id %s in output", id))
		}
	}
	return problems
}
