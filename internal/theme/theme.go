// Package theme collapses recurring lyric/karaoke cues into unique
// canonical templates so each distinct line is translated once and the
// result is re-expanded into every concrete occurrence.
package theme

import (
	"fmt"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// SignatureGroup is one canonical theme template plus every concrete
// cue occurrence that shares it. Built once per pipeline run and
// discarded after expansion.
type SignatureGroup struct {
	// Signature is the whitespace-collapsed canonical skeleton, used
	// as the translation-memory key.
	Signature string
	// Template is the canonical skeleton sent to the backend.
	Template string
	// Occurrences are the concrete cues, in file order.
	Occurrences []cue.Cue
}

// Canonicalize rewrites a cue skeleton with positional tokens: the
// i-th placeholder token by order of appearance becomes Token(i),
// regardless of its original numbering. Returns the canonical template
// and the cue's own tokens in appearance order.
func Canonicalize(c cue.Cue) (string, []string, error) {
	if err := c.Validate(); err != nil {
		return "", nil, err
	}

	own := cue.Tokens(c.Skeleton)
	seen := make(map[string]bool, len(own))
	for _, tok := range own {
		if seen[tok] {
			return "", nil, fmt.Errorf("cue %s: token %s appears more than once", c.ID, tok)
		}
		seen[tok] = true
	}

	template := cue.MapTokens(c.Skeleton, func(i int, _ string) string {
		return cue.Token(i)
	})
	return template, own, nil
}

// BuildGroups canonicalizes every theme-candidate cue and groups cues
// whose normalized canonical skeletons are identical. Cues that cannot
// be canonicalized (broken placeholder invariants, repeated tokens)
// are returned as fallback cues for the main translation phase.
func BuildGroups(cues []cue.Cue) ([]SignatureGroup, []cue.Cue) {
	groups := make([]SignatureGroup, 0)
	index := make(map[string]int)
	fallback := make([]cue.Cue, 0)

	for _, c := range cues {
		template, _, err := Canonicalize(c)
		if err != nil {
			log.Warn("Theme cue %s falls back to main translation: %v", c.ID, err)
			fallback = append(fallback, c)
			continue
		}

		signature := cue.CollapseWhitespace(template)
		if i, ok := index[signature]; ok {
			groups[i].Occurrences = append(groups[i].Occurrences, c)
			continue
		}
		index[signature] = len(groups)
		groups = append(groups, SignatureGroup{
			Signature:   signature,
			Template:    template,
			Occurrences: []cue.Cue{c},
		})
	}

	return groups, fallback
}

// Expand substitutes a translated canonical template back into every
// occurrence of the group, replacing each canonical token with the
// occurrence's own token at the same position. The translation must
// contain exactly the template's canonical tokens (any order); a
// mismatch fails the whole group so the caller can reroute it.
func (g SignatureGroup) Expand(translatedTemplate string) ([]cue.TranslatedCue, error) {
	canonical := cue.Tokens(g.Template)
	got := cue.Tokens(translatedTemplate)
	if !cue.SameTokenMultiset(canonical, got) {
		return nil, fmt.Errorf("theme group %q: translation tokens %v do not match template tokens %v",
			g.Signature, got, canonical)
	}

	ret := make([]cue.TranslatedCue, 0, len(g.Occurrences))
	for _, occ := range g.Occurrences {
		own := cue.Tokens(occ.Skeleton)
		mapping := make(map[string]string, len(canonical))
		for i, canonTok := range canonical {
			mapping[canonTok] = own[i]
		}
		text := cue.MapTokens(translatedTemplate, func(_ int, tok string) string {
			return mapping[tok]
		})
		ret = append(ret, cue.TranslatedCue{ID: occ.ID, Text: text})
	}
	return ret, nil
}

// CueIDs returns every occurrence id across the given groups.
func CueIDs(groups []SignatureGroup) []string {
	ret := make([]string, 0)
	for _, g := range groups {
		ret = append(ret, cue.IDs(g.Occurrences)...)
	}
	return ret
}
