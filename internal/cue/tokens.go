package cue

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Placeholder tokens look like "~p<base36>:", e.g. "~p0:", "~pa:", "~p1f:".
var tokenPattern = regexp.MustCompile(`~p[0-9a-z]+:`)

// Token builds the placeholder token for a zero-based position.
func Token(index int) string {
	return "~p" + strconv.FormatInt(int64(index), 36) + ":"
}

// Tokens returns the placeholder tokens embedded in a skeleton, in
// order of appearance.
func Tokens(skeleton string) []string {
	return tokenPattern.FindAllString(skeleton, -1)
}

// StripTokens removes every placeholder token from a skeleton, leaving
// only the visible text.
func StripTokens(skeleton string) string {
	return tokenPattern.ReplaceAllString(skeleton, "")
}

// VisibleText is the cue's skeleton without placeholder tokens.
func (c Cue) VisibleText() string {
	return StripTokens(c.Skeleton)
}

// Validate checks the cue invariant: the multiset of tokens in the
// skeleton equals the declared placeholder list.
func (c Cue) Validate() error {
	inText := Tokens(c.Skeleton)
	declared := make([]string, len(c.Placeholders))
	for i, p := range c.Placeholders {
		declared[i] = p.Token
	}
	if !SameTokenMultiset(inText, declared) {
		return fmt.Errorf("cue %s: skeleton tokens %v do not match placeholders %v", c.ID, inText, declared)
	}
	return nil
}

// SameTokenMultiset reports whether two token lists contain the same
// tokens the same number of times, ignoring order.
func SameTokenMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// MapTokens rewrites every placeholder token in s using fn, which
// receives the token and its zero-based position in appearance order.
// A single scan, so replacement tokens are never re-matched.
func MapTokens(s string, fn func(i int, token string) string) string {
	i := -1
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		i++
		return fn(i, tok)
	})
}

// CollapseWhitespace trims the string and folds runs of whitespace into
// single spaces. Used when normalizing skeletons for signatures.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
