// Package classify assigns each cue of a parsed subtitle file a
// translation role: passthrough cues are copied through untouched,
// theme candidates go to the dedup/cache path, and everything else is
// translated in the main phase.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

// Role is the translation role assigned to a cue.
type Role int

const (
	RolePassthrough Role = iota
	RoleTheme
	RoleMain
)

func (r Role) String() string {
	switch r {
	case RolePassthrough:
		return "passthrough"
	case RoleTheme:
		return "theme"
	case RoleMain:
		return "main"
	default:
		return "unknown"
	}
}

// Styles whose content is decoration rather than dialogue.
var passthroughStyleKeywords = []string{
	"sign", "mask", "overlay", "logo", "effect", "fx", "staff", "credit",
}

// Styles used for recurring opening/ending lyrics.
var themeStyleKeywords = []string{
	"theme", "song", "lyric", "kara", "insert", "romaji", "kanji",
}

var (
	// ASS drawing mode switch inside an override block, e.g. {\p1}.
	drawingTagPattern = regexp.MustCompile(`\\p[1-9]`)
	// Timed karaoke syllable tags: \k40, \K40, \kf40, \ko40.
	karaokeTagPattern = regexp.MustCompile(`\\[kK][fo]?\d`)
	// Short style fragments that only count as a match when they stand
	// alone or lead a numbered variant ("OP", "ED2", "op-romaji").
	themeShortFragments = []string{"op", "ed"}
)

// Stats summarizes one classification pass.
type Stats struct {
	Total       int
	Passthrough int
	Theme       int
	Main        int

	TotalChars       int
	PassthroughChars int
	ThemeChars       int
	MainChars        int

	// ElidedPercent is the share of visible characters that will never
	// reach the backend (passthrough content).
	ElidedPercent float64
}

// Result holds the three partitions in original cue order plus stats.
type Result struct {
	Passthrough []cue.Cue
	Theme       []cue.Cue
	Main        []cue.Cue
	Stats       Stats
}

// Split partitions cues by role. It is a pure function: every cue is
// assigned exactly one role, order within each partition follows the
// input, and repeated calls give identical results.
func Split(cues []cue.Cue) Result {
	res := Result{
		Passthrough: make([]cue.Cue, 0),
		Theme:       make([]cue.Cue, 0),
		Main:        make([]cue.Cue, 0),
	}
	res.Stats.Total = len(cues)

	for _, c := range cues {
		chars := utf8.RuneCountInString(c.VisibleText())
		res.Stats.TotalChars += chars

		switch RoleOf(c) {
		case RolePassthrough:
			res.Passthrough = append(res.Passthrough, c)
			res.Stats.Passthrough++
			res.Stats.PassthroughChars += chars
		case RoleTheme:
			res.Theme = append(res.Theme, c)
			res.Stats.Theme++
			res.Stats.ThemeChars += chars
		default:
			res.Main = append(res.Main, c)
			res.Stats.Main++
			res.Stats.MainChars += chars
		}
	}

	if res.Stats.TotalChars > 0 {
		res.Stats.ElidedPercent = float64(res.Stats.PassthroughChars) / float64(res.Stats.TotalChars) * 100
	}
	return res
}

// RoleOf decides the role for a single cue. Passthrough checks run
// first so a decorative karaoke sign never reaches the theme path.
func RoleOf(c cue.Cue) Role {
	if isPassthrough(c) {
		return RolePassthrough
	}
	if isThemeCandidate(c) {
		return RoleTheme
	}
	return RoleMain
}

func isPassthrough(c cue.Cue) bool {
	style := strings.ToLower(c.Style)
	for _, kw := range passthroughStyleKeywords {
		if strings.Contains(style, kw) {
			return true
		}
	}
	for _, p := range c.Placeholders {
		if drawingTagPattern.MatchString(p.Original) {
			return true
		}
	}
	return strings.TrimSpace(c.VisibleText()) == ""
}

func isThemeCandidate(c cue.Cue) bool {
	if styleMatchesTheme(c.Style) {
		return true
	}
	for _, p := range c.Placeholders {
		if karaokeTagPattern.MatchString(p.Original) {
			return true
		}
	}
	return false
}

func styleMatchesTheme(style string) bool {
	lowered := strings.ToLower(style)
	for _, kw := range themeStyleKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}

	// "op"/"ed" are too short for a contains check ("Top", "Credits"),
	// so match them only as standalone fragments like "OP", "ED2".
	for _, frag := range strings.FieldsFunc(lowered, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	}) {
		for _, short := range themeShortFragments {
			if frag == short {
				return true
			}
			if strings.HasPrefix(frag, short) && isDigits(frag[len(short):]) {
				return true
			}
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
