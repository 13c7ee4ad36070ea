package subtitle

import (
	"regexp"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// markupPattern matches the formatting spans lifted out of cue text:
// HTML-style tags (<i>, <c.yellow>, <v Roger>), WebVTT inline
// timestamps (<00:00:01.000>), and ASS override blocks ({\an8},
// {\k40}).
var markupPattern = regexp.MustCompile(`</?[A-Za-z][^<>]*>|<\d{2}:\d{2}[^<>]*>|\{\\[^{}]*\}`)

// ExtractMarkup replaces every markup span in text with a positional
// placeholder token and returns the resulting skeleton together with
// the token-to-span mapping, in appearance order.
func ExtractMarkup(text string) (string, []cue.Placeholder) {
	placeholders := make([]cue.Placeholder, 0)
	skeleton := markupPattern.ReplaceAllStringFunc(text, func(span string) string {
		token := cue.Token(len(placeholders))
		placeholders = append(placeholders, cue.Placeholder{Token: token, Original: span})
		return token
	})
	return skeleton, placeholders
}

// RestoreMarkup substitutes placeholder tokens in a translated text
// back to their original markup spans. Tokens the cue never carried
// are dropped with a warning rather than leaking into the output.
func RestoreMarkup(text string, placeholders []cue.Placeholder) string {
	byToken := make(map[string]string, len(placeholders))
	for _, p := range placeholders {
		byToken[p.Token] = p.Original
	}
	return cue.MapTokens(text, func(_ int, token string) string {
		original, ok := byToken[token]
		if !ok {
			log.Warn("Dropping unknown placeholder token %q from translated text", token)
			return ""
		}
		return original
	})
}
