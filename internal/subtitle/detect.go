package subtitle

import (
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

// DetectLanguage guesses the dominant language across the document's
// visible text. Returns language.Und when nothing can be detected;
// callers use it when no source language was configured.
func DetectLanguage(doc *cue.Document) language.Tag {
	if doc == nil || len(doc.Cues) == 0 {
		return language.Und
	}

	votes := make(map[string]int)
	for _, c := range doc.Cues {
		text := c.VisibleText()
		if text == "" {
			continue
		}
		iso := whatlanggo.DetectLang(text).Iso6391()
		if iso == "" {
			continue
		}
		votes[iso]++
	}

	top, topCount := "", 0
	for iso, count := range votes {
		if count > topCount {
			top, topCount = iso, count
		}
	}
	if top == "" {
		return language.Und
	}
	return language.All.Make(top)
}
