package cue

// Format identifies the subtitle container a cue came from.
type Format string

const (
	FormatSRT Format = "srt"
	FormatASS Format = "ass"
	FormatSSA Format = "ssa"
	FormatVTT Format = "vtt"
)

// Placeholder ties a token embedded in a skeleton to the original
// markup span it replaced.
type Placeholder struct {
	Token    string `json:"token"`
	Original string `json:"original"`
}

// Cue is one timed subtitle entry. Skeleton holds the translatable text
// with formatting markup replaced by placeholder tokens; the token set
// inside Skeleton must exactly match Placeholders.
type Cue struct {
	ID           string        `json:"id"`
	Skeleton     string        `json:"skeleton"`
	Placeholders []Placeholder `json:"placeholders,omitempty"`
	Style        string        `json:"style,omitempty"`
	Format       Format        `json:"format"`
}

// TranslatedCue carries the translated text for one cue id.
type TranslatedCue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Document is the parsed form of one subtitle file.
type Document struct {
	Format Format
	Cues   []Cue
}

// IDs returns the cue ids in document order.
func IDs(cues []Cue) []string {
	ret := make([]string, len(cues))
	for i, c := range cues {
		ret[i] = c.ID
	}
	return ret
}
