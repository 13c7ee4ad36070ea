// Package subtitle parses SRT and WebVTT content into
// placeholder-tokenized cues and writes translated files back out.
// It implements the pipeline's Parser and Reconstructor contracts.
package subtitle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

// Codec converts raw subtitle content to cues and back. Stateless and
// safe for concurrent use.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// block is one physical block of a subtitle file. Timed blocks become
// cues; untimed blocks (WebVTT NOTE/STYLE/REGION) pass through
// verbatim.
type block struct {
	identifier string // SRT index or VTT cue identifier, verbatim
	timing     string // full timing line including settings, verbatim
	text       string
}

func (b block) timed() bool {
	return b.timing != ""
}

// parsedFile is the lossless physical form used for reconstruction.
type parsedFile struct {
	format cue.Format
	header []string // lines before the first block (WebVTT preamble)
	blocks []block
}

// Parse turns raw SRT or WebVTT content into a cue document. Cue ids
// are ordinal ("c1", "c2", ...) and stable across a parse/reconstruct
// pair of the same content.
func (c *Codec) Parse(raw string) (*cue.Document, error) {
	file, err := parseContent(raw)
	if err != nil {
		return nil, err
	}

	doc := &cue.Document{Format: file.format, Cues: make([]cue.Cue, 0, len(file.blocks))}
	n := 0
	for _, b := range file.blocks {
		if !b.timed() {
			continue
		}
		n++
		skeleton, placeholders := ExtractMarkup(b.text)
		doc.Cues = append(doc.Cues, cue.Cue{
			ID:           fmt.Sprintf("c%d", n),
			Skeleton:     skeleton,
			Placeholders: placeholders,
			Format:       file.format,
		})
	}
	return doc, nil
}

// Reconstruct renders the final file: translated cues replace their
// source text with markup restored, untranslated cues keep the
// original text. The original raw content supplies timings and any
// untimed blocks.
func (c *Codec) Reconstruct(doc *cue.Document, translated []cue.TranslatedCue, originalRaw string) (string, error) {
	file, err := parseContent(originalRaw)
	if err != nil {
		return "", fmt.Errorf("reparse original content: %w", err)
	}

	byID := make(map[string]string, len(translated))
	for _, tc := range translated {
		byID[tc.ID] = tc.Text
	}
	cueByID := make(map[string]cue.Cue, len(doc.Cues))
	for _, dc := range doc.Cues {
		cueByID[dc.ID] = dc
	}

	n := 0
	for i := range file.blocks {
		if !file.blocks[i].timed() {
			continue
		}
		n++
		id := fmt.Sprintf("c%d", n)
		text, ok := byID[id]
		if !ok {
			continue
		}
		dc, ok := cueByID[id]
		if !ok {
			continue
		}
		file.blocks[i].text = RestoreMarkup(text, dc.Placeholders)
	}
	if n != len(doc.Cues) {
		return "", fmt.Errorf("original content has %d cues, document has %d", n, len(doc.Cues))
	}

	return render(file), nil
}

func parseContent(raw string) (*parsedFile, error) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.TrimPrefix(normalized, "\uFEFF")
	if strings.HasPrefix(normalized, "WEBVTT") {
		return parseVTT(normalized)
	}
	return parseSRT(normalized)
}

// parseSRT reads numbered blocks separated by blank lines. Blocks
// without a timing line are rejected; stray blank lines are tolerated.
func parseSRT(content string) (*parsedFile, error) {
	file := &parsedFile{format: cue.FormatSRT}

	for _, chunk := range splitBlocks(content) {
		lines := strings.Split(chunk, "\n")

		identifier := ""
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			identifier = strings.TrimSpace(lines[0])
			lines = lines[1:]
		}
		if len(lines) == 0 || !strings.Contains(lines[0], "-->") {
			return nil, fmt.Errorf("block %q has no timing line", firstLine(chunk))
		}

		file.blocks = append(file.blocks, block{
			identifier: identifier,
			timing:     strings.TrimSpace(lines[0]),
			text:       strings.Join(lines[1:], "\n"),
		})
	}

	if len(file.blocks) == 0 {
		return nil, fmt.Errorf("no subtitle blocks found")
	}
	return file, nil
}

// parseVTT reads the WEBVTT preamble then cue blocks. NOTE, STYLE and
// REGION blocks are carried verbatim as untimed blocks.
func parseVTT(content string) (*parsedFile, error) {
	file := &parsedFile{format: cue.FormatVTT}

	chunks := splitBlocks(content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("empty WebVTT content")
	}
	file.header = strings.Split(chunks[0], "\n")

	for _, chunk := range chunks[1:] {
		lines := strings.Split(chunk, "\n")

		identifier := ""
		timingIdx := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timingIdx = i
				break
			}
		}
		switch timingIdx {
		case -1:
			// NOTE / STYLE / REGION block, kept verbatim.
			file.blocks = append(file.blocks, block{text: chunk})
			continue
		case 1:
			identifier = strings.TrimSpace(lines[0])
		case 0:
		default:
			return nil, fmt.Errorf("cue block %q has %d lines before its timing", firstLine(chunk), timingIdx)
		}

		file.blocks = append(file.blocks, block{
			identifier: identifier,
			timing:     strings.TrimSpace(lines[timingIdx]),
			text:       strings.Join(lines[timingIdx+1:], "\n"),
		})
	}

	hasCue := false
	for _, b := range file.blocks {
		if b.timed() {
			hasCue = true
			break
		}
	}
	if !hasCue {
		return nil, fmt.Errorf("no cue blocks found")
	}
	return file, nil
}

func render(file *parsedFile) string {
	var sb strings.Builder

	if len(file.header) > 0 {
		sb.WriteString(strings.Join(file.header, "\n"))
		sb.WriteString("\n\n")
	}

	for i, b := range file.blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		if !b.timed() {
			sb.WriteString(b.text)
			sb.WriteString("\n")
			continue
		}
		if b.identifier != "" {
			sb.WriteString(b.identifier)
			sb.WriteString("\n")
		}
		sb.WriteString(b.timing)
		sb.WriteString("\n")
		sb.WriteString(b.text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// splitBlocks splits content on runs of blank lines, dropping empty
// chunks.
func splitBlocks(content string) []string {
	chunks := make([]string, 0)
	for _, chunk := range strings.Split(content, "\n\n") {
		trimmed := strings.Trim(chunk, "\n")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		chunks = append(chunks, trimmed)
	}
	return chunks
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
