// Package pipeline sequences one subtitle translation run: parse
// check, classification, theme resolution through the translation
// memory and the backend, strict main translation, coverage
// validation, reconstruction. Cancellation is observed at every phase
// boundary and produces a result distinct from errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/batch"
	"github.com/MimeLyc/subtitle-pipeline/internal/classify"
	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
	"github.com/MimeLyc/subtitle-pipeline/internal/memory"
	"github.com/MimeLyc/subtitle-pipeline/internal/theme"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

var (
	// ErrUnparsable marks content the parser could not turn into cues.
	ErrUnparsable = errors.New("subtitle content could not be parsed")
	// ErrNoCues marks content that parsed but contains no cues.
	ErrNoCues = errors.New("subtitle contains no cues")
)

// Parser is the format collaborator turning raw content into cues.
type Parser interface {
	Parse(raw string) (*cue.Document, error)
}

// Reconstructor is the format collaborator producing the final file
// from the parsed document and the translated cues. Cues absent from
// translated keep their original text.
type Reconstructor interface {
	Reconstruct(doc *cue.Document, translated []cue.TranslatedCue, originalRaw string) (string, error)
}

// Progress segment boundaries across phases, in percent.
const (
	progressClassified = 5
	progressThemeEnd   = 35
	progressMainEnd    = 95
	progressDone       = 100
)

// Options configures one translation run.
type Options struct {
	Provider   string
	Model      string
	SourceLang language.Tag
	TargetLang language.Tag

	// BatchCount splits each translation phase into this many batches.
	BatchCount int
	// BatchConcurrency bounds in-flight backend calls per phase.
	BatchConcurrency int

	// Scope selects the translation-memory partition, typically
	// memory.ScopeForFile of the subtitle path. Empty disables the
	// memory entirely.
	Scope string

	OnProgress func(percent float64)
}

// Result is the terminal state of one run. Exactly one of Success,
// Cancelled, or Err != nil describes the outcome; Usage and Warnings
// are populated on every path that reached the backend.
type Result struct {
	Success   bool
	Content   string
	Cancelled bool
	Truncated bool
	Err       error
	Usage     batch.Usage
	Warnings  []string
}

// Pipeline wires the collaborators for repeated runs. Safe for
// concurrent use; all per-run state lives in Translate.
type Pipeline struct {
	parser  Parser
	recon   Reconstructor
	backend batch.Backend
	cache   *memory.Cache
}

// New builds a pipeline. cache may be nil to run without a
// translation memory.
func New(parser Parser, recon Reconstructor, backend batch.Backend, cache *memory.Cache) *Pipeline {
	return &Pipeline{parser: parser, recon: recon, backend: backend, cache: cache}
}

// Translate runs the full phase sequence over raw subtitle content.
func (p *Pipeline) Translate(ctx context.Context, raw string, opts Options) Result {
	res := Result{Warnings: []string{}}
	if ctx.Err() != nil {
		res.Cancelled = true
		return res
	}

	doc, err := p.parser.Parse(raw)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrUnparsable, err)
		return res
	}
	if doc == nil || len(doc.Cues) == 0 {
		res.Err = ErrNoCues
		return res
	}

	parts := classify.Split(doc.Cues)
	log.Info("Classified %d cues: %d passthrough, %d theme, %d main (%.1f%% elided)",
		parts.Stats.Total, parts.Stats.Passthrough, parts.Stats.Theme, parts.Stats.Main, parts.Stats.ElidedPercent)

	if parts.Stats.Theme == 0 && parts.Stats.Main == 0 {
		res.Success = true
		res.Content = raw
		reportProgress(opts, progressDone)
		return res
	}
	reportProgress(opts, progressClassified)

	scheduler := batch.NewScheduler(p.backend, opts.Provider, opts.Model, opts.SourceLang, opts.TargetLang)

	themeTranslated, fallback, themeUsage, err := p.resolveThemes(ctx, scheduler, parts.Theme, opts)
	res.Usage.Add(themeUsage)
	if err != nil {
		if errors.Is(err, batch.ErrCancelled) {
			res.Cancelled = true
			return res
		}
		res.Err = fmt.Errorf("theme phase failed: %w", err)
		return res
	}
	if ctx.Err() != nil {
		res.Cancelled = true
		return res
	}

	mainCues := orderedMainCues(doc.Cues, parts.Main, fallback)
	mainTranslated := make([]cue.TranslatedCue, 0)
	if len(mainCues) > 0 {
		items := make([]batch.Item, len(mainCues))
		for i, c := range mainCues {
			items[i] = batch.Item{ID: c.ID, Text: c.Skeleton}
		}
		out, err := scheduler.Translate(ctx, items, batch.Options{
			BatchCount:    opts.BatchCount,
			Concurrency:   opts.BatchConcurrency,
			ProgressStart: progressThemeEnd,
			ProgressEnd:   progressMainEnd,
			OnProgress:    opts.OnProgress,
		})
		res.Usage.Add(out.Usage)
		if out.Truncated {
			res.Truncated = true
		}
		if err != nil {
			if errors.Is(err, batch.ErrCancelled) {
				res.Cancelled = true
				return res
			}
			res.Err = fmt.Errorf("main phase failed: %w", err)
			return res
		}
		mainTranslated = out.Cues
	}
	if ctx.Err() != nil {
		res.Cancelled = true
		return res
	}

	res.Warnings = append(res.Warnings, validateRun(doc.Cues, parts.Passthrough, mainCues, themeTranslated, mainTranslated)...)
	for _, w := range res.Warnings {
		log.Warn("Validation: %s", w)
	}

	combined := make([]cue.TranslatedCue, 0, len(themeTranslated)+len(mainTranslated))
	combined = append(combined, themeTranslated...)
	combined = append(combined, mainTranslated...)

	content, err := p.recon.Reconstruct(doc, combined, raw)
	if err != nil {
		res.Err = fmt.Errorf("reconstruct failed: %w", err)
		return res
	}
	res.Content = content
	res.Success = true
	reportProgress(opts, progressDone)
	return res
}

// resolveThemes runs the two theme sub-phases: translation-memory
// lookup, then a partial-tolerant backend pass over the misses. Groups
// that cannot be resolved come back as fallback cues for the main
// phase. Only cancellation and worker-pool failures are returned as
// errors.
func (p *Pipeline) resolveThemes(ctx context.Context, scheduler *batch.Scheduler, themeCues []cue.Cue, opts Options) ([]cue.TranslatedCue, []cue.Cue, batch.Usage, error) {
	var usage batch.Usage
	translated := make([]cue.TranslatedCue, 0)

	groups, fallback := theme.BuildGroups(themeCues)
	if len(groups) == 0 {
		return translated, fallback, usage, nil
	}
	if ctx.Err() != nil {
		return nil, nil, usage, batch.ErrCancelled
	}

	misses := groups
	if p.cache != nil && opts.Scope != "" {
		keys := make([]string, len(groups))
		for i, g := range groups {
			keys[i] = p.entryKey(opts, g.Signature)
		}
		hits := p.cache.Lookup(ctx, opts.Scope, keys)

		touched := make([]string, 0, len(hits))
		misses = make([]theme.SignatureGroup, 0, len(groups))
		for i, g := range groups {
			entry, ok := hits[keys[i]]
			if !ok {
				misses = append(misses, g)
				continue
			}
			expanded, err := g.Expand(entry.Translated)
			if err != nil {
				log.Warn("Cached theme translation %q no longer expands, retranslating: %v", g.Signature, err)
				misses = append(misses, g)
				continue
			}
			translated = append(translated, expanded...)
			touched = append(touched, keys[i])
		}
		p.cache.Touch(opts.Scope, touched)
		log.Info("Theme memory: %d groups, %d hits, %d misses", len(groups), len(touched), len(misses))
	}

	if len(misses) == 0 {
		return translated, fallback, usage, nil
	}
	if ctx.Err() != nil {
		return nil, nil, usage, batch.ErrCancelled
	}

	items := make([]batch.Item, len(misses))
	byID := make(map[string]theme.SignatureGroup, len(misses))
	for i, g := range misses {
		id := fmt.Sprintf("theme-%d", i)
		items[i] = batch.Item{ID: id, Text: g.Template}
		byID[id] = g
	}

	out, err := scheduler.Translate(ctx, items, batch.Options{
		BatchCount:    opts.BatchCount,
		Concurrency:   opts.BatchConcurrency,
		AllowPartial:  true,
		ProgressStart: progressClassified,
		ProgressEnd:   progressThemeEnd,
		OnProgress:    opts.OnProgress,
	})
	usage.Add(out.Usage)
	if err != nil {
		return nil, nil, usage, err
	}

	upserts := make(map[string]memory.Entry)
	for _, tc := range out.Cues {
		g, ok := byID[tc.ID]
		if !ok {
			continue
		}
		expanded, expErr := g.Expand(tc.Text)
		if expErr != nil {
			log.Warn("Theme group %q failed expansion, rerouting occurrences to main phase: %v", g.Signature, expErr)
			fallback = append(fallback, g.Occurrences...)
			continue
		}
		translated = append(translated, expanded...)
		if p.cache != nil && opts.Scope != "" {
			upserts[p.entryKey(opts, g.Signature)] = memory.Entry{
				Signature:  g.Signature,
				SourceLang: opts.SourceLang.String(),
				TargetLang: opts.TargetLang.String(),
				Provider:   opts.Provider,
				Model:      opts.Model,
				Translated: tc.Text,
			}
		}
	}
	for _, id := range out.FailedIDs {
		g, ok := byID[id]
		if !ok {
			continue
		}
		log.Warn("Theme group %q unresolved, rerouting %d occurrences to main phase", g.Signature, len(g.Occurrences))
		fallback = append(fallback, g.Occurrences...)
	}

	if len(upserts) > 0 {
		if err := p.cache.Upsert(ctx, opts.Scope, upserts); err != nil {
			log.Warn("Translation memory upsert failed for scope %s: %v", opts.Scope, err)
		}
	}
	return translated, fallback, usage, nil
}

func (p *Pipeline) entryKey(opts Options, signature string) string {
	return memory.Key(opts.SourceLang.String(), opts.TargetLang.String(), opts.Provider, opts.Model, signature)
}

// orderedMainCues merges the ordinary main cues with the theme
// fallbacks, restoring document order.
func orderedMainCues(all, main, fallback []cue.Cue) []cue.Cue {
	wanted := make(map[string]bool, len(main)+len(fallback))
	for _, c := range main {
		wanted[c.ID] = true
	}
	for _, c := range fallback {
		wanted[c.ID] = true
	}

	ordered := make([]cue.Cue, 0, len(wanted))
	for _, c := range all {
		if wanted[c.ID] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

// validateRun checks id coverage across passthrough, theme, and main
// outputs, plus placeholder fidelity of main translations. Problems
// are warnings only; reconstruction proceeds with what is available.
func validateRun(all, passthrough, mainCues []cue.Cue, themeTranslated, mainTranslated []cue.TranslatedCue) []string {
	warnings := batch.ValidateCoverage(cue.IDs(all),
		cue.IDs(passthrough), translatedIDs(themeTranslated), translatedIDs(mainTranslated))

	skeletons := make(map[string]string, len(mainCues))
	for _, c := range mainCues {
		skeletons[c.ID] = c.Skeleton
	}
	for _, tc := range mainTranslated {
		skeleton, ok := skeletons[tc.ID]
		if !ok {
			continue
		}
		if !cue.SameTokenMultiset(cue.Tokens(skeleton), cue.Tokens(tc.Text)) {
			warnings = append(warnings, fmt.Sprintf("cue %s placeholder tokens differ from source", tc.ID))
		}
	}
	return warnings
}

func translatedIDs(cues []cue.TranslatedCue) []string {
	ids := make([]string, 0, len(cues))
	for _, tc := range cues {
		ids = append(ids, tc.ID)
	}
	return ids
}

func reportProgress(opts Options, percent float64) {
	if opts.OnProgress != nil {
		opts.OnProgress(percent)
	}
}
