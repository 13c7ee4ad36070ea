package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

const defaultConcurrency = 2

// Scheduler runs translation phases against one backend/model pair.
type Scheduler struct {
	backend    Backend
	provider   string
	model      string
	sourceLang language.Tag
	targetLang language.Tag
}

func NewScheduler(backend Backend, provider, model string, sourceLang, targetLang language.Tag) *Scheduler {
	return &Scheduler{
		backend:    backend,
		provider:   provider,
		model:      model,
		sourceLang: sourceLang,
		targetLang: targetLang,
	}
}

// batchOutcome is the settled state of one batch.
type batchOutcome struct {
	cues      []cue.TranslatedCue
	failedIDs []string
	usage     Usage
	truncated bool
	cancelled bool
	err       error
}

// Translate runs the items through the worker pool and merges batch
// results back into original item order. With AllowPartial unset, the
// first batch error aborts the phase; with it set, failed batches
// contribute their ids to Result.FailedIDs instead.
func (s *Scheduler) Translate(ctx context.Context, items []Item, opts Options) (Result, error) {
	if len(items) == 0 {
		return Result{Cues: []cue.TranslatedCue{}, FailedIDs: []string{}}, nil
	}
	if ctx.Err() != nil {
		return Result{}, ErrCancelled
	}

	batches := splitBatches(items, opts.BatchCount)
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if concurrency > len(batches) {
		concurrency = len(batches)
	}

	systemPrompt := BuildSystemPrompt(s.sourceLang, s.targetLang)
	schema := ResponseSchema()

	outcomes := make([]batchOutcome, len(batches))
	var (
		next      int64
		completed int64
		mu        sync.Mutex
		firstErr  error
	)

	abort := func() bool {
		if !opts.AllowPartial {
			mu.Lock()
			defer mu.Unlock()
			return firstErr != nil
		}
		return false
	}

	var g errgroup.Group
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil || abort() {
					return nil
				}
				idx := int(atomic.AddInt64(&next, 1)) - 1
				if idx >= len(batches) {
					return nil
				}

				out := s.runBatch(ctx, systemPrompt, schema, batches[idx], idx, len(batches))
				outcomes[idx] = out

				if out.err != nil && !out.cancelled {
					mu.Lock()
					if firstErr == nil {
						firstErr = &BatchError{Batch: idx, Total: len(batches), Err: out.err}
					}
					mu.Unlock()
				}

				done := atomic.AddInt64(&completed, 1)
				reportProgress(opts, int(done), len(batches))
			}
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return Result{}, ErrCancelled
	}
	for _, out := range outcomes {
		if out.cancelled {
			return Result{}, ErrCancelled
		}
	}

	return s.merge(batches, outcomes, opts, firstErr)
}

// merge collects outcomes in batch-index order so the final cue order
// is deterministic regardless of worker completion order.
func (s *Scheduler) merge(batches [][]Item, outcomes []batchOutcome, opts Options, firstErr error) (Result, error) {
	result := Result{
		Cues:      make([]cue.TranslatedCue, 0),
		FailedIDs: make([]string, 0),
	}
	for idx, out := range outcomes {
		result.Usage.Add(out.usage)
		if out.truncated {
			result.Truncated = true
		}
		if out.err != nil {
			if opts.AllowPartial {
				// The whole batch reroutes to the caller.
				for _, item := range batches[idx] {
					result.FailedIDs = append(result.FailedIDs, item.ID)
				}
				log.Warn("Batch %d/%d failed, rerouting %d cues: %v", idx+1, len(outcomes), len(batches[idx]), out.err)
			}
			continue
		}
		result.Cues = append(result.Cues, out.cues...)
		result.FailedIDs = append(result.FailedIDs, out.failedIDs...)
	}

	if !opts.AllowPartial && firstErr != nil {
		return result, firstErr
	}
	return result, nil
}

// runBatch performs one backend call and classifies the outcome.
// Cancellation takes priority over every other classification.
func (s *Scheduler) runBatch(ctx context.Context, systemPrompt string, schema map[string]interface{}, items []Item, idx, total int) batchOutcome {
	if ctx.Err() != nil {
		return batchOutcome{cancelled: true, err: ErrCancelled}
	}

	userPrompt, err := BuildUserPrompt(items)
	if err != nil {
		return batchOutcome{err: err}
	}

	resp, err := s.backend.Call(ctx, Request{
		SystemPrompt:   systemPrompt,
		UserPrompt:     userPrompt,
		Provider:       s.provider,
		Model:          s.model,
		ResponseSchema: schema,
	})

	out := batchOutcome{usage: resp.Usage}
	if ctx.Err() != nil || resp.Cancelled {
		out.cancelled = true
		out.err = ErrCancelled
		return out
	}
	if err != nil {
		out.err = fmt.Errorf("backend call failed: %w", err)
		return out
	}
	if resp.Truncated || resp.FinishReason == "length" {
		out.truncated = true
		out.err = ErrTruncated
		return out
	}
	if strings.TrimSpace(resp.Content) == "" {
		out.err = ErrEmptyResponse
		return out
	}

	parsed, err := ParseStructured(resp.Content)
	if err != nil {
		out.err = err
		return out
	}

	out.cues, out.failedIDs = SanitizeIDs(items, parsed)
	if len(out.failedIDs) > 0 {
		log.Warn("Batch %d/%d: %d of %d requested cues missing from response", idx+1, total, len(out.failedIDs), len(items))
	}
	return out
}

// splitBatches cuts items into count contiguous near-equal slices.
func splitBatches(items []Item, count int) [][]Item {
	if count <= 1 || len(items) <= 1 {
		return [][]Item{items}
	}
	if count > len(items) {
		count = len(items)
	}

	batches := make([][]Item, 0, count)
	size := len(items) / count
	rem := len(items) % count
	start := 0
	for i := 0; i < count; i++ {
		end := start + size
		if i < rem {
			end++
		}
		batches = append(batches, items[start:end])
		start = end
	}
	return batches
}

func reportProgress(opts Options, done, total int) {
	if opts.OnProgress == nil || total == 0 {
		return
	}
	span := opts.ProgressEnd - opts.ProgressStart
	opts.OnProgress(opts.ProgressStart + span*float64(done)/float64(total))
}
