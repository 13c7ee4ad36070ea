package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// ModelJob is one (job, provider, model) entry for a multi-model run.
// An empty JobID gets a generated one; the effective id keys the
// result map and the callbacks.
type ModelJob struct {
	JobID    string
	Provider string
	Model    string
}

// MultiOptions configures a multi-model run. Callbacks fire per job as
// soon as that job settles and may run concurrently.
type MultiOptions struct {
	SourceLang       language.Tag
	TargetLang       language.Tag
	BatchCount       int
	BatchConcurrency int
	Scope            string

	OnJobProgress func(jobID string, percent float64)
	OnJobComplete func(jobID string, res Result)
	OnJobError    func(jobID string, err error)
}

// Orchestrator runs the pipeline once per model job concurrently. It
// owns the per-job cancellation registry, so one job can be cancelled
// without touching its siblings.
type Orchestrator struct {
	pipeline *Pipeline

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewOrchestrator(p *Pipeline) *Orchestrator {
	return &Orchestrator{
		pipeline: p,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Cancel requests cancellation of one running job. Returns false when
// no job with that id is in flight.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// TranslateMultiModel runs every job to a settled state and returns
// the complete result map: every job id is present whether it
// succeeded, failed, or was cancelled.
func (o *Orchestrator) TranslateMultiModel(ctx context.Context, raw string, jobs []ModelJob, opts MultiOptions) map[string]Result {
	results := make(map[string]Result, len(jobs))
	var resultsMu sync.Mutex
	var g errgroup.Group

	for _, job := range jobs {
		job := job
		if job.JobID == "" {
			job.JobID = uuid.NewString()
		}

		jobCtx, cancel := context.WithCancel(ctx)
		o.register(job.JobID, cancel)

		g.Go(func() error {
			defer cancel()
			defer o.unregister(job.JobID)

			jobOpts := Options{
				Provider:         job.Provider,
				Model:            job.Model,
				SourceLang:       opts.SourceLang,
				TargetLang:       opts.TargetLang,
				BatchCount:       opts.BatchCount,
				BatchConcurrency: opts.BatchConcurrency,
				Scope:            opts.Scope,
			}
			if opts.OnJobProgress != nil {
				jobID := job.JobID
				jobOpts.OnProgress = func(percent float64) {
					opts.OnJobProgress(jobID, percent)
				}
			}

			res := o.pipeline.Translate(jobCtx, raw, jobOpts)

			resultsMu.Lock()
			results[job.JobID] = res
			resultsMu.Unlock()

			switch {
			case res.Err != nil:
				log.Error("Model job %s (%s/%s) failed: %v", job.JobID, job.Provider, job.Model, res.Err)
				if opts.OnJobError != nil {
					opts.OnJobError(job.JobID, res.Err)
				}
			case res.Cancelled:
				log.Info("Model job %s (%s/%s) cancelled", job.JobID, job.Provider, job.Model)
				if opts.OnJobComplete != nil {
					opts.OnJobComplete(job.JobID, res)
				}
			default:
				if opts.OnJobComplete != nil {
					opts.OnJobComplete(job.JobID, res)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) register(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}
