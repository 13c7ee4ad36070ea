// Package batch translates a list of prompt items through a bounded
// worker pool, splitting the items into contiguous batches and
// validating each structured backend response against the batch's id
// set.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

// Item is one (id, text) pair to translate.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Usage accumulates backend token accounting across batches.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *Usage) Add(v Usage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.TotalTokens += v.TotalTokens
}

// Request is one backend call: prompts plus routing and the JSON
// schema the structured response must satisfy.
type Request struct {
	SystemPrompt   string
	UserPrompt     string
	Provider       string
	Model          string
	ResponseSchema map[string]interface{}
}

// Response is the backend's answer to one call.
type Response struct {
	Content      string
	Truncated    bool
	FinishReason string
	Cancelled    bool
	Usage        Usage
}

// Backend is the text-generation client contract the scheduler calls.
// Implementations must honor ctx cancellation.
type Backend interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Options controls one scheduling phase.
type Options struct {
	// BatchCount splits the items into this many contiguous batches;
	// values below 2 disable splitting.
	BatchCount int
	// Concurrency bounds outstanding backend calls. Default 2.
	Concurrency int
	// AllowPartial tolerates batch errors: failed ids are reported for
	// rerouting instead of aborting the phase.
	AllowPartial bool
	// Progress for this phase is interpolated between ProgressStart
	// and ProgressEnd and reported after each batch settles.
	// OnProgress may be invoked from concurrent workers.
	ProgressStart float64
	ProgressEnd   float64
	OnProgress    func(percent float64)
}

// Result is the merged outcome of one phase, in original item order.
type Result struct {
	Cues      []cue.TranslatedCue
	FailedIDs []string
	Usage     Usage
	Truncated bool
}

var (
	// ErrCancelled marks a run stopped by its cancellation signal. It
	// is never conflated with translation errors.
	ErrCancelled = errors.New("translation cancelled")
	// ErrTruncated marks a response cut off by a length limit; callers
	// should retry with a higher batch count.
	ErrTruncated = errors.New("response truncated by length limit")
	// ErrEmptyResponse marks a backend response with no content.
	ErrEmptyResponse = errors.New("backend returned no content")
	// ErrMalformedResponse marks a response that is not a well-formed
	// structured cue list.
	ErrMalformedResponse = errors.New("malformed structured response")
)

// BatchError wraps a batch-local failure with its position so phase
// errors name the offending batch.
type BatchError struct {
	Batch int // zero-based index
	Total int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d/%d: %v", e.Batch+1, e.Total, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
