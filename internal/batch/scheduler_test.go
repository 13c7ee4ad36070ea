package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/cue"
)

// fakeBackend answers each call by echoing the requested ids with a
// translation marker, unless a hook overrides the behavior.
type fakeBackend struct {
	mu    sync.Mutex
	calls int32
	hook  func(call int, items []Item) (Response, error)
}

func (b *fakeBackend) Call(ctx context.Context, req Request) (Response, error) {
	call := int(atomic.AddInt32(&b.calls, 1))

	var items []Item
	if err := json.Unmarshal([]byte(req.UserPrompt), &items); err != nil {
		return Response{}, fmt.Errorf("bad user prompt: %w", err)
	}

	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()
	if hook != nil {
		return hook(call, items)
	}
	return echoResponse(items), nil
}

func echoResponse(items []Item) Response {
	cues := make([]cue.TranslatedCue, len(items))
	for i, item := range items {
		cues[i] = cue.TranslatedCue{ID: item.ID, Text: "译:" + item.Text}
	}
	payload, _ := json.Marshal(StructuredResponse{Cues: cues})
	return Response{Content: string(payload), Usage: Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}}
}

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: fmt.Sprintf("c%d", i+1), Text: fmt.Sprintf("line %d", i+1)}
	}
	return items
}

func newTestScheduler(b Backend) *Scheduler {
	return NewScheduler(b, "openrouter", "test-model", language.English, language.Chinese)
}

func TestTranslate_SingleBatchSuccess(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(&fakeBackend{})
	res, err := s.Translate(context.Background(), makeItems(3), Options{BatchCount: 1})
	require.NoError(t, err)
	require.Len(t, res.Cues, 3)
	assert.Equal(t, "c1", res.Cues[0].ID)
	assert.Equal(t, "译:line 1", res.Cues[0].Text)
	assert.Empty(t, res.FailedIDs)
	assert.Equal(t, 30, res.Usage.TotalTokens)
}

func TestTranslate_OrderDeterministicAcrossCompletionOrder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		// First-claimed batches finish last.
		time.Sleep(time.Duration(10-call) * 5 * time.Millisecond)
		return echoResponse(items), nil
	}

	items := makeItems(10)
	s := newTestScheduler(backend)
	res, err := s.Translate(context.Background(), items, Options{BatchCount: 4, Concurrency: 4})
	require.NoError(t, err)
	require.Len(t, res.Cues, 10)
	for i, item := range items {
		assert.Equal(t, item.ID, res.Cues[i].ID)
	}
}

func TestTranslate_ConcurrencyBounded(t *testing.T) {
	t.Parallel()

	var inFlight, peak int32
	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return echoResponse(items), nil
	}

	s := newTestScheduler(backend)
	_, err := s.Translate(context.Background(), makeItems(8), Options{BatchCount: 8, Concurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestTranslate_TruncatedBatchIsError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		if items[0].ID == "c5" { // second of three batches
			return Response{Content: "partial", Truncated: true, FinishReason: "length"}, nil
		}
		return echoResponse(items), nil
	}

	s := newTestScheduler(backend)
	res, err := s.Translate(context.Background(), makeItems(12), Options{BatchCount: 3, Concurrency: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Contains(t, err.Error(), "batch 2/3")
	assert.True(t, res.Truncated)
}

func TestTranslate_EmptyContentIsError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		return Response{Content: "   "}, nil
	}

	s := newTestScheduler(backend)
	_, err := s.Translate(context.Background(), makeItems(2), Options{BatchCount: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestTranslate_MalformedContentIsError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		return Response{Content: "sorry, I cannot do that"}, nil
	}

	s := newTestScheduler(backend)
	_, err := s.Translate(context.Background(), makeItems(2), Options{BatchCount: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestTranslate_UnknownIDsDiscardedMissingIDsFail(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		payload, _ := json.Marshal(StructuredResponse{Cues: []cue.TranslatedCue{
			{ID: items[0].ID, Text: "ok"},
			{ID: "intruder", Text: "never requested"},
		}})
		return Response{Content: string(payload)}, nil
	}

	s := newTestScheduler(backend)
	res, err := s.Translate(context.Background(), makeItems(2), Options{BatchCount: 1})
	require.NoError(t, err)
	require.Len(t, res.Cues, 1)
	assert.Equal(t, "c1", res.Cues[0].ID)
	assert.Equal(t, []string{"c2"}, res.FailedIDs)
}

func TestTranslate_AllowPartialReroutesFailedBatch(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		if items[0].ID == "c1" {
			return Response{}, errors.New("rate limited")
		}
		return echoResponse(items), nil
	}

	items := makeItems(4)
	s := newTestScheduler(backend)
	res, err := s.Translate(context.Background(), items, Options{BatchCount: 2, Concurrency: 1, AllowPartial: true})
	require.NoError(t, err)

	require.Len(t, res.Cues, 2)
	assert.Equal(t, "c3", res.Cues[0].ID)
	failed := append([]string(nil), res.FailedIDs...)
	sort.Strings(failed)
	assert.Equal(t, []string{"c1", "c2"}, failed)
}

func TestTranslate_StrictModeSurfacesFirstError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		return Response{}, errors.New("backend down")
	}

	s := newTestScheduler(backend)
	_, err := s.Translate(context.Background(), makeItems(6), Options{BatchCount: 3, Concurrency: 1})
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 0, batchErr.Batch)
	assert.Contains(t, err.Error(), "backend down")
}

func TestTranslate_CancelledBeforeStartMakesNoCalls(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScheduler(backend)
	_, err := s.Translate(ctx, makeItems(4), Options{BatchCount: 2})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, atomic.LoadInt32(&backend.calls))
}

func TestTranslate_BackendReportedCancellation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		return Response{Cancelled: true}, nil
	}

	s := newTestScheduler(backend)
	_, err := s.Translate(context.Background(), makeItems(2), Options{BatchCount: 1})
	require.ErrorIs(t, err, ErrCancelled)
}

func TestTranslate_CancellationStopsClaimingNewBatches(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{}
	backend.hook = func(call int, items []Item) (Response, error) {
		cancel()
		return echoResponse(items), nil
	}

	s := newTestScheduler(backend)
	_, err := s.Translate(ctx, makeItems(8), Options{BatchCount: 8, Concurrency: 1})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
}

func TestTranslate_ProgressInterpolated(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	reported := make([]float64, 0)

	s := newTestScheduler(&fakeBackend{})
	_, err := s.Translate(context.Background(), makeItems(4), Options{
		BatchCount:    4,
		Concurrency:   1,
		ProgressStart: 40,
		ProgressEnd:   80,
		OnProgress: func(p float64) {
			mu.Lock()
			reported = append(reported, p)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 60, 70, 80}, reported)
}

func TestTranslate_EmptyItems(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(&fakeBackend{})
	res, err := s.Translate(context.Background(), nil, Options{BatchCount: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Cues)
	assert.Empty(t, res.FailedIDs)
}

func TestSplitBatches(t *testing.T) {
	t.Parallel()

	items := makeItems(10)

	one := splitBatches(items, 1)
	require.Len(t, one, 1)
	assert.Len(t, one[0], 10)

	three := splitBatches(items, 3)
	require.Len(t, three, 3)
	assert.Len(t, three[0], 4)
	assert.Len(t, three[1], 3)
	assert.Len(t, three[2], 3)

	tooMany := splitBatches(makeItems(2), 5)
	require.Len(t, tooMany, 2)

	// Contiguity: concatenation reproduces the input.
	flat := make([]Item, 0, 10)
	for _, b := range three {
		flat = append(flat, b...)
	}
	assert.Equal(t, items, flat)
}
