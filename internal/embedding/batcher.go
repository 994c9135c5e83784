package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var ErrEmptyVector = errors.New("provider returned an empty vector")

type Options struct {
	BatchSize   int
	MaxInFlight int
	MaxRetries  int
	CallTimeout time.Duration
	// RateLimit is the maximum number of provider calls per second; 0 disables it.
	RateLimit  float64
	NewBackOff func() backoff.BackOff
}

// FailedBatch identifies the input range [Start, End) of a batch that failed after retries.
type FailedBatch struct {
	Index int
	Start int
	End   int
	Err   error
}

// BatchError lists every failed batch of an EmbedAll call.
type BatchError struct {
	Failed []FailedBatch
	Total  int
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("batch %d [%d:%d]: %v", f.Index, f.Start, f.End, f.Err))
	}
	return fmt.Sprintf("%d of %d embedding batches failed: %s", len(e.Failed), e.Total, strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// Batcher is safe for concurrent use. The in-flight limit is shared by every
// caller, so concurrent documents queue for provider capacity instead of failing.
type Batcher struct {
	provider Provider
	opts     Options
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
}

func NewBatcher(p Provider, opts Options) *Batcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}

	b := &Batcher{
		provider: p,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
	}
	if opts.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return b
}

func (b *Batcher) Model() string { return b.provider.Model() }

// Embed embeds a single text, typically a query.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedAll returns one vector per text in input order. Batches are independent:
// a failing batch does not cancel its siblings, and the returned *BatchError
// names every batch that exhausted its retries.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	total := (len(texts) + b.opts.BatchSize - 1) / b.opts.BatchSize

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []FailedBatch
	)
	for i := 0; i < total; i++ {
		start := i * b.opts.BatchSize
		end := min(start+b.opts.BatchSize, len(texts))

		wg.Add(1)
		go func(idx, start, end int) {
			defer wg.Done()

			vecs, err := b.call(ctx, texts[start:end])
			if err != nil {
				slog.WarnContext(ctx, "embedding batch failed", "batch", idx, "start", start, "end", end, "error", err)
				mu.Lock()
				failed = append(failed, FailedBatch{Index: idx, Start: start, End: end, Err: err})
				mu.Unlock()
				return
			}
			copy(out[start:end], vecs)
		}(i, start, end)
	}
	wg.Wait()

	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })
		return nil, &BatchError{Failed: failed, Total: total}
	}
	return out, nil
}

// call runs one batch under the shared in-flight limit, retrying transient errors.
func (b *Batcher) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	var result [][]float32
	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		callCtx := ctx
		if b.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.opts.CallTimeout)
			defer cancel()
		}

		vecs, err := b.provider.Embed(callCtx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			slog.DebugContext(ctx, "retrying embedding call", "attempt", attempt, "error", err)
			return err
		}
		if len(vecs) != len(texts) {
			return backoff.Permanent(fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts)))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return backoff.Permanent(fmt.Errorf("%w at position %d", ErrEmptyVector, i))
			}
		}
		result = vecs
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b.opts.NewBackOff(), uint64(b.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}
