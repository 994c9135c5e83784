package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/nsqio/go-nsq"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

type runTally struct {
	expected int // -1 until Expect is called
	seen     map[string]bool
	summary  ingest.Summary
}

// ResultConsumer folds result events into one ingest.Summary per dispatch
// run, keyed by correlation ID. Redelivered results are counted once.
type ResultConsumer struct {
	mu      sync.Mutex
	runs    map[string]*runTally
	pending int
	done    chan struct{}
	// onComplete is optional.
	onComplete func(correlationID string, s ingest.Summary)
}

func NewResultConsumer(onComplete func(correlationID string, s ingest.Summary)) *ResultConsumer {
	return &ResultConsumer{
		runs:       make(map[string]*runTally),
		done:       make(chan struct{}),
		onComplete: onComplete,
	}
}

// Expect registers a run of total dispatched locations. Results that arrived
// before the call are kept.
func (h *ResultConsumer) Expect(correlationID, origin string, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.tally(correlationID)
	r.expected = total
	r.summary.Origin = origin
	r.summary.Discovered = total
	r.summary.Pending = total
	h.pending++
	h.maybeComplete(correlationID, r)
}

// Wait blocks until every expected run has all of its results.
func (h *ResultConsumer) Wait(ctx context.Context) error {
	h.mu.Lock()
	if h.pending == 0 {
		h.mu.Unlock()
		return nil
	}
	done := h.done
	h.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ResultConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var event LocationResult
	if err := json.Unmarshal(m.Body, &event); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid result json", "error", err)
		return nil
	}
	if event.CorrelationID == "" || event.LocationID == "" {
		slog.Error("poison pill: result without correlation or location id")
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.tally(event.CorrelationID)
	if r.seen[event.LocationID] {
		return nil
	}
	r.seen[event.LocationID] = true

	res := ingest.Result{
		Location:   source.Location{Origin: event.Origin, URL: event.URL},
		Outcome:    event.Outcome,
		DocumentID: event.DocumentID,
		Chunks:     event.Chunks,
	}
	if event.Error != "" {
		res.Err = errors.New(event.Error)
	}
	r.summary.Add(res)
	h.maybeComplete(event.CorrelationID, r)
	return nil
}

func (h *ResultConsumer) tally(correlationID string) *runTally {
	r, ok := h.runs[correlationID]
	if !ok {
		r = &runTally{expected: -1, seen: make(map[string]bool)}
		h.runs[correlationID] = r
	}
	return r
}

// maybeComplete must be called with h.mu held.
func (h *ResultConsumer) maybeComplete(correlationID string, r *runTally) {
	if r.expected < 0 || len(r.seen) < r.expected {
		return
	}
	delete(h.runs, correlationID)

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	s := r.summary
	slog.InfoContext(ctx, "dispatch run completed",
		"origin", s.Origin, "ingested", s.Ingested, "skipped", s.Skipped, "failed", s.Failed, "busy", s.Busy)
	if h.onComplete != nil {
		h.onComplete(correlationID, s)
	}

	h.pending--
	if h.pending == 0 {
		close(h.done)
		h.done = make(chan struct{})
	}
}
