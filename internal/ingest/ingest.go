// Package ingest drives locations through fetch, extraction, chunking,
// embedding and indexing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/extract"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/text"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

var (
	ErrRunLocked = errors.New("ingestion already running for origin")
	// ErrLedger marks results that failed on ledger access rather than on the
	// location itself.
	ErrLedger = errors.New("ledger unavailable")
	// ErrClaimLost is returned by a Ledger when the claim token no longer owns
	// the location, for example after another run took over a stale claim.
	ErrClaimLost = errors.New("location claim lost")
)

type Outcome string

const (
	OutcomeIngested      Outcome = "ingested"
	OutcomeTooLarge      Outcome = "too_large"
	OutcomeUnextractable Outcome = "unextractable"
	OutcomeFailed        Outcome = "failed"
	// OutcomeBusy means another run holds the claim on the location.
	OutcomeBusy Outcome = "busy"
)

// Ledger records per-location progress. features/location.Service implements it.
type Ledger interface {
	Filter(ctx context.Context, locs []source.Location, force bool) ([]source.Location, error)
	// Claim returns an empty token when loc is not claimable.
	Claim(ctx context.Context, loc source.Location, force bool) (string, error)
	Complete(ctx context.Context, id, token, documentID, contentHash string, chunkCount int) error
	Skip(ctx context.Context, id, token, outcome, reason string) error
	Fail(ctx context.Context, id, token, reason string) error
}

type Embedder interface {
	Model() string
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// RunLock keeps two processes from ingesting the same origin at once.
type RunLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

type Deps struct {
	Ledger    Ledger
	Extractor *extract.Extractor
	Embedder  Embedder
	Index     vector.Index
	// Lock is optional.
	Lock RunLock
}

type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	Concurrency     int
	MaxPayloadBytes int64
	FetchMaxRetries int
	WorkspaceDir    string
	LockTTL         time.Duration
	NewBackOff      func() backoff.BackOff
}

type Result struct {
	Location    source.Location `json:"location"`
	Outcome     Outcome         `json:"outcome"`
	DocumentID  string          `json:"document_id,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	Chunks      int             `json:"chunks"`
	Err         error           `json:"-"`
}

type Summary struct {
	Origin     string   `json:"origin"`
	Discovered int      `json:"discovered"`
	Pending    int      `json:"pending"`
	Ingested   int      `json:"ingested"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Busy       int      `json:"busy"`
	Results    []Result `json:"results"`
}

// Add counts r under its outcome.
func (s *Summary) Add(r Result) {
	switch r.Outcome {
	case OutcomeIngested:
		s.Ingested++
	case OutcomeTooLarge, OutcomeUnextractable:
		s.Skipped++
	case OutcomeBusy:
		s.Busy++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

type Orchestrator struct {
	deps Deps
	opts Options
}

// New fails fast on an unusable chunk window.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if err := text.ValidateWindow(opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}
	if deps.Ledger == nil || deps.Extractor == nil || deps.Embedder == nil || deps.Index == nil {
		return nil, errors.New("ingest: ledger, extractor, embedder and index are required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// Prepare checks the index against the embedding model. A mismatch is fatal.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	return o.deps.Index.EnsureModel(ctx, o.deps.Embedder.Model())
}

// Pending discovers the adapter's locations and drops the ones already done.
func (o *Orchestrator) Pending(ctx context.Context, a source.Adapter, force bool) (discovered int, pending []source.Location, err error) {
	locs, err := a.Discover(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("discover %s: %w", a.Origin(), err)
	}
	pending, err = o.deps.Ledger.Filter(ctx, locs, force)
	if err != nil {
		return len(locs), nil, fmt.Errorf("filter locations: %w", err)
	}
	return len(locs), pending, nil
}

// Run ingests every pending location of one origin with a bounded worker pool.
// Per-location failures end up in the summary; only discovery, ledger and
// configuration errors fail the run.
func (o *Orchestrator) Run(ctx context.Context, a source.Adapter, force bool) (Summary, error) {
	if middleware.GetCorrelationID(ctx) == "unknown" {
		ctx, _ = middleware.NewCorrelationID(ctx)
	}
	summary := Summary{Origin: a.Origin()}

	if o.deps.Lock != nil {
		name := "ingest:" + a.Origin()
		ok, err := o.deps.Lock.Acquire(ctx, name, o.opts.LockTTL)
		if err != nil {
			return summary, err
		}
		if !ok {
			return summary, fmt.Errorf("%w: %s", ErrRunLocked, a.Origin())
		}
		defer func() {
			if err := o.deps.Lock.Release(context.WithoutCancel(ctx), name); err != nil {
				slog.WarnContext(ctx, "failed to release run lock", "lock", name, "error", err)
			}
		}()
	}

	if err := o.Prepare(ctx); err != nil {
		return summary, err
	}

	discovered, pending, err := o.Pending(ctx, a, force)
	summary.Discovered = discovered
	if err != nil {
		return summary, err
	}
	summary.Pending = len(pending)
	slog.InfoContext(ctx, "ingestion run started", "origin", a.Origin(), "discovered", discovered, "pending", len(pending), "force", force)
	if len(pending) == 0 {
		return summary, nil
	}

	results := make([]Result, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, loc := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = o.Process(gctx, a, loc, force)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Outcome == "" {
			continue
		}
		summary.Add(r)
	}

	slog.InfoContext(ctx, "ingestion run finished",
		"origin", a.Origin(),
		"ingested", summary.Ingested,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"busy", summary.Busy,
	)
	return summary, ctx.Err()
}

// Process runs one location through the pipeline and records the outcome in
// the ledger.
func (o *Orchestrator) Process(ctx context.Context, a source.Adapter, loc source.Location, force bool) Result {
	ctx = middleware.WithLocationID(ctx, loc.ID())

	token, err := o.deps.Ledger.Claim(ctx, loc, force)
	if err != nil {
		res := Result{Location: loc, Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %v", ErrLedger, err)}
		o.logResult(ctx, res)
		return res
	}
	if token == "" {
		res := Result{Location: loc, Outcome: OutcomeBusy}
		o.logResult(ctx, res)
		return res
	}

	res := o.ingest(ctx, a, loc)
	err = o.record(context.WithoutCancel(ctx), token, res)
	switch {
	case errors.Is(err, ErrClaimLost):
		// The run that took over owns the ledger row and the outcome.
		slog.WarnContext(ctx, "claim lost before outcome was recorded", "location_id", loc.ID(), "outcome", res.Outcome)
		res = Result{Location: loc, Outcome: OutcomeBusy}
	case err != nil:
		slog.ErrorContext(ctx, "failed to update ledger", "location_id", loc.ID(), "error", err)
		if res.Outcome == OutcomeIngested {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("%w: %v", ErrLedger, err)
		}
	}
	o.logResult(ctx, res)
	return res
}

func (o *Orchestrator) ingest(ctx context.Context, a source.Adapter, loc source.Location) Result {
	res := Result{Location: loc}
	failed := func(outcome Outcome, err error) Result {
		res.Outcome = outcome
		res.Err = err
		return res
	}

	ws, err := NewWorkspace(o.opts.WorkspaceDir, loc.ID())
	if err != nil {
		return failed(OutcomeFailed, err)
	}
	defer ws.Release()

	file, err := o.fetch(ctx, a, loc, ws)
	if err != nil {
		if errors.Is(err, source.ErrTooLarge) {
			return failed(OutcomeTooLarge, err)
		}
		return failed(OutcomeFailed, err)
	}

	rec, err := o.deps.Extractor.Extract(ctx, file, loc)
	if rerr := ws.Release(); rerr != nil {
		slog.WarnContext(ctx, "failed to release workspace", "dir", ws.Dir(), "error", rerr)
	}
	if err != nil {
		var xe *extract.Error
		if errors.As(err, &xe) {
			return failed(OutcomeUnextractable, err)
		}
		return failed(OutcomeFailed, err)
	}
	res.DocumentID = rec.ID

	chunks, err := document.Split(rec, o.opts.ChunkSize, o.opts.ChunkOverlap)
	if err != nil {
		return failed(OutcomeFailed, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := o.deps.Embedder.EmbedAll(ctx, texts)
	if err != nil {
		return failed(OutcomeFailed, fmt.Errorf("embed %d chunks: %w", len(chunks), err))
	}

	entries := make([]document.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = document.Entry{Chunk: c, Vector: vecs[i]}
	}
	if err := o.deps.Index.Upsert(ctx, entries); err != nil {
		return failed(OutcomeFailed, fmt.Errorf("upsert: %w", err))
	}
	// Chunks of a previous version, or past the end of this one, are superseded.
	if err := o.deps.Index.DeleteLocation(ctx, loc.ID(), rec.ID, len(chunks)); err != nil {
		return failed(OutcomeFailed, fmt.Errorf("delete superseded chunks: %w", err))
	}

	res.Outcome = OutcomeIngested
	res.ContentHash = file.ContentHash
	res.Chunks = len(chunks)
	return res
}

func (o *Orchestrator) record(ctx context.Context, token string, res Result) error {
	id := res.Location.ID()
	switch res.Outcome {
	case OutcomeIngested:
		return o.deps.Ledger.Complete(ctx, id, token, res.DocumentID, res.ContentHash, res.Chunks)
	case OutcomeTooLarge, OutcomeUnextractable:
		return o.deps.Ledger.Skip(ctx, id, token, string(res.Outcome), errString(res.Err))
	default:
		return o.deps.Ledger.Fail(ctx, id, token, errString(res.Err))
	}
}

func (o *Orchestrator) logResult(ctx context.Context, res Result) {
	attrs := []any{
		"location_id", res.Location.ID(),
		"url", res.Location.URL,
		"outcome", res.Outcome,
	}
	switch res.Outcome {
	case OutcomeIngested:
		slog.InfoContext(ctx, "location processed", append(attrs, "document_id", res.DocumentID, "chunks", res.Chunks)...)
	case OutcomeBusy:
		slog.InfoContext(ctx, "location claimed elsewhere", attrs...)
	case OutcomeTooLarge, OutcomeUnextractable:
		slog.WarnContext(ctx, "location skipped", append(attrs, "error", errString(res.Err))...)
	default:
		slog.ErrorContext(ctx, "location failed", append(attrs, "error", errString(res.Err))...)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
