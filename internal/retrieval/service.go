// Package retrieval answers free-text queries with ranked chunks and
// deduplicated documents.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

var (
	ErrInvalidFilter = errors.New("invalid filter")
	ErrTimeout       = errors.New("query timed out")
)

// StageError reports which query stage failed. Timeouts are retryable.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Retryable() bool { return errors.Is(e.Err, ErrTimeout) }

type Embedder interface {
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	TopDocuments  int
	Overfetch     int
	MinScore      float32
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

type Service struct {
	embedder Embedder
	index    vector.Index
	logger   *QueryLogger
	opts     Options
	flight   *coalescer
}

func NewService(e Embedder, idx vector.Index, l *QueryLogger, opts Options) *Service {
	if opts.TopDocuments <= 0 {
		opts.TopDocuments = 10
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = 3
	}
	return &Service{embedder: e, index: idx, logger: l, opts: opts, flight: newCoalescer()}
}

// Prepare verifies that the index was built with the configured model.
func (s *Service) Prepare(ctx context.Context) error {
	return s.index.EnsureModel(ctx, s.embedder.Model())
}

// Query always returns a response; on failure Success is false and the error is
// returned as well.
func (s *Service) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	q := strings.TrimSpace(req.Query)

	res, err := s.query(ctx, q, req)
	if err != nil {
		res = failedResponse(req.Query, err)
		slog.WarnContext(ctx, "query failed", "error", err)
	}
	res.Query = req.Query

	if s.logger != nil {
		entry := QueryLogEntry{
			Query:         req.Query,
			NumChunks:     res.TotalChunks,
			NumDocuments:  res.TotalDocuments,
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
			Success:       res.Success,
			Error:         res.Error,
		}
		if req.Filters != nil {
			entry.Categories = req.Filters.Categories
			entry.StartDate = req.Filters.StartDate
			entry.EndDate = req.Filters.EndDate
		}
		s.logger.Log(entry)
	}
	return res, err
}

func (s *Service) query(ctx context.Context, q string, req Request) (Response, error) {
	if q == "" {
		return emptyResponse(req.Query), nil
	}

	filters, err := parseFilters(req.Filters)
	if err != nil {
		return Response{}, err
	}

	key := flightKey(s.embedder.Model(), q, filters)
	res, err, shared := s.flight.Do(ctx, key, func(ctx context.Context) (Response, error) {
		return s.search(ctx, q, filters)
	})
	if shared {
		slog.DebugContext(ctx, "query coalesced", "query", q)
	}
	return res, err
}

func (s *Service) search(ctx context.Context, q string, filters vector.Filters) (Response, error) {
	embedCtx, cancel := withTimeout(ctx, s.opts.EmbedTimeout)
	vec, err := s.embedder.Embed(embedCtx, q)
	timedOut := embedCtx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		if timedOut {
			err = ErrTimeout
		}
		return Response{}, &StageError{Stage: "embedding", Err: err}
	}

	searchCtx, cancel := withTimeout(ctx, s.opts.SearchTimeout)
	hits, err := s.index.Search(searchCtx, vec, filters, s.opts.TopDocuments*s.opts.Overfetch)
	timedOut = searchCtx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		if timedOut {
			err = ErrTimeout
		}
		return Response{}, &StageError{Stage: "search", Err: err}
	}

	return s.aggregate(hits), nil
}

// aggregate keeps hits above the minimum score, scores each document by its
// best chunk and keeps the chunks of the top documents.
func (s *Service) aggregate(hits []vector.Hit) Response {
	type group struct {
		best  vector.Hit
		count int
	}
	groups := make(map[string]*group)
	kept := make([]vector.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score < s.opts.MinScore {
			continue
		}
		kept = append(kept, h)
		g, ok := groups[h.Chunk.DocumentID]
		if !ok {
			groups[h.Chunk.DocumentID] = &group{best: h, count: 1}
			continue
		}
		g.count++
		if h.Score > g.best.Score || (h.Score == g.best.Score && h.Chunk.ID < g.best.Chunk.ID) {
			g.best = h
		}
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := groups[ids[i]].best.Score, groups[ids[j]].best.Score
		if a != b {
			return a > b
		}
		return ids[i] < ids[j]
	})
	if len(ids) > s.opts.TopDocuments {
		ids = ids[:s.opts.TopDocuments]
	}

	res := emptyResponse("")
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		g := groups[id]
		selected[id] = true
		score := g.best.Score
		res.Documents = append(res.Documents, DocumentResult{
			ID:             id,
			Metadata:       toMetadata(g.best.Chunk.Metadata),
			RelevanceScore: &score,
			MatchedChunks:  g.count,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Chunk.ID < kept[j].Chunk.ID
	})
	for _, h := range kept {
		if !selected[h.Chunk.DocumentID] {
			continue
		}
		score := h.Score
		res.Chunks = append(res.Chunks, ChunkResult{
			ID:             h.Chunk.ID,
			DocumentID:     h.Chunk.DocumentID,
			Content:        h.Chunk.Text,
			Metadata:       toMetadata(h.Chunk.Metadata),
			RelevanceScore: &score,
		})
	}

	res.TotalChunks = len(res.Chunks)
	res.TotalDocuments = len(res.Documents)
	return res
}

func parseFilters(rf *RequestFilters) (vector.Filters, error) {
	var f vector.Filters
	if rf != nil {
		for _, c := range rf.Categories {
			if c = strings.TrimSpace(c); c != "" {
				f.Categories = append(f.Categories, c)
			}
		}
		var err error
		if strings.TrimSpace(rf.StartDate) != "" {
			if f.From, err = document.ParseDate(rf.StartDate); err != nil {
				return vector.Filters{}, fmt.Errorf("%w: startDate: %w", ErrInvalidFilter, err)
			}
		}
		if strings.TrimSpace(rf.EndDate) != "" {
			if f.To, err = document.ParseDate(rf.EndDate); err != nil {
				return vector.Filters{}, fmt.Errorf("%w: endDate: %w", ErrInvalidFilter, err)
			}
		}
	}
	f, err := f.Normalize()
	if err != nil {
		return vector.Filters{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return f, nil
}

func flightKey(model, q string, f vector.Filters) string {
	cats := append([]string(nil), f.Categories...)
	sort.Strings(cats)
	return strings.Join([]string{model, q, strings.Join(cats, ","), f.From.Format(time.DateOnly), f.To.Format(time.DateOnly)}, "\x00")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
