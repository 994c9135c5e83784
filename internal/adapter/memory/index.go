// Package memory is an in-process vector index using brute-force cosine
// similarity, optionally backed by a bbolt file.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type Index struct {
	mu        sync.RWMutex
	model     string
	dimension int
	entries   map[string]document.Entry
	norms     map[string]float64
	db        *bbolt.DB
}

var _ vector.Index = (*Index)(nil)

func NewIndex() *Index {
	return &Index{entries: make(map[string]document.Entry), norms: make(map[string]float64)}
}

func (s *Index) EnsureModel(ctx context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != "" && s.model != model {
		return fmt.Errorf("%w: index holds %q vectors, configured %q", vector.ErrModelMismatch, s.model, model)
	}
	if s.model != model {
		if err := s.persistModel(model); err != nil {
			return fmt.Errorf("persist model: %w", err)
		}
	}
	s.model = model
	return nil
}

func (s *Index) Upsert(ctx context.Context, entries []document.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, e.ID, len(e.Vector), dim)
		}
	}

	if err := s.persist(entries, nil); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	s.dimension = dim
	for _, e := range entries {
		v := make([]float32, len(e.Vector))
		copy(v, e.Vector)
		e.Vector = v
		s.entries[e.ID] = e
		s.norms[e.ID] = norm(v)
	}
	return nil
}

func (s *Index) DeleteLocation(ctx context.Context, locationID, keepDocumentID string, keepChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for id, e := range s.entries {
		if e.LocationID == locationID && (e.DocumentID != keepDocumentID || e.Index >= keepChunks) {
			stale = append(stale, id)
		}
	}
	if err := s.persist(nil, stale); err != nil {
		return fmt.Errorf("persist delete: %w", err)
	}
	for _, id := range stale {
		delete(s.entries, id)
		delete(s.norms, id)
	}
	return nil
}

func (s *Index) Search(ctx context.Context, vec []float32, f vector.Filters, topK int) ([]vector.Hit, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(vec) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vec), s.dimension)
	}
	qn := norm(vec)

	hits := make([]vector.Hit, 0, len(s.entries))
	for id, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.Contains(e.Metadata) {
			continue
		}
		var cos float64
		if qn > 0 && s.norms[id] > 0 {
			cos = dot(vec, e.Vector) / (qn * s.norms[id])
		}
		hits = append(hits, vector.Hit{Chunk: e.Chunk, Score: vector.ScoreFromDistance(float32(1 - cos))})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Index) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
