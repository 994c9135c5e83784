// Package vector defines the chunk index contract shared by every backend.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
)

var (
	ErrModelMismatch = errors.New("embedding model does not match the index")
	ErrInvalidRange  = errors.New("start date is after end date")
)

var (
	MinDate = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Filters restricts a search. An empty category list allows every category.
// Absent date bounds are the widest range. Undated documents are treated as
// dated MinDate, so they match only while From is absent.
type Filters struct {
	Categories []string
	From       time.Time
	To         time.Time
}

// Normalize replaces absent bounds with MinDate and MaxDate.
func (f Filters) Normalize() (Filters, error) {
	out := Filters{Categories: f.Categories, From: f.From, To: f.To}
	if out.From.IsZero() {
		out.From = MinDate
	}
	if out.To.IsZero() {
		out.To = MaxDate
	}
	if out.From.After(out.To) {
		return Filters{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, out.From.Format(time.DateOnly), out.To.Format(time.DateOnly))
	}
	return out, nil
}

// Contains applies the filters to chunk metadata. Undated chunks sort at MinDate.
func (f Filters) Contains(md document.Metadata) bool {
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == md.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	d := md.Date
	if d.IsZero() {
		d = MinDate
	}
	from, to := f.From, f.To
	if from.IsZero() {
		from = MinDate
	}
	if to.IsZero() {
		to = MaxDate
	}
	return !d.Before(from) && !d.After(to)
}

type Hit struct {
	Chunk document.Chunk
	// Score is cosine similarity mapped to [0, 1]; higher is more relevant.
	Score float32
}

// ScoreFromDistance converts a cosine distance in [0, 2] to a score.
func ScoreFromDistance(d float32) float32 {
	s := 1 - d/2
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Index is a persistent store of embedded chunks.
type Index interface {
	// EnsureModel prepares the collection for vectors of the given model and
	// returns ErrModelMismatch if it already holds vectors of another model.
	EnsureModel(ctx context.Context, model string) error
	// Upsert is idempotent by chunk ID.
	Upsert(ctx context.Context, entries []document.Entry) error
	// DeleteLocation removes the chunks of a location except the first
	// keepChunks chunks of keepDocumentID. An empty keepDocumentID removes all.
	DeleteLocation(ctx context.Context, locationID, keepDocumentID string, keepChunks int) error
	// Search returns at most topK hits ordered by descending score. Filters are
	// applied before ranking.
	Search(ctx context.Context, vec []float32, f Filters, topK int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}
