// Package vectortest holds behaviour checks every vector.Index backend must pass.
package vectortest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

const Model = "conformance-model"

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func entry(id, doc, loc, category string, date time.Time, vec ...float32) document.Entry {
	idx := 0
	if id[len(id)-1] == '1' {
		idx = 1
	}
	return document.Entry{
		Chunk: document.Chunk{
			ID:         id,
			DocumentID: doc,
			LocationID: loc,
			Index:      idx,
			End:        len(id),
			Text:       "tekst van " + id,
			Metadata: document.Metadata{
				URL:      "https://example.org/" + doc + ".pdf",
				Category: category,
				Title:    "Document " + doc,
				Date:     date,
				FileName: doc + ".pdf",
				FileType: "pdf",
			},
		},
		Vector: vec,
	}
}

// Entries is the fixture RunConformance loads: documents a (two chunks), b
// and c (undated) at three locations.
func Entries() []document.Entry {
	return []document.Entry{
		entry("a:0", "a", "la", "Zuid-Holland", day(2023, 1, 10), 1, 0),
		entry("a:1", "a", "la", "Zuid-Holland", day(2023, 1, 10), 0.8, 0.2),
		entry("b:0", "b", "lb", "Gelderland", day(2024, 6, 1), 0.9, 0.1),
		entry("c:0", "c", "lc", "Overijssel", time.Time{}, 0, 1),
	}
}

func search(t *testing.T, idx vector.Index, f vector.Filters, topK int) []vector.Hit {
	t.Helper()
	nf, err := f.Normalize()
	require.NoError(t, err)
	hits, err := idx.Search(context.Background(), []float32{1, 0}, nf, topK)
	require.NoError(t, err)
	return hits
}

func ids(hits []vector.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.ID
	}
	return out
}

// RunConformance expects an empty index that has not seen a model yet.
func RunConformance(t *testing.T, idx vector.Index) {
	ctx := context.Background()

	require.NoError(t, idx.EnsureModel(ctx, Model))
	require.NoError(t, idx.EnsureModel(ctx, Model))
	assert.ErrorIs(t, idx.EnsureModel(ctx, "another-model"), vector.ErrModelMismatch)

	require.NoError(t, idx.Upsert(ctx, Entries()))
	require.NoError(t, idx.Upsert(ctx, Entries()))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "upsert is idempotent")

	t.Run("Ranking", func(t *testing.T) {
		hits := search(t, idx, vector.Filters{}, 10)
		require.Len(t, hits, 4)
		assert.Equal(t, "a:0", hits[0].Chunk.ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-3)
		assert.Equal(t, "c:0", hits[3].Chunk.ID)
		assert.InDelta(t, 0.5, hits[3].Score, 1e-3)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
		assert.Equal(t, "Zuid-Holland", hits[0].Chunk.Metadata.Category)
		assert.Equal(t, day(2023, 1, 10), hits[0].Chunk.Metadata.Date.UTC())
		assert.True(t, hits[3].Chunk.Metadata.Date.IsZero() || hits[3].Chunk.Metadata.Date.Equal(vector.MinDate))
	})

	t.Run("Filters", func(t *testing.T) {
		tests := []struct {
			name string
			f    vector.Filters
			want []string
		}{
			{"Category", vector.Filters{Categories: []string{"Gelderland"}}, []string{"b:0"}},
			{"Categories", vector.Filters{Categories: []string{"Gelderland", "Overijssel"}}, []string{"b:0", "c:0"}},
			{"From", vector.Filters{From: day(2024, 1, 1)}, []string{"b:0"}},
			{"To", vector.Filters{To: day(2023, 12, 31)}, []string{"a:0", "a:1", "c:0"}},
			{"InclusiveBounds", vector.Filters{From: day(2023, 1, 10), To: day(2023, 1, 10)}, []string{"a:0", "a:1"}},
			{"NoMatch", vector.Filters{Categories: []string{"Utrecht"}}, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.ElementsMatch(t, tt.want, ids(search(t, idx, tt.f, 10)))
			})
		}
	})

	t.Run("TopK", func(t *testing.T) {
		assert.Equal(t, []string{"a:0"}, ids(search(t, idx, vector.Filters{}, 1)))
	})

	t.Run("DeleteLocation", func(t *testing.T) {
		require.NoError(t, idx.DeleteLocation(ctx, "lb", "b", 1))
		n, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n, "the kept document survives")

		require.NoError(t, idx.DeleteLocation(ctx, "la", "a", 1))
		n, err = idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n, "chunks past the kept count are removed")
		assert.NotContains(t, ids(search(t, idx, vector.Filters{}, 10)), "a:1")

		require.NoError(t, idx.DeleteLocation(ctx, "la", "", 0))
		n, err = idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.ElementsMatch(t, []string{"b:0", "c:0"}, ids(search(t, idx, vector.Filters{}, 10)))
	})
}
