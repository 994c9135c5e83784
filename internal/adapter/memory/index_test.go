package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector/vectortest"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func entry(id, doc, loc, category string, date time.Time, vec ...float32) document.Entry {
	return document.Entry{
		Chunk: document.Chunk{
			ID:         id,
			DocumentID: doc,
			LocationID: loc,
			Text:       id,
			Metadata:   document.Metadata{Category: category, Date: date},
		},
		Vector: vec,
	}
}

func seeded(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(context.Background(), []document.Entry{
		entry("a:0", "a", "la", "Zuid-Holland", day(2023, 1, 10), 1, 0),
		entry("a:1", "a", "la", "Zuid-Holland", day(2023, 1, 10), 0.8, 0.2),
		entry("b:0", "b", "lb", "Gelderland", day(2024, 6, 1), 0.9, 0.1),
		entry("c:0", "c", "lc", "Utrecht", time.Time{}, 0, 1),
	}))
	return idx
}

func TestSearch_RanksByCosine(t *testing.T) {
	hits, err := seeded(t).Search(context.Background(), []float32{1, 0}, vector.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, "a:0", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "c:0", hits[3].Chunk.ID)
	assert.InDelta(t, 0.5, hits[3].Score, 1e-6)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearch_Filters(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name string
		f    vector.Filters
		want []string
	}{
		{"categories", vector.Filters{Categories: []string{"Gelderland", "Utrecht"}}, []string{"b:0", "c:0"}},
		{"from excludes undated", vector.Filters{From: day(2023, 1, 10)}, []string{"a:0", "b:0", "a:1"}},
		{"inclusive to", vector.Filters{To: day(2023, 1, 10)}, []string{"a:0", "a:1", "c:0"}},
		{"range", vector.Filters{From: day(2024, 1, 1), To: day(2024, 12, 31)}, []string{"b:0"}},
		{"eliminates everything", vector.Filters{Categories: []string{"Friesland"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search(ctx, []float32{1, 0}, tt.f, 10)
			require.NoError(t, err)
			ids := make([]string, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.Chunk.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSearch_TopK(t *testing.T) {
	hits, err := seeded(t).Search(context.Background(), []float32{1, 0}, vector.Filters{}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestUpsert_Idempotent(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []document.Entry{entry("a:0", "a", "la", "Zuid-Holland", day(2023, 1, 10), 1, 0)}))
	n, _ := idx.Count(ctx)
	assert.Equal(t, 4, n)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	err := seeded(t).Upsert(context.Background(), []document.Entry{entry("x:0", "x", "lx", "", time.Time{}, 1, 0, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDeleteLocation_KeepsCurrentDocument(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []document.Entry{entry("a2:0", "a2", "la", "Zuid-Holland", day(2023, 1, 10), 1, 0)}))

	require.NoError(t, idx.DeleteLocation(ctx, "la", "a2", 1))
	hits, err := idx.Search(ctx, []float32{1, 0}, vector.Filters{Categories: []string{"Zuid-Holland"}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a2:0", hits[0].Chunk.ID)
}

func TestEnsureModel(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	require.NoError(t, idx.EnsureModel(ctx, "m1"))
	require.NoError(t, idx.EnsureModel(ctx, "m1"))
	assert.ErrorIs(t, idx.EnsureModel(ctx, "m2"), vector.ErrModelMismatch)
}

func TestIndex_Conformance(t *testing.T) {
	vectortest.RunConformance(t, NewIndex())
}

func TestOpen_ReloadsEntriesAndModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureModel(ctx, "m1"))
	require.NoError(t, idx.Upsert(ctx, []document.Entry{
		entry("a:0", "a", "la", "Zuid-Holland", day(2023, 1, 10), 1, 0),
		entry("a:1", "a", "la", "Zuid-Holland", day(2023, 1, 10), 0.8, 0.2),
		entry("b:0", "b", "lb", "Gelderland", day(2024, 6, 1), 0.9, 0.1),
	}))
	require.NoError(t, idx.DeleteLocation(ctx, "la", "a", 1))
	require.NoError(t, idx.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, reopened.EnsureModel(ctx, "m2"), vector.ErrModelMismatch)

	hits, err := reopened.Search(ctx, []float32{1, 0}, vector.Filters{Categories: []string{"Zuid-Holland"}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0", hits[0].Chunk.ID)
	assert.Equal(t, day(2023, 1, 10), hits[0].Chunk.Metadata.Date)

	err = reopened.Upsert(ctx, []document.Entry{entry("x:0", "x", "lx", "", time.Time{}, 1, 0, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch, "dimension is restored from the file")
}

func TestOpen_Conformance(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()
	vectortest.RunConformance(t, idx)
}
