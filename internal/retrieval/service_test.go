package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/memory"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Model() string { return "test-model" }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.([]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

// blockingEmbedder waits for its context to end.
type blockingEmbedder struct{}

func (blockingEmbedder) Model() string { return "test-model" }

func (blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingIndex struct {
	vector.Index
	err error
}

func (f failingIndex) Search(context.Context, []float32, vector.Filters, int) ([]vector.Hit, error) {
	return nil, f.err
}

func entry(doc string, i int, vec []float32, md document.Metadata) document.Entry {
	return document.Entry{
		Chunk: document.Chunk{
			ID:         document.ChunkID(doc, i),
			DocumentID: doc,
			LocationID: "loc-" + doc,
			Index:      i,
			Text:       doc + " chunk",
			Metadata:   md,
		},
		Vector: vec,
	}
}

func date(s string) time.Time {
	d, _ := document.ParseDate(s)
	return d
}

func seededIndex(t *testing.T) *memory.Index {
	t.Helper()
	idx := memory.NewIndex()
	zh := document.Metadata{Category: "Zuid-Holland", Title: "Besluit A", Date: date("2024-03-12"), FileType: "pdf"}
	gl := document.Metadata{Category: "Gelderland", Title: "Besluit B", Date: date("2023-06-01"), FileType: "docx"}
	undated := document.Metadata{Category: "Overijssel", Title: "Besluit C"}
	require.NoError(t, idx.Upsert(context.Background(), []document.Entry{
		entry("docA", 0, []float32{1, 0}, zh),
		entry("docA", 1, []float32{0.6, 0.8}, zh),
		entry("docB", 0, []float32{0.8, 0.6}, gl),
		entry("docC", 0, []float32{0, 1}, undated),
	}))
	return idx
}

func newService(t *testing.T, e retrieval.Embedder, idx vector.Index, opts retrieval.Options) (*retrieval.Service, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return retrieval.NewService(e, idx, retrieval.NewQueryLogger(&buf), opts), &buf
}

func TestService_EmptyQuery(t *testing.T) {
	e := new(MockEmbedder)
	svc, _ := newService(t, e, seededIndex(t), retrieval.Options{})

	for _, q := range []string{"", "   ", "\n\t"} {
		res, err := svc.Query(context.Background(), retrieval.Request{Query: q})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, q, res.Query)
		assert.Empty(t, res.Chunks)
		assert.Empty(t, res.Documents)
		assert.NotNil(t, res.Chunks)
		assert.NotNil(t, res.Documents)
		assert.Zero(t, res.TotalChunks)
		assert.Zero(t, res.TotalDocuments)
	}
	e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestService_Deduplication(t *testing.T) {
	e := new(MockEmbedder)
	e.On("Embed", mock.Anything, "besluit").Return([]float32{1, 0}, nil)
	svc, _ := newService(t, e, seededIndex(t), retrieval.Options{TopDocuments: 10})

	res, err := svc.Query(context.Background(), retrieval.Request{Query: "  besluit "})
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Len(t, res.Documents, 3)
	assert.Equal(t, "docA", res.Documents[0].ID)
	assert.Equal(t, "docB", res.Documents[1].ID)
	assert.Equal(t, "docC", res.Documents[2].ID)
	assert.InDelta(t, 1.0, *res.Documents[0].RelevanceScore, 1e-5, "document score is its best chunk")
	assert.Equal(t, 2, res.Documents[0].MatchedChunks)
	assert.InDelta(t, 0.9, *res.Documents[1].RelevanceScore, 1e-5)
	assert.Equal(t, "2024-03-12", res.Documents[0].Metadata.Date)
	assert.Equal(t, "", res.Documents[2].Metadata.Date)

	ids := make([]string, len(res.Chunks))
	for i, c := range res.Chunks {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"docA:0", "docB:0", "docA:1", "docC:0"}, ids)
	assert.Equal(t, 4, res.TotalChunks)
	assert.Equal(t, 3, res.TotalDocuments)
}

func TestService_TopDocumentsAndMinScore(t *testing.T) {
	e := new(MockEmbedder)
	e.On("Embed", mock.Anything, "besluit").Return([]float32{1, 0}, nil)

	svc, _ := newService(t, e, seededIndex(t), retrieval.Options{TopDocuments: 1, Overfetch: 4})
	res, err := svc.Query(context.Background(), retrieval.Request{Query: "besluit"})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "docA", res.Documents[0].ID)
	assert.Len(t, res.Chunks, 2, "only chunks of returned documents")

	svc, _ = newService(t, e, seededIndex(t), retrieval.Options{MinScore: 0.85})
	res, err = svc.Query(context.Background(), retrieval.Request{Query: "besluit"})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Len(t, res.Chunks, 2)
}

func TestService_Filters(t *testing.T) {
	e := new(MockEmbedder)
	e.On("Embed", mock.Anything, mock.Anything).Return([]float32{1, 0}, nil)
	svc, _ := newService(t, e, seededIndex(t), retrieval.Options{})

	tests := []struct {
		name    string
		filters *retrieval.RequestFilters
		want    []string
	}{
		{"None", nil, []string{"docA", "docB", "docC"}},
		{"Category", &retrieval.RequestFilters{Categories: []string{"Gelderland"}}, []string{"docB"}},
		{"Categories", &retrieval.RequestFilters{Categories: []string{"Gelderland", "Overijssel"}}, []string{"docB", "docC"}},
		{"From", &retrieval.RequestFilters{StartDate: "2024-01-01"}, []string{"docA"}},
		{"To", &retrieval.RequestFilters{EndDate: "2023-12-31"}, []string{"docB", "docC"}},
		{"InclusiveRange", &retrieval.RequestFilters{StartDate: "2023-06-01", EndDate: "01-06-2023"}, []string{"docB"}},
		{"NoMatch", &retrieval.RequestFilters{Categories: []string{"Flevoland"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Query(context.Background(), retrieval.Request{Query: "besluit " + tt.name, Filters: tt.filters})
			require.NoError(t, err)
			require.True(t, res.Success)
			var got []string
			for _, d := range res.Documents {
				got = append(got, d.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_InvalidFilters(t *testing.T) {
	e := new(MockEmbedder)
	svc, _ := newService(t, e, seededIndex(t), retrieval.Options{})

	res, err := svc.Query(context.Background(), retrieval.Request{Query: "x", Filters: &retrieval.RequestFilters{StartDate: "gisteren"}})
	assert.ErrorIs(t, err, retrieval.ErrInvalidFilter)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "startDate")
	assert.NotNil(t, res.Documents)

	_, err = svc.Query(context.Background(), retrieval.Request{Query: "x", Filters: &retrieval.RequestFilters{StartDate: "2024-02-01", EndDate: "2024-01-01"}})
	assert.ErrorIs(t, err, vector.ErrInvalidRange)

	e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestService_EmbedTimeout(t *testing.T) {
	svc, _ := newService(t, blockingEmbedder{}, seededIndex(t), retrieval.Options{EmbedTimeout: 20 * time.Millisecond})

	res, err := svc.Query(context.Background(), retrieval.Request{Query: "traag"})
	require.Error(t, err)
	assert.False(t, res.Success)

	var se *retrieval.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "embedding", se.Stage)
	assert.True(t, se.Retryable())
	assert.ErrorIs(t, err, retrieval.ErrTimeout)
}

func TestService_SearchError(t *testing.T) {
	e := new(MockEmbedder)
	e.On("Embed", mock.Anything, "x").Return([]float32{1, 0}, nil)
	svc, logBuf := newService(t, e, failingIndex{err: errors.New("weaviate unavailable")}, retrieval.Options{})

	res, err := svc.Query(context.Background(), retrieval.Request{Query: "x"})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "weaviate unavailable")
	assert.Empty(t, res.Chunks)

	var se *retrieval.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "search", se.Stage)
	assert.False(t, se.Retryable())

	var logged retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(logBuf.Bytes(), &logged))
	assert.False(t, logged.Success)
	assert.Equal(t, "x", logged.Query)
}

func TestService_Prepare(t *testing.T) {
	idx := memory.NewIndex()
	require.NoError(t, idx.EnsureModel(context.Background(), "other-model"))
	svc, _ := newService(t, new(MockEmbedder), idx, retrieval.Options{})
	assert.ErrorIs(t, svc.Prepare(context.Background()), vector.ErrModelMismatch)
}

func TestResponse_JSONContract(t *testing.T) {
	e := new(MockEmbedder)
	e.On("Embed", mock.Anything, "besluit").Return([]float32{1, 0}, nil)
	svc, _ := newService(t, e, seededIndex(t), retrieval.Options{TopDocuments: 1})

	res, err := svc.Query(context.Background(), retrieval.Request{Query: "besluit"})
	require.NoError(t, err)
	body, err := json.Marshal(res)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	for _, k := range []string{"success", "query", "chunks", "documents", "total_chunks", "total_documents"} {
		assert.Contains(t, raw, k)
	}
	assert.NotContains(t, raw, "error")

	doc := raw["documents"].([]any)[0].(map[string]any)
	assert.Contains(t, doc, "relevance_score")
	md := doc["metadata"].(map[string]any)
	for _, k := range []string{"url", "category", "title", "date", "type", "summary", "file_name", "file_type"} {
		assert.Contains(t, md, k)
	}
}
