package location_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

func newService(t *testing.T) *location.Service {
	t.Helper()
	repo, err := location.NewBoltRepo(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return location.NewService(repo, time.Hour)
}

func TestService_Filter(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	a := source.Location{Origin: "zh", URL: "https://example.org/a.pdf"}
	b := source.Location{Origin: "zh", URL: "https://example.org/b.pdf"}
	c := source.Location{Origin: "gl", URL: "https://example.org/a.pdf"}

	token, err := svc.Claim(ctx, a, false)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NoError(t, svc.Complete(ctx, a.ID(), token, "doc", "hash", 1))

	pending, err := svc.Filter(ctx, []source.Location{a, b, b, c}, false)
	require.NoError(t, err)
	assert.Equal(t, []source.Location{b, c}, pending)

	forced, err := svc.Filter(ctx, []source.Location{a, b, b}, true)
	require.NoError(t, err)
	assert.Equal(t, []source.Location{a, b}, forced)
}

func TestHandler_ListFailed(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	h := location.NewHandler(svc)

	t.Run("Empty", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListFailed(w, httptest.NewRequest(http.MethodGet, "/api/locations/failed", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, w.Body.String())
	})

	t.Run("OneFailed", func(t *testing.T) {
		loc := source.Location{Origin: "zh", URL: "https://example.org/x.pdf"}
		token, err := svc.Claim(ctx, loc, false)
		require.NoError(t, err)
		require.NoError(t, svc.Fail(ctx, loc.ID(), token, "embedding failed"))

		w := httptest.NewRecorder()
		h.ListFailed(w, httptest.NewRequest(http.MethodGet, "/api/locations/failed", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []location.State `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, loc.ID(), resp.Data[0].ID)
		assert.Equal(t, "embedding failed", resp.Data[0].Reason)
	})
}

func TestHandler_Reset(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	h := location.NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/locations/{id}/reset", h.Reset)

	loc := source.Location{Origin: "zh", URL: "https://example.org/y.pdf"}
	token, err := svc.Claim(ctx, loc, false)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, loc.ID(), token, "doc", "hash", 1))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/locations/"+loc.ID()+"/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	pending, err := svc.Filter(ctx, []source.Location{loc}, false)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "reset location is pending again")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/locations/missing/reset", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}
