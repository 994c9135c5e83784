package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
)

const maxRequestBytes = 1 << 20

type Searcher interface {
	Query(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

// Documents serves POST /api/query/documents. Failures keep the response shape
// with success=false.
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req retrieval.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		slog.WarnContext(ctx, "invalid query request", "error", err)
		h.write(ctx, w, http.StatusBadRequest, retrieval.Response{
			Query:     req.Query,
			Chunks:    []retrieval.ChunkResult{},
			Documents: []retrieval.DocumentResult{},
			Error:     "invalid request body: " + err.Error(),
		})
		return
	}

	res, err := h.searcher.Query(ctx, req)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, retrieval.ErrInvalidFilter):
		status = http.StatusBadRequest
	case errors.Is(err, retrieval.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		return
	default:
		status = http.StatusInternalServerError
	}
	h.write(ctx, w, status, res)
}

func (h *Handler) write(ctx context.Context, w http.ResponseWriter, status int, res retrieval.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
