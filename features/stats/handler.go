package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
)

type LocationCounter interface {
	Counts(ctx context.Context) (map[location.Status]int, error)
}

type ChunkCounter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	locations LocationCounter
	index     ChunkCounter
}

func NewHandler(l LocationCounter, idx ChunkCounter) *Handler {
	return &Handler{locations: l, index: idx}
}

type StatsResponse struct {
	Chunks    int                     `json:"chunks"`
	Locations map[location.Status]int `json:"locations"`
	Failed    int                     `json:"failed"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.locations.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count locations", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count locations", http.StatusInternalServerError)
		return
	}

	chunks, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Chunks:    chunks,
		Locations: counts,
		Failed:    counts[location.StatusFailed],
	}
	if resp.Locations == nil {
		resp.Locations = map[location.Status]int{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
