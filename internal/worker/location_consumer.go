package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
)

type LocationConsumer struct {
	registry AdapterRegistry
	pipeline Pipeline
	// publisher is optional; nil disables result events.
	publisher TaskPublisher
}

func NewLocationConsumer(r AdapterRegistry, p Pipeline, pub TaskPublisher) *LocationConsumer {
	return &LocationConsumer{registry: r, pipeline: p, publisher: pub}
}

// HandleMessage acks invalid tasks and per-location failures (the ledger has
// recorded them) and requeues when the ledger itself was unavailable.
func (h *LocationConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task LocationTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if task.Location.Origin == "" || task.Location.URL == "" {
		slog.Error("poison pill: location without origin or url")
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}

	adapter, err := h.registry.Get(task.Location.Origin)
	if err != nil {
		slog.ErrorContext(ctx, "poison pill: unknown origin", "origin", task.Location.Origin, "error", err)
		return nil
	}

	res := h.pipeline.Process(ctx, adapter, task.Location, task.Force)
	if errors.Is(res.Err, ingest.ErrLedger) {
		return res.Err // Retry
	}

	h.publishResult(ctx, task, res)
	return nil
}

func (h *LocationConsumer) publishResult(ctx context.Context, task LocationTask, res ingest.Result) {
	if h.publisher == nil {
		return
	}
	event := LocationResult{
		LocationID:    task.Location.ID(),
		Origin:        task.Location.Origin,
		URL:           task.Location.URL,
		Outcome:       res.Outcome,
		DocumentID:    res.DocumentID,
		Chunks:        res.Chunks,
		CorrelationID: task.CorrelationID,
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	body, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode result", "error", err)
		return
	}
	if err := h.publisher.Publish(config.TopicIngestResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish result", "location_id", event.LocationID, "error", err)
	}
}
