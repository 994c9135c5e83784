package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

// Dispatcher publishes the pending locations of an origin instead of
// processing them in-process.
type Dispatcher struct {
	pipeline Pipeline
	pub      TaskPublisher
}

func NewDispatcher(p Pipeline, pub TaskPublisher) *Dispatcher {
	return &Dispatcher{pipeline: p, pub: pub}
}

// Dispatch returns the number of published tasks. Publishing stops at the
// first error; locations already published stay queued.
func (d *Dispatcher) Dispatch(ctx context.Context, a source.Adapter, force bool) (int, error) {
	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "unknown" {
		ctx, correlationID = middleware.NewCorrelationID(ctx)
	}

	_, pending, err := d.pipeline.Pending(ctx, a, force)
	if err != nil {
		return 0, err
	}

	for i, loc := range pending {
		body, err := json.Marshal(LocationTask{Location: loc, Force: force, CorrelationID: correlationID})
		if err != nil {
			return i, err
		}
		if err := d.pub.Publish(config.TopicIngestLocation, body); err != nil {
			return i, fmt.Errorf("publish location %s: %w", loc.ID(), err)
		}
	}

	slog.InfoContext(ctx, "dispatched locations", "origin", a.Origin(), "count", len(pending), "topic", config.TopicIngestLocation)
	return len(pending), nil
}
