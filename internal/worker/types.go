// Package worker distributes location ingestion over NSQ.
package worker

import (
	"context"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Pipeline is the part of ingest.Orchestrator the worker needs.
type Pipeline interface {
	Pending(ctx context.Context, a source.Adapter, force bool) (int, []source.Location, error)
	Process(ctx context.Context, a source.Adapter, loc source.Location, force bool) ingest.Result
}

type AdapterRegistry interface {
	Get(origin string) (source.Adapter, error)
}
