package ingest

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/extract"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

// fetch downloads loc into ws, retrying transient failures.
func (o *Orchestrator) fetch(ctx context.Context, a source.Adapter, loc source.Location, ws *Workspace) (extract.File, error) {
	var file extract.File
	attempt := 0
	op := func() error {
		attempt++
		p, err := a.Fetch(ctx, loc)
		if err == nil {
			file, err = ws.Store(p, o.opts.MaxPayloadBytes)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !source.IsTransient(err) {
			return backoff.Permanent(err)
		}
		slog.WarnContext(ctx, "retrying fetch", "url", loc.URL, "attempt", attempt, "error", err)
		return err
	}

	retries := o.opts.FetchMaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(o.opts.NewBackOff(), uint64(retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return extract.File{}, err
	}
	return file, nil
}
