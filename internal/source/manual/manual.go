// Package manual serves a fixed list of document URLs from the sources file.
package manual

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*source.Payload, error)
}

type Adapter struct {
	cfg     source.OriginConfig
	fetcher Fetcher
}

func New(cfg source.OriginConfig, fetcher Fetcher) *Adapter {
	return &Adapter{cfg: cfg, fetcher: fetcher}
}

func (a *Adapter) Origin() string { return a.cfg.ID }

func (a *Adapter) Discover(ctx context.Context) ([]source.Location, error) {
	locs := make([]source.Location, 0, len(a.cfg.Documents))
	for _, d := range a.cfg.Documents {
		loc := source.Location{
			Origin:   a.cfg.ID,
			URL:      d.URL,
			Category: a.cfg.Category,
			Title:    d.Title,
			Type:     firstNonEmpty(d.Type, a.cfg.Type),
			Summary:  d.Summary,
		}
		if d.Date != "" {
			date, err := document.ParseDate(d.Date)
			if err != nil {
				slog.WarnContext(ctx, "ignoring unparseable document date", "origin", a.cfg.ID, "url", d.URL, "date", d.Date)
			} else {
				loc.Date = date
			}
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func (a *Adapter) Fetch(ctx context.Context, loc source.Location) (*source.Payload, error) {
	if loc.Origin != a.cfg.ID {
		return nil, fmt.Errorf("location belongs to origin %q, not %q", loc.Origin, a.cfg.ID)
	}
	return a.fetcher.Fetch(ctx, loc.URL)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
