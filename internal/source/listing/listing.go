// Package listing crawls paginated publication listings: each listing page links
// to detail pages, each detail page links to one or more document files.
package listing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

const (
	defaultMaxPages = 50
	maxPageBytes    = 8 << 20
)

var attachmentExts = []string{".pdf", ".docx", ".zip", ".txt"}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*source.Payload, error)
}

type Adapter struct {
	cfg     source.OriginConfig
	client  *http.Client
	fetcher Fetcher
}

func New(cfg source.OriginConfig, client *http.Client, fetcher Fetcher) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client, fetcher: fetcher}
}

func (a *Adapter) Origin() string { return a.cfg.ID }

func (a *Adapter) Fetch(ctx context.Context, loc source.Location) (*source.Payload, error) {
	if loc.Origin != a.cfg.ID {
		return nil, fmt.Errorf("location belongs to origin %q, not %q", loc.Origin, a.cfg.ID)
	}
	return a.fetcher.Fetch(ctx, loc.URL)
}

// Discover walks listing pages until one yields no new detail links or the
// page limit is reached. A failing detail page is logged and skipped.
func (a *Adapter) Discover(ctx context.Context) ([]source.Location, error) {
	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	seenDetail := make(map[string]bool)
	var details []string
	for i := 0; i < maxPages; i++ {
		page := a.cfg.FirstPage + i
		pageURL := strings.ReplaceAll(a.cfg.ListingURL, "{page}", strconv.Itoa(page))

		doc, base, err := a.get(ctx, pageURL)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("listing page %d: %w", page, err)
			}
			slog.WarnContext(ctx, "listing page failed, stopping pagination", "origin", a.cfg.ID, "page", page, "error", err)
			break
		}

		added := 0
		for _, href := range links(doc, base) {
			if a.cfg.LinkContains != "" && !strings.Contains(href, a.cfg.LinkContains) {
				continue
			}
			if isAttachment(href) || seenDetail[href] {
				continue
			}
			seenDetail[href] = true
			details = append(details, href)
			added++
		}
		if added == 0 {
			break
		}
		if !strings.Contains(a.cfg.ListingURL, "{page}") {
			break
		}
	}

	seenFile := make(map[string]bool)
	var locs []source.Location
	for _, detail := range details {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := a.detail(ctx, detail)
		if err != nil {
			slog.WarnContext(ctx, "skipping detail page", "origin", a.cfg.ID, "url", detail, "error", err)
			continue
		}
		for _, loc := range found {
			if seenFile[loc.URL] {
				continue
			}
			seenFile[loc.URL] = true
			locs = append(locs, loc)
		}
	}

	slog.InfoContext(ctx, "listing discovery finished", "origin", a.cfg.ID, "detail_pages", len(details), "locations", len(locs))
	return locs, nil
}

func (a *Adapter) detail(ctx context.Context, pageURL string) ([]source.Location, error) {
	doc, base, err := a.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	info := parseDetail(doc)

	var locs []source.Location
	for _, href := range links(doc, base) {
		if !isAttachment(href) {
			continue
		}
		locs = append(locs, source.Location{
			Origin:   a.cfg.ID,
			URL:      href,
			Category: a.cfg.Category,
			Title:    info.title,
			Date:     info.date,
			Type:     a.cfg.Type,
			Summary:  info.summary,
		})
	}
	return locs, nil
}

// get returns the parsed page and the URL it was finally served from, which
// is the base for its relative links.
func (a *Adapter) get(ctx context.Context, pageURL string) (*html.Node, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &source.HTTPError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, resp.Request.URL, nil
}

func isAttachment(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range attachmentExts {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
