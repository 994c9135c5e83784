package source

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// HTTPFetcher downloads files over HTTP with an announced-size pre-check.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch streams the resource at rawURL. A size announced above the limit is
// rejected with ErrTooLarge before the body is read; unannounced sizes are
// enforced by the caller while streaming.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	if f.maxBytes > 0 {
		if size, ok := f.head(ctx, rawURL); ok && size > f.maxBytes {
			return nil, fmt.Errorf("%w: %s announces %d bytes", ErrTooLarge, rawURL, size)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s announces %d bytes", ErrTooLarge, rawURL, resp.ContentLength)
	}

	return &Payload{
		Body:        resp.Body,
		FileName:    fileName(resp.Header.Get("Content-Disposition"), rawURL),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// head returns the announced Content-Length. Origins that reject HEAD are
// treated as unannounced.
func (f *HTTPFetcher) head(ctx context.Context, rawURL string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.ContentLength < 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

func fileName(disposition, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				return unescaped
			}
			return base
		}
	}
	return strings.TrimSpace(rawURL)
}
