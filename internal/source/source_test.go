package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ origin string }

func (s stubAdapter) Origin() string { return s.origin }

func (s stubAdapter) Discover(context.Context) ([]Location, error) { return nil, nil }

func (s stubAdapter) Fetch(context.Context, Location) (*Payload, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{"zh"}))
	require.NoError(t, r.Register(stubAdapter{"ut"}))

	err := r.Register(stubAdapter{"zh"})
	assert.ErrorIs(t, err, ErrDuplicateOrigin)

	a, err := r.Get("ut")
	require.NoError(t, err)
	assert.Equal(t, "ut", a.Origin())

	_, err = r.Get("nh")
	assert.ErrorIs(t, err, ErrUnknownOrigin)

	assert.Equal(t, []string{"ut", "zh"}, r.Origins())
}

func TestLocationID(t *testing.T) {
	a := Location{Origin: "zh", URL: "https://x.nl/a.pdf"}
	b := Location{Origin: "zh", URL: "https://x.nl/a.pdf", Title: "changed hints"}
	c := Location{Origin: "ut", URL: "https://x.nl/a.pdf"}

	assert.Len(t, a.ID(), 32)
	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", &HTTPError{StatusCode: 503}, true},
		{"429", fmt.Errorf("wrapped: %w", &HTTPError{StatusCode: 429}), true},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"too large", fmt.Errorf("%w: big", ErrTooLarge), false},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("bad"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big.pdf":
			w.Header().Set("Content-Length", "2048")
			if r.Method == http.MethodGet {
				w.Write(make([]byte, 2048))
			}
		case "/named":
			w.Header().Set("Content-Disposition", `attachment; filename="besluit 1.pdf"`)
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF-1.7")
		case "/missing.pdf":
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, "hello")
		}
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), 1024)
	ctx := context.Background()

	t.Run("announced size over limit", func(t *testing.T) {
		_, err := f.Fetch(ctx, ts.URL+"/big.pdf")
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("content disposition name", func(t *testing.T) {
		p, err := f.Fetch(ctx, ts.URL+"/named")
		require.NoError(t, err)
		defer p.Body.Close()
		assert.Equal(t, "besluit 1.pdf", p.FileName)
		assert.Equal(t, "application/pdf", p.ContentType)
		body, _ := io.ReadAll(p.Body)
		assert.Equal(t, "%PDF-1.7", string(body))
	})

	t.Run("url name", func(t *testing.T) {
		p, err := f.Fetch(ctx, ts.URL+"/dir/notulen%20mei.txt")
		require.NoError(t, err)
		defer p.Body.Close()
		assert.Equal(t, "notulen mei.txt", p.FileName)
	})

	t.Run("status error", func(t *testing.T) {
		_, err := f.Fetch(ctx, ts.URL+"/missing.pdf")
		var he *HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusNotFound, he.StatusCode)
		assert.False(t, IsTransient(err))
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := `
origins:
  - id: zh-woo
    kind: listing
    category: Zuid-Holland
    listing_url: https://www.zuid-holland.nl/woo?page={page}
    first_page: 1
    max_pages: 3
    link_contains: /woo/
  - id: handmatig
    kind: manual
    category: Utrecht
    documents:
      - url: https://example.org/a.pdf
        title: Besluit A
        date: "2024-01-31"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Origins, 2)
	assert.Equal(t, KindListing, cfg.Origins[0].Kind)
	assert.Equal(t, 3, cfg.Origins[0].MaxPages)
	assert.Equal(t, "Besluit A", cfg.Origins[1].Documents[0].Title)
}

func TestFileConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  FileConfig
		want string
	}{
		{"missing id", FileConfig{Origins: []OriginConfig{{Kind: KindManual}}}, "id is required"},
		{"duplicate", FileConfig{Origins: []OriginConfig{{ID: "a", Kind: KindManual}, {ID: "a", Kind: KindManual}}}, "already registered"},
		{"bad kind", FileConfig{Origins: []OriginConfig{{ID: "a", Kind: "rss"}}}, "unknown kind"},
		{"listing without url", FileConfig{Origins: []OriginConfig{{ID: "a", Kind: KindListing}}}, "listing_url"},
		{"document without url", FileConfig{Origins: []OriginConfig{{ID: "a", Kind: KindManual, Documents: []DocumentConfig{{Title: "x"}}}}}, "no url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
