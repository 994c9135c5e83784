// Package source describes where publications come from and how their files are retrieved.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateOrigin = errors.New("origin already registered")
	ErrUnknownOrigin   = errors.New("unknown origin")
	ErrTooLarge        = errors.New("payload exceeds size limit")
)

// Location is a discovered document file plus the metadata hints the origin offered for it.
type Location struct {
	Origin   string    `json:"origin"`
	URL      string    `json:"url"`
	Category string    `json:"category,omitempty"`
	Title    string    `json:"title,omitempty"`
	Date     time.Time `json:"date,omitempty"`
	Type     string    `json:"type,omitempty"`
	Summary  string    `json:"summary,omitempty"`
}

// ID is stable for a given origin and URL across runs.
func (l Location) ID() string {
	sum := sha256.Sum256([]byte(l.Origin + "\n" + l.URL))
	return hex.EncodeToString(sum[:])[:32]
}

// Payload is a fetched file. The caller closes Body.
type Payload struct {
	Body        io.ReadCloser
	FileName    string
	ContentType string
	// Size is -1 when the origin did not announce a length.
	Size int64
}

// Adapter discovers and retrieves documents for one origin.
type Adapter interface {
	Origin() string
	Discover(ctx context.Context) ([]Location, error)
	Fetch(ctx context.Context, loc Location) (*Payload, error)
}

// Registry maps origin names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[a.Origin()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrigin, a.Origin())
	}
	r.adapters[a.Origin()] = a
	return nil
}

func (r *Registry) Get(origin string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[origin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrigin, origin)
	}
	return a, nil
}

// Origins returns the registered origin names in sorted order.
func (r *Registry) Origins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
