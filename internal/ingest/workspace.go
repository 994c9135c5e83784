package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/extract"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

// Workspace is a private temporary directory for one location. Release is
// safe to call more than once.
type Workspace struct {
	dir  string
	once sync.Once
	err  error
}

func NewWorkspace(root, locationID string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "loc-"+locationID+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) Release() error {
	w.once.Do(func() { w.err = os.RemoveAll(w.dir) })
	return w.err
}

// Store streams p into the workspace, hashing it on the way. A payload larger
// than maxBytes is rejected with source.ErrTooLarge and leaves no file behind.
func (w *Workspace) Store(p *source.Payload, maxBytes int64) (extract.File, error) {
	defer p.Body.Close()

	if maxBytes > 0 && p.Size > maxBytes {
		return extract.File{}, fmt.Errorf("%w: announced %d bytes, limit %d", source.ErrTooLarge, p.Size, maxBytes)
	}

	name := safeName(p.FileName)
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path) // #nosec G304 -- name is reduced to a base name inside the workspace
	if err != nil {
		return extract.File{}, fmt.Errorf("create workspace file: %w", err)
	}

	var body io.Reader = p.Body
	if maxBytes > 0 {
		body = io.LimitReader(p.Body, maxBytes+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", source.ErrTooLarge, maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return extract.File{}, err
	}

	return extract.File{
		Path:        path,
		Name:        name,
		ContentType: p.ContentType,
		ContentHash: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "payload"
	}
	return name
}
