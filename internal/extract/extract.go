// Package extract turns fetched files into document records.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/text"
)

type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindNoText            Kind = "no_text"
	KindCorrupt           Kind = "corrupt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNoText            = errors.New("no extractable text")
	ErrCorrupt           = errors.New("corrupt file")
)

// Error is the typed extraction failure. errors.Is matches the sentinel of its Kind.
type Error struct {
	Kind Kind
	File string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.File, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.File, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindUnsupportedFormat:
		return target == ErrUnsupportedFormat
	case KindNoText:
		return target == ErrNoText
	case KindCorrupt:
		return target == ErrCorrupt
	}
	return false
}

func fail(kind Kind, file string, err error) *Error {
	return &Error{Kind: kind, File: file, Err: err}
}

// File is a fetched payload written to the workspace.
type File struct {
	Path        string
	Name        string
	ContentType string
	ContentHash string
}

type Options struct {
	// MaxBundleBytes caps the total uncompressed size read from a zip bundle.
	MaxBundleBytes int64
}

type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	if opts.MaxBundleBytes <= 0 {
		opts.MaxBundleBytes = 1 << 30
	}
	return &Extractor{opts: opts}
}

// Extract never panics on malformed input; every failure is an *Error.
func (e *Extractor) Extract(ctx context.Context, f File, loc source.Location) (rec document.Record, err error) {
	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.WarnContext(ctx, "recovered panic during extraction", "file", name, "panic", r)
			rec = document.Record{}
			err = fail(KindCorrupt, name, fmt.Errorf("parser panic: %v", r))
		}
	}()

	format, ferr := detect(f.Path, name, f.ContentType)
	if ferr != nil {
		return document.Record{}, ferr
	}

	md := document.Metadata{
		URL:      loc.URL,
		Category: loc.Category,
		Title:    loc.Title,
		Date:     loc.Date,
		Type:     loc.Type,
		Summary:  loc.Summary,
		FileName: name,
		FileType: string(format),
	}

	var body string
	switch format {
	case FormatPDF:
		body, err = extractPDF(f.Path)
	case FormatDOCX:
		body, err = extractDOCX(f.Path)
	case FormatText:
		body, err = extractText(f.Path)
	case FormatZip:
		var meta map[string]string
		body, meta, err = e.extractBundle(ctx, f.Path)
		if err == nil {
			applyBundleMetadata(ctx, &md, meta)
		}
	}
	if err != nil {
		var xe *Error
		if errors.As(err, &xe) {
			xe.File = name
			return document.Record{}, xe
		}
		return document.Record{}, fail(KindCorrupt, name, err)
	}

	body = text.Clean(body)
	if body == "" {
		return document.Record{}, fail(KindNoText, name, nil)
	}
	if md.Title == "" {
		md.Title = strings.TrimSuffix(name, filepath.Ext(name))
	}

	return document.NewRecord(loc.ID(), f.ContentHash, body, md), nil
}
