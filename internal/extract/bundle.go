package extract

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
)

const metadataFile = "metadata.txt"

var errBundleTooLarge = errors.New("bundle exceeds uncompressed size limit")

// extractBundle reads a zip of documents plus an optional metadata.txt.
// Members are only read into memory, never written to disk, and only their
// base names are used.
func (e *Extractor) extractBundle(ctx context.Context, p string) (string, map[string]string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return "", nil, fail(KindCorrupt, "", err)
	}
	defer zr.Close()

	members := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), "._") {
			continue
		}
		members = append(members, f)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })

	budget := e.opts.MaxBundleBytes
	var (
		meta      map[string]string
		texts     []string
		supported int
		lastErr   error
	)
	for _, f := range members {
		base := path.Base(f.Name)
		raw, err := readMember(f, &budget)
		if err != nil {
			if errors.Is(err, errBundleTooLarge) {
				return "", nil, fail(KindCorrupt, "", err)
			}
			return "", nil, fail(KindCorrupt, "", fmt.Errorf("%s: %w", base, err))
		}

		if strings.EqualFold(base, metadataFile) {
			meta = parseMetadata(raw)
			continue
		}

		format, ok := extFormats[strings.ToLower(path.Ext(base))]
		if !ok || format == FormatZip {
			slog.DebugContext(ctx, "ignoring bundle member", "member", base)
			continue
		}
		supported++

		body, err := readMemberText(format, raw)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable bundle member", "member", base, "error", err)
			lastErr = err
			continue
		}
		if strings.TrimSpace(body) != "" {
			texts = append(texts, body)
		}
	}

	if supported == 0 {
		return "", nil, fail(KindUnsupportedFormat, "", errors.New("bundle contains no supported documents"))
	}
	if len(texts) == 0 && lastErr != nil {
		return "", nil, lastErr
	}
	return strings.Join(texts, "\n"), meta, nil
}

func readMember(f *zip.File, budget *int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, *budget+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > *budget {
		return nil, errBundleTooLarge
	}
	*budget -= int64(len(raw))
	return raw, nil
}

func readMemberText(format Format, raw []byte) (string, error) {
	switch format {
	case FormatPDF:
		return readPDF(bytes.NewReader(raw), int64(len(raw)))
	case FormatDOCX:
		zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			return "", fail(KindCorrupt, "", err)
		}
		return readDOCX(zr)
	default:
		return decodeText(raw)
	}
}

// parseMetadata reads "key: value" lines. Keys are lower-cased; later lines win.
func parseMetadata(raw []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(key, "\ufeff")))
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

var metadataKeys = struct {
	title, date, category, docType, url, summary []string
}{
	title:    []string{"titel", "title"},
	date:     []string{"datum", "date", "besluitdatum"},
	category: []string{"provincie", "province", "category"},
	docType:  []string{"type", "documentsoort"},
	url:      []string{"url"},
	summary:  []string{"publiekssamenvatting", "samenvatting", "summary"},
}

func lookup(meta map[string]string, keys []string) string {
	for _, k := range keys {
		if v := meta[k]; v != "" {
			return v
		}
	}
	return ""
}

// applyBundleMetadata overrides location hints with values from metadata.txt.
func applyBundleMetadata(ctx context.Context, md *document.Metadata, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if v := lookup(meta, metadataKeys.title); v != "" {
		md.Title = v
	}
	if v := lookup(meta, metadataKeys.category); v != "" {
		md.Category = v
	}
	if v := lookup(meta, metadataKeys.docType); v != "" {
		md.Type = v
	}
	if v := lookup(meta, metadataKeys.url); v != "" {
		md.URL = v
	}
	if v := lookup(meta, metadataKeys.summary); v != "" {
		md.Summary = v
	}
	if v := lookup(meta, metadataKeys.date); v != "" {
		d, err := document.ParseDate(v)
		if err != nil {
			slog.WarnContext(ctx, "ignoring unparseable bundle date", "date", v)
			return
		}
		md.Date = d
	}
}
