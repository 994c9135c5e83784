package extract

import (
	"bytes"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "txt"
	FormatZip  Format = "zip"
)

var extFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".txt":  FormatText,
	".md":   FormatText,
	".zip":  FormatZip,
}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var mimeFormats = map[string]Format{
	"application/pdf":              FormatPDF,
	docxMIME:                       FormatDOCX,
	"text/plain":                   FormatText,
	"text/markdown":                FormatText,
	"application/zip":              FormatZip,
	"application/x-zip-compressed": FormatZip,
}

// detect resolves the format by extension, then content type, then magic bytes.
func detect(path, name, contentType string) (Format, error) {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f, nil
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := mimeFormats[mt]; ok {
			return f, nil
		}
	}

	head, err := readHead(path, 512)
	if err != nil {
		return "", fail(KindCorrupt, name, err)
	}
	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return FormatPDF, nil
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		if isDOCX(path) {
			return FormatDOCX, nil
		}
		return FormatZip, nil
	}
	return "", fail(KindUnsupportedFormat, name, nil)
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}
