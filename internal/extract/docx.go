package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fail(KindCorrupt, "", err)
	}
	defer zr.Close()
	return readDOCX(&zr.Reader)
}

func isDOCX(path string) bool {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == docxBody {
			return true
		}
	}
	return false
}

// readDOCX returns body paragraphs followed by table rows. Cells of a row are
// joined by a space.
func readDOCX(zr *zip.Reader) (string, error) {
	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fail(KindCorrupt, "", err)
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}
	return "", fail(KindCorrupt, "", errors.New("missing "+docxBody))
}

func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		rows       []string
		cells      []string
		para       strings.Builder
		inText     bool
		tableDepth int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fail(KindCorrupt, "", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					cells = cells[:0]
				}
			case "t":
				inText = true
			case "tab", "br", "cr":
				para.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				line := strings.TrimSpace(para.String())
				para.Reset()
				if line == "" {
					continue
				}
				if tableDepth > 0 {
					cells = append(cells, line)
				} else {
					paragraphs = append(paragraphs, line)
				}
			case "tr":
				if tableDepth == 1 && len(cells) > 0 {
					rows = append(rows, strings.Join(cells, " "))
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	return strings.Join(append(paragraphs, rows...), "\n"), nil
}
