package extract

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"
)

func extractText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return decodeText(raw)
}

func decodeText(raw []byte) (string, error) {
	raw = []byte(strings.TrimPrefix(string(raw), "\ufeff"))
	if !utf8.Valid(raw) {
		return "", fail(KindCorrupt, "", errors.New("text is not valid UTF-8"))
	}
	return string(raw), nil
}
