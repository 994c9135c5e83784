package text

import "strings"

var artifactReplacer = strings.NewReplacer(" ,", ",", " .", ".", " :", ":", " ;", ";")

// Clean normalizes extracted text: runs of whitespace, newlines included, collapse
// to one space and stray spaces before punctuation are dropped.
func Clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(artifactReplacer.Replace(s))
}
