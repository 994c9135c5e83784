package text

import (
	"errors"
	"fmt"
)

var ErrInvalidWindow = errors.New("invalid chunk window")

// Window is one fixed-size slice of a text. Offsets count runes, End is exclusive.
// Overlap is the number of leading runes shared with the previous window.
type Window struct {
	Index   int
	Start   int
	End     int
	Overlap int
	Text    string
}

// ValidateWindow reports whether size and overlap can drive Split.
func ValidateWindow(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size %d must be positive", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidWindow, overlap, size)
	}
	return nil
}

// Split cuts s into windows of size runes, each starting size-overlap runes after
// the previous one. The last window ends at the end of s. A text shorter than one
// window, including the empty text, yields exactly one window.
func Split(s string, size, overlap int) ([]Window, error) {
	if err := ValidateWindow(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(s)
	n := len(runes)
	step := size - overlap

	windows := make([]Window, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + size
		if end > n {
			end = n
		}
		w := Window{
			Index: len(windows),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		}
		if w.Index > 0 {
			w.Overlap = overlap
		}
		windows = append(windows, w)
		if end == n {
			break
		}
	}
	return windows, nil
}

// Join reverses Split: it concatenates windows, dropping each window's overlap.
func Join(windows []Window) string {
	var out []rune
	for _, w := range windows {
		r := []rune(w.Text)
		if w.Overlap > len(r) {
			continue
		}
		out = append(out, r[w.Overlap:]...)
	}
	return string(out)
}
