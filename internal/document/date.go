package document

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Dutch month names as printed on decision pages ("12 maart 2024").
var dutchMonths = map[string]time.Month{
	"januari": time.January, "februari": time.February, "maart": time.March,
	"april": time.April, "mei": time.May, "juni": time.June,
	"juli": time.July, "augustus": time.August, "september": time.September,
	"oktober": time.October, "november": time.November, "december": time.December,
}

// ParseDate accepts ISO dates, the dd-mm-yyyy form used in metadata files and
// long Dutch dates. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 3 {
		if m, ok := dutchMonths[fields[1]]; ok {
			var day, year int
			if _, err := fmt.Sscanf(fields[0]+" "+fields[2], "%d %d", &day, &year); err == nil && day >= 1 && day <= 31 {
				return time.Date(year, m, day, 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatDate renders d as YYYY-MM-DD, or "" for the zero date.
func FormatDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return d.UTC().Format("2006-01-02")
}
