package listing

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
)

var datePattern = regexp.MustCompile(`\b(\d{1,2}-\d{1,2}-\d{4}|\d{4}-\d{2}-\d{2})\b`)

type detailInfo struct {
	title   string
	date    time.Time
	summary string
}

// links returns every anchor target resolved against base, in document order.
func links(doc *html.Node, base *url.URL) []string {
	var out []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.A {
			return
		}
		href := strings.TrimSpace(attr(n, "href"))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		out = append(out, abs.String())
	})
	return out
}

func parseDetail(doc *html.Node) detailInfo {
	var info detailInfo
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.H1:
			if info.title == "" {
				info.title = strings.Join(strings.Fields(textOf(n)), " ")
			}
		case atom.Time:
			if info.date.IsZero() {
				raw := attr(n, "datetime")
				if raw == "" {
					raw = textOf(n)
				}
				if raw != "" {
					if len(raw) > 10 && raw[4] == '-' {
						raw = raw[:10]
					}
					if d, err := document.ParseDate(raw); err == nil {
						info.date = d
					}
				}
			}
		case atom.Meta:
			if info.summary == "" && strings.EqualFold(attr(n, "name"), "description") {
				info.summary = strings.TrimSpace(attr(n, "content"))
			}
		}
	})

	if info.date.IsZero() {
		if m := datePattern.FindString(textOf(doc)); m != "" {
			if d, err := document.ParseDate(m); err == nil {
				info.date = d
			}
		}
	}
	return info
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
	})
	return sb.String()
}
