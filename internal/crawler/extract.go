package crawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// dateMetaFields is the ordered list of metadata fields checked for a publish
// date; the first non-empty value wins.
var dateMetaFields = []struct {
	attr string
	name string
}{
	{"property", "article:published_time"},
	{"name", "pubdate"},
	{"name", "date"},
	{"name", "dc.date"},
	{"name", "dc.date.issued"},
}

func parseHTML(body string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

// mainRegion returns the primary content region: main, else article, else body.
func mainRegion(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"main", "article", "body"} {
		if s := doc.Find(sel); s.Length() > 0 {
			return s.First()
		}
	}
	return nil
}

// extractText returns the page's main textual content with scripts, styles
// and markup noise removed, whitespace-collapsed.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, svg").Remove()
	region := mainRegion(doc)
	if region == nil {
		return collapseWhitespace(doc.Text())
	}
	return collapseWhitespace(region.Text())
}

// extractTitle prefers the document title, then the first h1, else "Untitled".
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return "Untitled"
}

// extractDate returns a best-effort publish date from metadata, or "".
func extractDate(doc *goquery.Document) string {
	for _, field := range dateMetaFields {
		var value string
		doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if attr, _ := s.Attr(field.attr); !strings.EqualFold(attr, field.name) {
				return true
			}
			if content, ok := s.Attr("content"); ok && content != "" {
				value = content
				return false
			}
			return true
		})
		if value != "" {
			return value
		}
	}
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok && dt != "" {
		return dt
	}
	return ""
}

// extractImage prefers the open-graph image, else the first image inside the
// main content region. Relative URLs resolve against base.
func extractImage(doc *goquery.Document, base *url.URL) string {
	var og string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if attr, _ := s.Attr("property"); !strings.EqualFold(attr, "og:image") {
			return true
		}
		if content, ok := s.Attr("content"); ok && content != "" {
			og = content
			return false
		}
		return true
	})
	if og != "" {
		return resolveRef(base, og)
	}

	region := mainRegion(doc)
	if region == nil {
		return ""
	}
	if src, ok := region.Find("img[src]").First().Attr("src"); ok && src != "" {
		return resolveRef(base, src)
	}
	return ""
}

// discoverLinks returns the absolute form of every anchor href on the page.
func discoverLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if abs := resolveRef(base, href); abs != "" {
			links = append(links, abs)
		}
	})
	return links
}

func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
