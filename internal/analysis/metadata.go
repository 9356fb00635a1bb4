package analysis

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// DefaultShellThreshold is the body size below which a script-heavy page is
// treated as an application shell.
const DefaultShellThreshold = 2048

var shellMarkers = []string{
	`id="__next"`,
	`id="__nuxt"`,
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
}

// NeedsRendering reports whether raw HTML looks like a client-rendered shell
// whose content only appears after script execution.
func NeedsRendering(html string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultShellThreshold
	}
	if strings.TrimSpace(html) == "" {
		return true
	}
	lower := strings.ToLower(html)
	if len(lower) < threshold && scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range shellMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover a quarter or more of
// the (lowercased) document.
func scriptDensityHigh(lower string) bool {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(lower)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag; the rest of the document belongs to it.
			covered += total - start
			break
		}
		bodyStart := start + tagClose + 1
		end := total
		if relEnd := strings.Index(lower[bodyStart:], closeTag); relEnd != -1 {
			end = bodyStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return total > 0 && covered*100/total >= 25
}

// Describe derives the base metadata of a document. Sizes and counts cover
// the document plus every asset with a real URL.
func Describe(d *Doc, assets []cloner.Asset) cloner.Metadata {
	md := cloner.Metadata{
		Title:       strings.TrimSpace(d.Query.Find("title").First().Text()),
		Description: d.Meta("description"),
		Favicon:     favicon(d),
		Framework:   First(Frameworks, d),
		CMS:         First(CMSRules, d),
		Responsive:  strings.Contains(strings.ToLower(d.Meta("viewport")), "width=device-width"),
		TotalSize:   int64(len(d.HTML)),
		PageCount:   1,
	}
	if md.Description == "" {
		md.Description = d.Meta("og:description")
	}
	for _, a := range assets {
		if cloner.IsSynthetic(a.URL) {
			continue
		}
		md.AssetCount++
		md.TotalSize += a.Size
	}
	return md
}

func favicon(d *Doc) string {
	var href string
	d.Query.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, rel := range strings.Fields(strings.ToLower(s.AttrOr("rel", ""))) {
			if rel == "icon" || rel == "apple-touch-icon" {
				href = strings.TrimSpace(s.AttrOr("href", ""))
				return false
			}
		}
		return true
	})
	if href == "" {
		if d.URL == nil {
			return ""
		}
		return cloner.Origin(d.URL) + "/favicon.ico"
	}
	if strings.HasPrefix(href, "data:") || d.URL == nil {
		return href
	}
	if abs := cloner.Resolve(d.URL, href); abs != "" {
		return abs
	}
	return href
}
