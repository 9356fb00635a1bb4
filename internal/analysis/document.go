// Package analysis derives metadata from a materialized or fetched document
// and runs the optional post-processing analyzers. Framework and CMS labels
// come from ordered rule lists evaluated first-match-wins.
package analysis

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Doc is a parsed page shared by the rules and analyzers.
type Doc struct {
	URL   *url.URL
	HTML  string
	Lower string
	Query *goquery.Document
}

// NewDoc parses html. rawURL may be empty.
func NewDoc(rawURL, html string) (*Doc, error) {
	q, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	d := &Doc{HTML: html, Lower: strings.ToLower(html), Query: q}
	if rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil {
			d.URL = u
		}
	}
	return d, nil
}

// Has reports whether the lowercased document contains any of needles.
func (d *Doc) Has(needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(d.Lower, n) {
			return true
		}
	}
	return false
}

// Exists reports whether selector matches at least one element.
func (d *Doc) Exists(selector string) bool {
	return d.Query.Find(selector).Length() > 0
}

// Generator returns the content of <meta name="generator">.
func (d *Doc) Generator() string {
	var gen string
	d.Query.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("name", ""), "generator") {
			gen = strings.TrimSpace(s.AttrOr("content", ""))
			return false
		}
		return true
	})
	return gen
}

// Meta returns the content of the first <meta> whose name or property is key.
func (d *Doc) Meta(key string) string {
	var out string
	d.Query.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("name", ""), key) || strings.EqualFold(s.AttrOr("property", ""), key) {
			out = strings.TrimSpace(s.AttrOr("content", ""))
			return false
		}
		return true
	})
	return out
}

// HTTPS reports whether the page URL uses https.
func (d *Doc) HTTPS() bool {
	return d.URL != nil && d.URL.Scheme == "https"
}
