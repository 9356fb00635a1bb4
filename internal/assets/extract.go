package assets

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Ref is one asset reference found in a document or stylesheet.
type Ref struct {
	Kind cloner.AssetKind
	// URL is the resolved absolute URL, or an inline:<kind>:<n> key.
	URL string
	// Literals are the textual forms the source used for URL.
	Literals   []string
	Content    string
	Dimensions *cloner.Dimensions
	Background bool
}

// Inline reports whether the reference carries its content and skips download.
func (r Ref) Inline() bool {
	return cloner.IsSynthetic(r.URL)
}

// References groups extracted refs by class, each already capped and deduplicated.
type References struct {
	Stylesheets []Ref
	Scripts     []Ref
	Images      []Ref
	Fonts       []Ref
}

// Count returns the number of refs that need a download.
func (r References) Count() int {
	n := 0
	for _, set := range [][]Ref{r.Stylesheets, r.Scripts, r.Images, r.Fonts} {
		for _, ref := range set {
			if !ref.Inline() {
				n++
			}
		}
	}
	return n
}

type slot struct {
	set *[]Ref
	idx int
}

type collector struct {
	base   *url.URL
	seen   map[string]slot
	inline map[cloner.AssetKind]int
}

func newCollector(base *url.URL) *collector {
	return &collector{base: base, seen: map[string]slot{}, inline: map[cloner.AssetKind]int{}}
}

// add resolves raw and appends it to set unless it exceeds limit. Repeated
// URLs only record an extra literal.
func (c *collector) add(set *[]Ref, kind cloner.AssetKind, raw string, limit int, mutate func(*Ref)) {
	abs := cloner.Resolve(c.base, raw)
	if abs == "" {
		return
	}
	if at, ok := c.seen[abs]; ok {
		existing := &(*at.set)[at.idx]
		existing.Literals = appendUnique(existing.Literals, strings.TrimSpace(raw))
		return
	}
	if limit > 0 && countExternal(*set) >= limit {
		return
	}
	ref := Ref{Kind: kind, URL: abs, Literals: appendUnique(nil, strings.TrimSpace(raw), abs)}
	if mutate != nil {
		mutate(&ref)
	}
	*set = append(*set, ref)
	c.seen[abs] = slot{set: set, idx: len(*set) - 1}
}

func (c *collector) addInline(set *[]Ref, kind cloner.AssetKind, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	key := fmt.Sprintf("%s%s:%d", cloner.InlinePrefix, kind, c.inline[kind])
	c.inline[kind]++
	*set = append(*set, Ref{Kind: kind, URL: key, Content: content})
}

// Extract collects stylesheet, script, image and font references from doc,
// resolving them against base and applying the per-class caps in limits.
func Extract(doc *goquery.Document, base *url.URL, limits Limits) References {
	limits = limits.withDefaults()
	c := newCollector(base)
	var refs References

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		href := s.AttrOr("href", "")
		switch {
		case hasToken(rel, "stylesheet"):
			c.add(&refs.Stylesheets, cloner.KindStylesheet, href, limits.MaxStylesheets, nil)
		case hasToken(rel, "preload") && strings.EqualFold(s.AttrOr("as", ""), "font"), looksLikeFont(href):
			c.add(&refs.Fonts, cloner.KindFont, href, limits.MaxFonts, nil)
		}
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css := s.Text()
		c.addInline(&refs.Stylesheets, cloner.KindStylesheet, css)
		for _, raw := range FontFaceURLs(css) {
			c.add(&refs.Fonts, cloner.KindFont, raw, limits.MaxFonts, nil)
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			c.add(&refs.Scripts, cloner.KindScript, src, limits.MaxScripts, nil)
			return
		}
		if isExecutable(s.AttrOr("type", "")) {
			c.addInline(&refs.Scripts, cloner.KindScript, s.Text())
		}
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		dims := markupDimensions(s)
		if src, ok := s.Attr("src"); ok {
			c.add(&refs.Images, cloner.KindImage, src, limits.MaxImages, func(r *Ref) { r.Dimensions = dims })
		}
		for _, candidate := range srcsetURLs(s.AttrOr("srcset", "")) {
			c.add(&refs.Images, cloner.KindImage, candidate, limits.MaxImages, nil)
		}
	})
	doc.Find("picture source[srcset]").Each(func(_ int, s *goquery.Selection) {
		for _, candidate := range srcsetURLs(s.AttrOr("srcset", "")) {
			c.add(&refs.Images, cloner.KindImage, candidate, limits.MaxImages, nil)
		}
	})

	var backgrounds []Ref
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		for _, raw := range BackgroundURLs(s.AttrOr("style", "")) {
			c.add(&backgrounds, cloner.KindImage, raw, limits.MaxBackgroundImages, func(r *Ref) { r.Background = true })
		}
	})
	refs.Images = append(refs.Images, backgrounds...)
	return refs
}

// AddFonts merges @font-face sources from a downloaded stylesheet into refs,
// resolving them against the stylesheet URL and honoring the font cap.
func AddFonts(refs []Ref, css string, sheetURL string, limit int) []Ref {
	base, err := url.Parse(sheetURL)
	if err != nil {
		return refs
	}
	c := newCollector(base)
	for i := range refs {
		c.seen[refs[i].URL] = slot{set: &refs, idx: i}
	}
	for _, raw := range FontFaceURLs(css) {
		if !looksLikeFont(raw) {
			continue
		}
		c.add(&refs, cloner.KindFont, raw, limit, nil)
	}
	return refs
}

func srcsetURLs(srcset string) []string {
	var out []string
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}

func markupDimensions(s *goquery.Selection) *cloner.Dimensions {
	w, errW := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s.AttrOr("width", "")), "px"), 64)
	h, errH := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s.AttrOr("height", "")), "px"), 64)
	if errW != nil || errH != nil {
		return nil
	}
	d := cloner.Dimensions{Width: w, Height: h}
	if !d.Plausible() {
		return nil
	}
	return &d
}

func isExecutable(typ string) bool {
	typ = strings.ToLower(strings.TrimSpace(typ))
	switch typ {
	case "", "text/javascript", "application/javascript", "module", "text/ecmascript":
		return true
	default:
		return false
	}
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

func countExternal(refs []Ref) int {
	n := 0
	for _, r := range refs {
		if !r.Inline() {
			n++
		}
	}
	return n
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}
