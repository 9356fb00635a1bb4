// Package materialize rewrites a fetched document into a self-contained form.
//
// Two passes run in a fixed order: dimension preservation first, because it
// matches image elements by their original src, then embedding, which removes
// those original URLs. Tokens that are not rewritten are copied byte for byte,
// so a document without matching references comes out unchanged.
package materialize

import (
	"bytes"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/site-cloner/internal/assets"
	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Mode selects how references are rewritten.
type Mode int

const (
	// EmbedInPlace produces a single-file preview: binaries as data URIs,
	// stylesheets and scripts inlined.
	EmbedInPlace Mode = iota
	// LocalPaths produces an archive layout: binaries still embedded, text
	// assets pointed at their generated local paths.
	LocalPaths
)

// Traceability attributes carrying the original asset URL.
const (
	AttrOriginalHref = "data-original-href"
	AttrOriginalSrc  = "data-original-src"
)

// Options configure one materialization.
type Options struct {
	Mode    Mode
	BaseURL string
	// Layout maps literal image src values to rendered sizes.
	Layout map[string]cloner.Dimensions
}

// Result is the rewritten document and pass statistics.
type Result struct {
	HTML               string
	DimensionsApplied  int
	StylesheetsInlined int
	ScriptsInlined     int
}

// Materialize runs the dimension pass and then the embedding pass.
func Materialize(doc string, list []cloner.Asset, opts Options) Result {
	out, applied := ApplyDimensions(doc, opts.Layout)
	r := NewRewriter(list, opts)
	res := r.Document(out)
	res.DimensionsApplied = applied
	return res
}

type replacement struct {
	literal  string
	value    string
	absolute bool
	local    bool
	pattern  *regexp.Regexp
}

// Rewriter substitutes asset references according to a Mode.
type Rewriter struct {
	mode     Mode
	base     *url.URL
	byRef    map[string]*cloner.Asset
	replaces []replacement
}

// NewRewriter indexes the non-synthetic assets of list.
func NewRewriter(list []cloner.Asset, opts Options) *Rewriter {
	r := &Rewriter{mode: opts.Mode, byRef: map[string]*cloner.Asset{}}
	if opts.BaseURL != "" {
		if u, err := url.Parse(opts.BaseURL); err == nil {
			r.base = u
		}
	}
	seen := map[string]bool{}
	for i := range list {
		a := &list[i]
		if cloner.IsSynthetic(a.URL) || a.URL == "" {
			continue
		}
		value := r.value(a)
		if value == "" {
			continue
		}
		for _, lit := range append([]string{a.URL}, a.References...) {
			if lit == "" || seen[lit] {
				continue
			}
			seen[lit] = true
			r.byRef[lit] = a
			rep := replacement{
				literal:  lit,
				value:    value,
				absolute: isAbsolute(lit),
				local:    r.mode == LocalPaths && !a.Kind.Binary(),
			}
			if !rep.absolute {
				rep.pattern = regexp.MustCompile(`(["'(,]\s*)` + regexp.QuoteMeta(lit) + `([\s"'),])`)
			}
			r.replaces = append(r.replaces, rep)
		}
	}
	// Longer literals first so a URL never clobbers a longer one it prefixes.
	sort.SliceStable(r.replaces, func(i, j int) bool {
		return len(r.replaces[i].literal) > len(r.replaces[j].literal)
	})
	return r
}

func (r *Rewriter) value(a *cloner.Asset) string {
	if a.Kind.Binary() {
		if a.Embedded() {
			return a.Content
		}
		return assets.DataURI(mimeOf(a), []byte(a.Content))
	}
	if r.mode == LocalPaths {
		return a.LocalPath
	}
	return assets.DataURI(mimeOf(a), []byte(a.Content))
}

func mimeOf(a *cloner.Asset) string {
	if a.MimeType != "" {
		return a.MimeType
	}
	return assets.MimeType("", a.Format, []byte(a.Content))
}

// Text replaces asset references in free text such as CSS or script bodies.
// Absolute URLs are replaced everywhere; relative literals only inside
// quotes, parentheses or srcset lists.
func (r *Rewriter) Text(s string) string {
	return r.TextAt(s, "")
}

// TextAt is Text for a body stored at a local path inside dir. Local-path
// references are made relative to dir.
func (r *Rewriter) TextAt(s, dir string) string {
	for _, rep := range r.replaces {
		if !strings.Contains(s, rep.literal) {
			continue
		}
		value := rep.value
		if rep.local {
			value = relativeTo(dir, value)
		}
		if rep.absolute {
			s = strings.ReplaceAll(s, rep.literal, value)
			continue
		}
		s = rep.pattern.ReplaceAllStringFunc(s, func(m string) string {
			sub := rep.pattern.FindStringSubmatch(m)
			return sub[1] + value + sub[2]
		})
	}
	return s
}

// relativeTo expresses the slash-separated target, relative to the archive
// root, as a path relative to dir.
func relativeTo(dir, target string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return target
	}
	from := strings.Split(dir, "/")
	to := strings.Split(target, "/")
	i := 0
	for i < len(from) && i < len(to)-1 && from[i] == to[i] {
		i++
	}
	return strings.Repeat("../", len(from)-i) + strings.Join(to[i:], "/")
}

// attrValue rewrites a single attribute value: whole-value matches first,
// then srcset candidates, then embedded text.
func (r *Rewriter) attrValue(key, val string) string {
	if a := r.lookup(val); a != nil {
		return r.value(a)
	}
	if key == "srcset" || key == "imagesrcset" {
		parts := strings.Split(val, ",")
		changed := false
		for i, part := range parts {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			if a := r.lookup(fields[0]); a != nil {
				fields[0] = r.value(a)
				parts[i] = strings.Join(fields, " ")
				changed = true
			}
		}
		if changed {
			return strings.Join(parts, ", ")
		}
	}
	return r.Text(val)
}

func (r *Rewriter) lookup(ref string) *cloner.Asset {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if a, ok := r.byRef[ref]; ok {
		return a
	}
	if abs := cloner.Resolve(r.base, ref); abs != "" {
		if a, ok := r.byRef[abs]; ok {
			return a
		}
	}
	return nil
}

// Document runs the embedding pass over doc.
func (r *Rewriter) Document(doc string) Result {
	var (
		out       bytes.Buffer
		res       Result
		skipUntil string
	)
	out.Grow(len(doc))
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			out.Write(z.Raw())
			res.HTML = out.String()
			return res
		}
		raw := append([]byte(nil), z.Raw()...)
		switch tt {
		case html.TextToken, html.CommentToken:
			if skipUntil != "" {
				continue
			}
			out.WriteString(r.Text(string(raw)))
		case html.EndTagToken:
			if skipUntil != "" {
				name, _ := z.TagName()
				if string(name) != skipUntil {
					continue
				}
				skipUntil = ""
			}
			out.Write(raw)
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if inlined, skip := r.structural(tok, tt, &res); inlined != "" {
				out.WriteString(inlined)
				skipUntil = skip
				continue
			}
			if r.rewriteAttrs(&tok) {
				out.WriteString(tok.String())
			} else {
				out.Write(raw)
			}
		default:
			out.Write(raw)
		}
	}
}

// structural replaces stylesheet links and external scripts. It returns the
// replacement markup and, for scripts, the tag whose body must be skipped.
func (r *Rewriter) structural(tok html.Token, tt html.TokenType, res *Result) (string, string) {
	switch tok.Data {
	case "link":
		if !hasToken(attr(tok, "rel"), "stylesheet") {
			return "", ""
		}
		a := r.lookup(attr(tok, "href"))
		if a == nil || a.Kind != cloner.KindStylesheet || r.mode == LocalPaths {
			return "", ""
		}
		style := html.Token{Type: html.StartTagToken, Data: "style", Attr: []html.Attribute{{Key: AttrOriginalHref, Val: a.URL}}}
		if media := attr(tok, "media"); media != "" {
			style.Attr = append(style.Attr, html.Attribute{Key: "media", Val: media})
		}
		res.StylesheetsInlined++
		return style.String() + escapeRawText(r.Text(a.Content), "style") + "</style>", ""
	case "script":
		if !hasAttr(tok, "src") {
			return "", ""
		}
		a := r.lookup(attr(tok, "src"))
		if a == nil || a.Kind != cloner.KindScript || r.mode == LocalPaths {
			return "", ""
		}
		src := a.URL
		dropAttrs(&tok, "src", "integrity", "crossorigin", "async", "defer")
		tok.Type = html.StartTagToken
		tok.Attr = append(tok.Attr, html.Attribute{Key: AttrOriginalSrc, Val: src})
		res.ScriptsInlined++
		body := tok.String() + escapeRawText(r.Text(a.Content), "script")
		if tt == html.SelfClosingTagToken {
			return body + "</script>", ""
		}
		return body, "script"
	}
	return "", ""
}

func (r *Rewriter) rewriteAttrs(tok *html.Token) bool {
	changed := false
	for i, a := range tok.Attr {
		if a.Key == AttrOriginalHref || a.Key == AttrOriginalSrc {
			continue
		}
		if v := r.attrValue(a.Key, a.Val); v != a.Val {
			tok.Attr[i].Val = v
			changed = true
		}
	}
	return changed
}

var rawTextClosers = map[string]*regexp.Regexp{
	"script": regexp.MustCompile(`(?i)</(script)`),
	"style":  regexp.MustCompile(`(?i)</(style)`),
}

// escapeRawText keeps inlined content from closing its element early. HTML
// matches raw-text end tags case-insensitively.
func escapeRawText(s, tag string) string {
	re, ok := rawTextClosers[tag]
	if !ok {
		return s
	}
	return re.ReplaceAllString(s, `<\/$1`)
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}

func isAbsolute(lit string) bool {
	return strings.Contains(lit, "://") || strings.HasPrefix(lit, "//")
}
