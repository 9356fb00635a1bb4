package materialize

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// ApplyDimensions injects an explicit inline size into every <img> whose
// literal src has plausible layout data. Existing inline styles are appended
// to, and a declaration that is already present is not added twice.
func ApplyDimensions(doc string, layout map[string]cloner.Dimensions) (string, int) {
	if len(layout) == 0 {
		return doc, 0
	}
	var (
		out     bytes.Buffer
		applied int
	)
	out.Grow(len(doc) + 64*len(layout))
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			out.Write(z.Raw())
			return out.String(), applied
		}
		raw := append([]byte(nil), z.Raw()...)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(raw)
			continue
		}
		tok := z.Token()
		if tok.Data != "img" {
			out.Write(raw)
			continue
		}
		dims, ok := layout[attr(tok, "src")]
		if !ok || !dims.Plausible() {
			out.Write(raw)
			continue
		}
		decl := sizeDeclaration(dims)
		style := attr(tok, "style")
		if strings.Contains(style, decl) {
			out.Write(raw)
			continue
		}
		setAttr(&tok, "style", appendDeclaration(style, decl))
		out.WriteString(tok.String())
		applied++
	}
}

func sizeDeclaration(d cloner.Dimensions) string {
	return "width: " + strconv.FormatFloat(d.Width, 'f', -1, 64) + "px; height: " +
		strconv.FormatFloat(d.Height, 'f', -1, 64) + "px;"
}

func appendDeclaration(style, decl string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return decl
	}
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	return style + " " + decl
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(tok html.Token, key string) bool {
	for _, a := range tok.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(tok *html.Token, key, val string) {
	for i := range tok.Attr {
		if tok.Attr[i].Key == key {
			tok.Attr[i].Val = val
			return
		}
	}
	tok.Attr = append(tok.Attr, html.Attribute{Key: key, Val: val})
}

func dropAttrs(tok *html.Token, keys ...string) {
	kept := tok.Attr[:0]
	for _, a := range tok.Attr {
		drop := false
		for _, k := range keys {
			if a.Key == k {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	tok.Attr = kept
}
