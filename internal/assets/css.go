package assets

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

var (
	cssURLPattern      = regexp.MustCompile(`url\(\s*(?:'([^']*)'|"([^"]*)"|([^)'"\s]+))\s*\)`)
	fontFacePattern    = regexp.MustCompile(`(?is)@font-face\s*\{[^}]*\}`)
	backgroundPattern  = regexp.MustCompile(`(?is)background(?:-image)?\s*:[^;]*`)
	cssImportPattern   = regexp.MustCompile(`(?i)@import\s+(?:url\(\s*)?['"]?([^'")\s;]+)['"]?\s*\)?`)
	fontExtensionRegex = regexp.MustCompile(`(?i)\.(woff2?|ttf|otf|eot)(?:$|[?#])`)
)

// cssURLs returns every url(...) reference in css, in order of appearance.
func cssURLs(css string) []string {
	matches := cssURLPattern.FindAllStringSubmatch(css, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		for _, group := range m[1:] {
			if group != "" {
				out = append(out, strings.TrimSpace(group))
				break
			}
		}
	}
	return out
}

// FontFaceURLs returns the src references of every @font-face rule in css.
func FontFaceURLs(css string) []string {
	var out []string
	for _, block := range fontFacePattern.FindAllString(css, -1) {
		out = append(out, cssURLs(block)...)
	}
	return out
}

// BackgroundURLs returns url(...) references inside background declarations.
func BackgroundURLs(style string) []string {
	var out []string
	for _, decl := range backgroundPattern.FindAllString(style, -1) {
		out = append(out, cssURLs(decl)...)
	}
	return out
}

// AbsolutizeCSS rewrites relative url(...) and @import references in css
// against base, so the text keeps working once inlined into another document.
func AbsolutizeCSS(css string, base *url.URL) string {
	if base == nil {
		return css
	}
	css = cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		refs := cssURLs(match)
		if len(refs) == 0 {
			return match
		}
		abs := cloner.Resolve(base, refs[0])
		if abs == "" || abs == refs[0] {
			return match
		}
		return `url("` + abs + `")`
	})
	return cssImportPattern.ReplaceAllStringFunc(css, func(match string) string {
		m := cssImportPattern.FindStringSubmatch(match)
		if len(m) < 2 {
			return match
		}
		abs := cloner.Resolve(base, m[1])
		if abs == "" || abs == m[1] {
			return match
		}
		return strings.Replace(match, m[1], abs, 1)
	})
}

func looksLikeFont(raw string) bool {
	return fontExtensionRegex.MatchString(raw)
}
