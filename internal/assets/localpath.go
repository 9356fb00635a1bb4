package assets

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

var kindDirs = map[cloner.AssetKind]string{
	cloner.KindStylesheet: "css",
	cloner.KindScript:     "js",
	cloner.KindImage:      "images",
	cloner.KindFont:       "fonts",
}

// LocalPath derives the archive path for an asset from its URL path segment.
func LocalPath(kind cloner.AssetKind, rawURL, format string) string {
	dir := kindDirs[kind]
	if cloner.IsSynthetic(rawURL) {
		name := invalidFilenameChars.ReplaceAllString(strings.TrimPrefix(rawURL, cloner.InlinePrefix), "-")
		return path.Join(dir, name+"."+defaultFormats[kind])
	}
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		base = "index"
	}
	base = strings.Trim(invalidFilenameChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "asset"
	}
	if format != "" && !strings.EqualFold(path.Ext(base), "."+format) {
		base += "." + format
	}
	return path.Join(dir, base)
}

// assignLocalPaths gives every asset a unique local path. Collisions get a
// short hash of the URL before the extension.
func assignLocalPaths(list []cloner.Asset) {
	used := make(map[string]bool, len(list))
	for i := range list {
		p := LocalPath(list[i].Kind, list[i].URL, list[i].Format)
		if used[p] {
			ext := path.Ext(p)
			p = strings.TrimSuffix(p, ext) + "-" + cloner.ShortHash(list[i].URL, 8) + ext
		}
		used[p] = true
		list[i].LocalPath = p
	}
}
