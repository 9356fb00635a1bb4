package assets

import (
	"encoding/base64"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

var extensionTypes = map[string]string{
	"woff2": "font/woff2",
	"woff":  "font/woff",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"eot":   "application/vnd.ms-fontobject",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
	"avif":  "image/avif",
	"ico":   "image/x-icon",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"css":   "text/css",
	"js":    "text/javascript",
	"mjs":   "text/javascript",
}

var defaultFormats = map[cloner.AssetKind]string{
	cloner.KindStylesheet: "css",
	cloner.KindScript:     "js",
	cloner.KindImage:      "png",
	cloner.KindFont:       "woff2",
}

// Format returns the lowercase extension of rawURL's path, or the kind default.
func Format(rawURL string, kind cloner.AssetKind) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
		if ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return defaultFormats[kind]
}

// MimeType picks the media type from the response header, then the
// extension, then content sniffing.
func MimeType(header string, format string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "" &&
		mt != "application/octet-stream" && mt != "text/plain" && mt != "binary/octet-stream" {
		return mt
	}
	if mt, ok := extensionTypes[format]; ok {
		return mt
	}
	if mt := mime.TypeByExtension("." + format); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	return http.DetectContentType(body)
}

// DataURI encodes body as a base64 data URI.
func DataURI(mimeType string, body []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(body)
}
