package cloner

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeURL lowercases scheme and host, strips default ports and the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// ValidateTarget checks that raw is an absolute http(s) URL. Loopback, private and
// link-local hosts are refused unless allowPrivate is set.
func ValidateTarget(raw string, allowPrivate bool) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &ValidationError{Field: "url", Reason: "host is required"}
	}
	if !allowPrivate && isPrivateHost(host) {
		return nil, &ValidationError{Field: "url", Reason: "private or loopback hosts are not allowed"}
	}
	return u, nil
}

func isPrivateHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Resolve turns ref into an absolute URL against base. Empty, fragment-only,
// data:, javascript:, mailto: and tel: references resolve to "".
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	lower := strings.ToLower(ref)
	for _, scheme := range []string{"data:", "javascript:", "mailto:", "tel:", "blob:", "about:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	parsed.Fragment = ""
	return parsed.String()
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
