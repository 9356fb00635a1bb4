// Package hostlist matches target hosts against operator-configured patterns.
package hostlist

import "strings"

// List holds exact hosts and suffix wildcards. A nil List matches nothing.
type List struct {
	exact    map[string]struct{}
	suffixes []string
}

// New parses patterns. "example.org" matches only that host; "*.example.org"
// and ".example.org" match the domain and every subdomain. It returns nil when
// no usable pattern remains.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case strings.HasPrefix(value, "*."):
			l.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			l.addSuffix(strings.TrimPrefix(value, "."))
		default:
			if host := strings.TrimSuffix(value, "."); validHost(host) {
				l.exact[host] = struct{}{}
			}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *List) addSuffix(suffix string) {
	suffix = strings.TrimSuffix(suffix, ".")
	if !validHost(suffix) {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Match reports whether host is covered by any pattern.
func (l *List) Match(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// validHost rejects empty labels and leftover wildcards such as a bare "*".
func validHost(host string) bool {
	return host != "" && !strings.Contains(host, "*") && !strings.HasPrefix(host, ".")
}
