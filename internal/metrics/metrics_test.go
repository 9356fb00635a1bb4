package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"relay template", "https://api.allorigins.win/raw?url=x", "api.allorigins.win"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveFetchAttempt(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("relay.test", "short_body"))
	ObserveFetchAttempt("https://relay.test/raw?url=x", "short_body")
	if got := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("relay.test", "short_body")); got != before+1 {
		t.Errorf("expected fetch attempt counter to grow by 1, got %f -> %f", before, got)
	}
}

func TestObserveAssetCountsBytes(t *testing.T) {
	Init()
	before := testutil.ToFloat64(assetBytesTotal.WithLabelValues("font"))
	ObserveAsset("font", "ok", 128)
	ObserveAsset("font", "error", 0)
	if got := testutil.ToFloat64(assetBytesTotal.WithLabelValues("font")); got != before+128 {
		t.Errorf("expected 128 additional bytes, got %f", got-before)
	}
	if got := testutil.ToFloat64(assetsTotal.WithLabelValues("font", "error")); got < 1 {
		t.Errorf("expected failed asset to be counted, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
