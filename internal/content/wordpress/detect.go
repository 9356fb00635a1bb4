// Package wordpress detects WordPress sites and acquires their posts and pages
// through the REST API.
package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

const (
	apiRel          = "https://api.w.org/"
	discoveryPath   = "/wp-json/"
	coreNamespace   = "wp/v2"
	defaultTimeout  = 15 * time.Second
	signalHeader    = "link-header"
	signalContent   = "wp-content"
	signalIncludes  = "wp-includes"
	signalJSON      = "wp-json"
	signalGenerator = "generator"
	signalAPI       = "api-reachable"
)

const totalSignals = 6

// BuilderRule attributes markup or API namespaces to a page builder.
type BuilderRule struct {
	Name    string
	Markers []string
}

// BuilderRules are evaluated in order; the first rule with a matching marker wins.
// Gutenberg is last because its block classes also appear under most builders.
var BuilderRules = []BuilderRule{
	{Name: "Elementor", Markers: []string{"elementor/v1", "elementor-element", "elementor-section", "elementor-widget"}},
	{Name: "Divi", Markers: []string{"et_pb_section", "et_pb_row", "et-db", "divi/v1"}},
	{Name: "WPBakery", Markers: []string{"vc_row", "wpb_wrapper", "js_composer"}},
	{Name: "Beaver Builder", Markers: []string{"fl-builder", "fl-row", "fl-module"}},
	{Name: "Oxygen", Markers: []string{"ct-section", "oxygen-body", "oxy-"}},
	{Name: "Bricks", Markers: []string{"brxe-", "bricks/v1", "bricks-"}},
	{Name: "Gutenberg", Markers: []string{"wp-block-"}},
}

// DetectBuilder returns the first page builder whose markers appear in any of the texts.
func DetectBuilder(texts ...string) string {
	for _, rule := range BuilderRules {
		for _, text := range texts {
			for _, marker := range rule.Markers {
				if strings.Contains(text, marker) {
					return rule.Name
				}
			}
		}
	}
	return ""
}

var linkAPIPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?` + regexp.QuoteMeta(apiRel) + `"?`)

// Client implements cloner.ContentClient for WordPress.
type Client struct {
	http    cloner.Fetcher
	logger  *zap.Logger
	timeout time.Duration
}

// New builds a WordPress client on top of an HTTP primitive.
func New(httpFetcher cloner.Fetcher, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{http: httpFetcher, logger: logger, timeout: timeout}
}

type discoveryDoc struct {
	Name       string   `json:"name"`
	Namespaces []string `json:"namespaces"`
}

// Detect probes target for WordPress markers and, when any marker is present,
// checks whether the REST discovery document is reachable.
func (c *Client) Detect(ctx context.Context, target string) (cloner.Detection, error) {
	base, err := url.Parse(target)
	if err != nil {
		return cloner.Detection{}, fmt.Errorf("parse target: %w", err)
	}
	resp, err := c.get(ctx, target)
	if err != nil {
		return cloner.Detection{}, fmt.Errorf("probe site root: %w", err)
	}

	var det cloner.Detection
	body := string(resp.Body)
	apiURL := ""
	if m := linkAPIPattern.FindStringSubmatch(strings.Join(resp.Headers.Values("Link"), ",")); m != nil {
		det.Signals = append(det.Signals, signalHeader)
		apiURL = m[1]
	}
	lower := strings.ToLower(body)
	for _, sig := range []struct{ name, marker string }{
		{signalContent, "/wp-content/"},
		{signalIncludes, "/wp-includes/"},
		{signalJSON, "wp-json"},
	} {
		if strings.Contains(lower, sig.marker) {
			det.Signals = append(det.Signals, sig.name)
		}
	}
	if version := generatorVersion(body); version != "" {
		det.Signals = append(det.Signals, signalGenerator)
		det.Version = version
	}
	if len(det.Signals) == 0 {
		return det, nil
	}

	det.IsDetected = true
	if apiURL == "" {
		apiURL = cloner.Origin(base) + discoveryPath
	}
	det.APIURL = apiURL

	var namespaces []string
	if doc, ok := c.discover(ctx, apiURL); ok {
		det.APIReachable = true
		det.SiteName = doc.Name
		det.Signals = append(det.Signals, signalAPI)
		namespaces = doc.Namespaces
	}
	det.PageBuilder = DetectBuilder(body, strings.Join(namespaces, " "))
	det.Confidence = 100 * len(det.Signals) / totalSignals
	c.logger.Info("wordpress detection",
		zap.String("url", target),
		zap.Strings("signals", det.Signals),
		zap.Bool("api_reachable", det.APIReachable),
		zap.Int("confidence", det.Confidence),
	)
	return det, nil
}

func (c *Client) discover(ctx context.Context, apiURL string) (discoveryDoc, bool) {
	resp, err := c.get(ctx, apiURL)
	if err != nil {
		c.logger.Warn("wordpress discovery unreachable", zap.String("api_url", apiURL), zap.Error(err))
		return discoveryDoc{}, false
	}
	if !resp.OK() {
		c.logger.Warn("wordpress discovery rejected", zap.String("api_url", apiURL), zap.Int("status", resp.StatusCode))
		return discoveryDoc{}, false
	}
	var doc discoveryDoc
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		c.logger.Warn("wordpress discovery not json", zap.String("api_url", apiURL), zap.Error(err))
		return discoveryDoc{}, false
	}
	for _, ns := range doc.Namespaces {
		if ns == coreNamespace {
			return doc, true
		}
	}
	return discoveryDoc{}, false
}

func generatorVersion(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	var version string
	doc.Find(`meta[name="generator"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if rest, ok := strings.CutPrefix(content, "WordPress"); ok {
			version = strings.TrimSpace(rest)
			if version == "" {
				version = "unknown"
			}
			return false
		}
		return true
	})
	return version
}

func (c *Client) get(ctx context.Context, rawURL string) (cloner.FetchResponse, error) {
	resp, err := c.http.Fetch(ctx, cloner.FetchRequest{
		URL:     rawURL,
		Headers: http.Header{"Accept": {"application/json, text/html;q=0.9"}},
		Timeout: c.timeout,
	})
	if err != nil {
		return cloner.FetchResponse{}, err
	}
	return resp, nil
}
