// Package relay retrieves documents through an ordered list of relay endpoints
// with a direct request as the last resort.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/metrics"
)

const (
	// DefaultTimeout bounds each endpoint attempt.
	DefaultTimeout = 15 * time.Second
	// DefaultMinBytes rejects relays answering with near-empty stub pages.
	DefaultMinBytes = 500
)

// DefaultRelays are public relay templates. The first %s receives the
// query-escaped target; any other % is kept literally.
var DefaultRelays = []string{
	"https://api.allorigins.win/raw?url=%s",
	"https://corsproxy.io/?url=%s",
	"https://api.codetabs.com/v1/proxy?quest=%s",
}

// Config controls the failover order and acceptance thresholds.
type Config struct {
	Relays   []string
	Direct   bool
	Timeout  time.Duration
	MinBytes int
	Headers  http.Header
}

// Endpoint is one concrete retrieval URL for a target.
type Endpoint struct {
	Name string
	URL  string
}

// Fetcher implements cloner.DocumentFetcher with ordered failover.
type Fetcher struct {
	http   cloner.Fetcher
	cfg    Config
	logger *zap.Logger
}

// New builds a failover fetcher on top of an HTTP primitive.
func New(httpFetcher cloner.Fetcher, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	return &Fetcher{http: httpFetcher, cfg: cfg, logger: logger}
}

// Endpoints expands the relay templates for target, followed by the direct URL.
func (f *Fetcher) Endpoints(target string) []Endpoint {
	escaped := url.QueryEscape(target)
	endpoints := make([]Endpoint, 0, len(f.cfg.Relays)+1)
	for _, tmpl := range f.cfg.Relays {
		tmpl = strings.TrimSpace(tmpl)
		if tmpl == "" {
			continue
		}
		var raw string
		if strings.Contains(tmpl, "%s") {
			raw = strings.Replace(tmpl, "%s", escaped, 1)
		} else {
			raw = tmpl + escaped
		}
		endpoints = append(endpoints, Endpoint{Name: metrics.SanitizeSite(tmpl), URL: raw})
	}
	if f.cfg.Direct || len(endpoints) == 0 {
		endpoints = append(endpoints, Endpoint{Name: "direct", URL: target})
	}
	return endpoints
}

// FetchDocument walks the endpoints in order and returns the first successful,
// sufficiently large response. Failed endpoints are skipped without delay.
func (f *Fetcher) FetchDocument(ctx context.Context, target string) (cloner.Document, error) {
	endpoints := f.Endpoints(target)
	var last error
	for i, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return cloner.Document{}, fmt.Errorf("fetch document: %w", err)
		}
		body, err := f.attempt(ctx, ep)
		if err == nil {
			metrics.ObserveFetchAttempt(ep.Name, "ok")
			f.logger.Info("document fetched",
				zap.String("url", target),
				zap.String("endpoint", ep.Name),
				zap.Int("attempt", i+1),
				zap.Int("bytes", len(body)),
			)
			return cloner.Document{HTML: string(body), URL: target, Endpoint: ep.Name, Attempts: i + 1}, nil
		}
		last = err
		metrics.ObserveFetchAttempt(ep.Name, outcome(err))
		f.logger.Warn("endpoint failed",
			zap.String("url", target),
			zap.String("endpoint", ep.Name),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}
	return cloner.Document{}, &cloner.AcquisitionError{Attempts: len(endpoints), Last: last}
}

var (
	errBadStatus = errors.New("unsuccessful status")
	errShortBody = errors.New("payload below minimum size")
)

func (f *Fetcher) attempt(ctx context.Context, ep Endpoint) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	resp, err := f.http.Fetch(attemptCtx, cloner.FetchRequest{URL: ep.URL, Headers: f.cfg.Headers, Timeout: f.cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ep.Name, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%s: %w %d", ep.Name, errBadStatus, resp.StatusCode)
	}
	if len(resp.Body) < f.cfg.MinBytes {
		return nil, fmt.Errorf("%s: %w (%d < %d bytes)", ep.Name, errShortBody, len(resp.Body), f.cfg.MinBytes)
	}
	return resp.Body, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, errBadStatus):
		return "bad_status"
	case errors.Is(err, errShortBody):
		return "short_body"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
