// Package headless contains capturers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless capturer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	Screenshot        bool
	Headers           http.Header
}

// Capturer implements cloner.Capturer using chromedp and headless Chrome.
type Capturer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless capturer backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (c *Capturer) Close() {
	c.allocCancel()
}

// Capture navigates with a headless browser and returns the rendered DOM plus
// mode-specific data.
func (c *Capturer) Capture(ctx context.Context, url string, mode cloner.CaptureMode) (cloner.Capture, error) {
	if err := c.acquire(ctx); err != nil {
		return cloner.Capture{}, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()
	// Propagate caller cancellation into the browser tab.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		out      cloner.Capture
		finalURL string
	)
	actions := []chromedp.Action{
		c.networkSetupAction(c.cfg.Headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.SettleDelay),
	}
	actions = append(actions, modeActions(mode, &out)...)
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.Evaluate(layoutScript, &out.Layout),
		chromedp.Evaluate(stylesScript, &out.Styles),
		chromedp.Evaluate(scriptsScript, &out.Scripts),
		chromedp.Evaluate(resourcesScript, &out.Resources),
		chromedp.OuterHTML("html", &out.HTML, chromedp.ByQuery),
	)
	if c.cfg.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&out.Screenshot, 80))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return cloner.Capture{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, _, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	out.FinalURL = responseURL
	if out.ModeData == nil {
		out.ModeData = map[string]any{}
	}
	out.ModeData["mode"] = string(mode)
	out.ModeData["status"] = status
	c.logger.Info("rendered capture complete",
		zap.String("url", url),
		zap.String("mode", string(mode)),
		zap.Int("status", status),
		zap.Int("images_measured", len(out.Layout)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (c *Capturer) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func (c *Capturer) navTimeout() time.Duration {
	if c.cfg.NavigationTimeout > 0 {
		return c.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
