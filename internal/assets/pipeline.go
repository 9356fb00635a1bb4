// Package assets extracts referenced resources from a document and downloads
// them per class with bounded cost and isolated failures.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/metrics"
)

// Result is the settled outcome of one pipeline run.
type Result struct {
	Assets    []cloner.Asset
	Failures  []cloner.AssetFailure
	Attempted int
}

// TotalSize sums the byte size of every asset.
func (r Result) TotalSize() int64 {
	var total int64
	for _, a := range r.Assets {
		total += a.Size
	}
	return total
}

// Pipeline downloads extracted references through a cloner.Fetcher.
type Pipeline struct {
	fetcher cloner.Fetcher
	limits  Limits
	headers http.Header
	logger  *zap.Logger
}

// New builds a Pipeline.
func New(fetcher cloner.Fetcher, limits Limits, headers http.Header, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{fetcher: fetcher, limits: limits.withDefaults(), headers: headers, logger: logger}
}

// Limits returns the effective limits.
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Run downloads stylesheets, scripts, images and fonts in that order. Within a
// class every download runs concurrently and a failed task only drops its own
// asset. Fonts declared by downloaded stylesheets join the font class.
func (p *Pipeline) Run(ctx context.Context, refs References) Result {
	var res Result

	sheets := p.batch(ctx, refs.Stylesheets, &res)
	fonts := refs.Fonts
	for i := range sheets {
		if sheets[i].Embedded() || cloner.IsSynthetic(sheets[i].URL) {
			continue
		}
		base, err := url.Parse(sheets[i].URL)
		if err != nil {
			continue
		}
		sheets[i].Content = AbsolutizeCSS(sheets[i].Content, base)
		fonts = AddFonts(fonts, sheets[i].Content, sheets[i].URL, p.limits.MaxFonts)
	}
	res.Assets = append(res.Assets, sheets...)
	res.Assets = append(res.Assets, p.batch(ctx, refs.Scripts, &res)...)
	res.Assets = append(res.Assets, p.batch(ctx, refs.Images, &res)...)
	res.Assets = append(res.Assets, p.batch(ctx, fonts, &res)...)

	assignLocalPaths(res.Assets)
	return res
}

type outcome struct {
	asset   cloner.Asset
	failure *cloner.AssetFailure
}

func (p *Pipeline) batch(ctx context.Context, refs []Ref, res *Result) []cloner.Asset {
	slots := make([]outcome, len(refs))
	var g errgroup.Group
	for i, ref := range refs {
		if ref.Inline() {
			slots[i] = outcome{asset: inlineAsset(ref)}
			continue
		}
		res.Attempted++
		g.Go(func() error {
			slots[i] = p.download(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]cloner.Asset, 0, len(slots))
	for _, s := range slots {
		if s.failure != nil {
			res.Failures = append(res.Failures, *s.failure)
			continue
		}
		out = append(out, s.asset)
	}
	return out
}

var (
	errTooLarge  = errors.New("payload exceeds size limit")
	errEmptyBody = errors.New("empty body")
)

func (p *Pipeline) download(ctx context.Context, ref Ref) outcome {
	timeout := p.limits.TextTimeout
	if ref.Kind.Binary() {
		timeout = p.limits.BinaryTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	asset, err := p.fetch(taskCtx, ref, timeout)
	if err != nil {
		reason := err.Error()
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", timeout)
		}
		metrics.ObserveAsset(string(ref.Kind), "error", 0)
		p.logger.Warn("asset download failed",
			zap.String("kind", string(ref.Kind)),
			zap.String("url", ref.URL),
			zap.String("reason", reason),
		)
		return outcome{failure: &cloner.AssetFailure{Kind: ref.Kind, URL: ref.URL, Reason: reason}}
	}
	metrics.ObserveAsset(string(ref.Kind), "ok", asset.Size)
	p.logger.Debug("asset downloaded",
		zap.String("kind", string(ref.Kind)),
		zap.String("url", ref.URL),
		zap.Int64("bytes", asset.Size),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome{asset: asset}
}

func (p *Pipeline) fetch(ctx context.Context, ref Ref, timeout time.Duration) (cloner.Asset, error) {
	resp, err := p.fetcher.Fetch(ctx, cloner.FetchRequest{URL: ref.URL, Headers: p.headers, Timeout: timeout})
	if err != nil {
		return cloner.Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return cloner.Asset{}, err
	}
	if !resp.OK() {
		return cloner.Asset{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return cloner.Asset{}, errEmptyBody
	}
	if p.limits.MaxAssetBytes > 0 && int64(len(resp.Body)) > p.limits.MaxAssetBytes {
		return cloner.Asset{}, fmt.Errorf("%w: %d bytes", errTooLarge, len(resp.Body))
	}

	format := Format(ref.URL, ref.Kind)
	mimeType := MimeType(resp.Headers.Get("Content-Type"), format, resp.Body)
	asset := cloner.Asset{
		Kind:       ref.Kind,
		URL:        ref.URL,
		References: append([]string(nil), ref.Literals...),
		Size:       int64(len(resp.Body)),
		Format:     format,
		MimeType:   mimeType,
		Dimensions: ref.Dimensions,
	}
	if ref.Kind.Binary() {
		asset.Content = DataURI(mimeType, resp.Body)
	} else {
		asset.Content = string(resp.Body)
	}
	return asset, nil
}

func inlineAsset(ref Ref) cloner.Asset {
	format := defaultFormats[ref.Kind]
	return cloner.Asset{
		Kind:     ref.Kind,
		URL:      ref.URL,
		Size:     int64(len(ref.Content)),
		Content:  ref.Content,
		Format:   format,
		MimeType: extensionTypes[format],
	}
}
