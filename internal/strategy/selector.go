// Package strategy decides how a page is acquired: structured content API,
// rendered capture, or static failover fetch.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Degradation flags recorded in run metadata.
const (
	DegradedAPIUnreachable   = "structured-api-unreachable"
	DegradedStructuredFailed = "structured-acquisition-failed"
	DegradedCaptureFailed    = "rendered-capture-failed"
	DegradedDetectionFailed  = "structured-detection-failed"
)

// DefaultContentCap bounds each structured item category.
const DefaultContentCap = 50

// Acquisition is the outcome of strategy selection.
type Acquisition struct {
	HTML       string
	URL        string
	Strategy   cloner.Strategy
	Endpoint   string
	Attempts   int
	Capture    *cloner.Capture
	Structured *cloner.StructuredResult
	Detection  cloner.Detection
	Degraded   []string
}

// Selector wires the acquisition collaborators. Capturer and Content may be nil.
type Selector struct {
	Documents cloner.DocumentFetcher
	Capturer  cloner.Capturer
	Content   cloner.ContentClient
	Caps      cloner.ContentCaps
	Logger    *zap.Logger
}

// StepFunc is notified before each acquisition sub-step.
type StepFunc func(step string)

// Select runs the decision procedure once for target. A forced strategy in
// opts skips detection (static, rendered) or makes structured acquisition mandatory.
func (s *Selector) Select(ctx context.Context, target string, opts cloner.Options, onStep StepFunc) (Acquisition, error) {
	if onStep == nil {
		onStep = func(string) {}
	}
	logger := s.logger()
	acq := Acquisition{URL: target}

	switch opts.Strategy {
	case cloner.StrategyStatic:
		return s.static(ctx, target, acq, onStep)
	case cloner.StrategyRendered:
		return s.rendered(ctx, target, opts, acq, onStep)
	}

	if s.Content != nil {
		onStep("Detecting content management system")
		det, err := s.Content.Detect(ctx, target)
		if err != nil {
			logger.Warn("content detection failed", zap.String("url", target), zap.Error(err))
			acq.Degraded = append(acq.Degraded, DegradedDetectionFailed)
		}
		acq.Detection = det
		switch {
		case det.IsDetected && det.APIReachable:
			onStep("Acquiring structured content")
			res, err := s.Content.Acquire(ctx, det.APIURL, s.caps())
			if err == nil {
				out, err := s.structured(ctx, target, opts, acq, res, onStep)
				if err == nil {
					return out, nil
				}
				logger.Warn("structured acquisition document fetch failed", zap.String("url", target), zap.Error(err))
				// The fallback would walk the same endpoints again.
				var acqErr *cloner.AcquisitionError
				if errors.As(err, &acqErr) {
					acq.Degraded = append(acq.Degraded, DegradedStructuredFailed)
					return acq, err
				}
			} else {
				logger.Warn("structured acquisition failed", zap.String("url", target), zap.Error(err))
			}
			acq.Degraded = append(acq.Degraded, DegradedStructuredFailed)
		case det.IsDetected:
			logger.Info("structured api unreachable, falling back", zap.String("url", target), zap.String("api_url", det.APIURL))
			acq.Degraded = append(acq.Degraded, DegradedAPIUnreachable)
		}
	}
	if opts.Strategy == cloner.StrategyStructured {
		return acq, &cloner.AcquisitionError{Attempts: 1, Last: errors.New("structured content unavailable")}
	}

	if opts.Dynamic() {
		return s.rendered(ctx, target, opts, acq, onStep)
	}
	return s.static(ctx, target, acq, onStep)
}

// structured fetches the site document (rendered when requested) and
// attaches the structured result to it.
func (s *Selector) structured(
	ctx context.Context,
	target string,
	opts cloner.Options,
	acq Acquisition,
	res cloner.StructuredResult,
	onStep StepFunc,
) (Acquisition, error) {
	var (
		out Acquisition
		err error
	)
	if opts.Dynamic() && s.Capturer != nil {
		out, err = s.rendered(ctx, target, opts, acq, onStep)
	} else {
		out, err = s.static(ctx, target, acq, onStep)
	}
	if err != nil {
		return Acquisition{}, err
	}
	out.Strategy = cloner.StrategyStructured
	out.Structured = &res
	if out.Detection.PageBuilder == "" {
		out.Detection.PageBuilder = res.PageBuilder
	}
	return out, nil
}

func (s *Selector) static(ctx context.Context, target string, acq Acquisition, onStep StepFunc) (Acquisition, error) {
	onStep("Fetching document")
	doc, err := s.Documents.FetchDocument(ctx, target)
	if err != nil {
		return acq, err
	}
	acq.HTML = doc.HTML
	acq.Strategy = cloner.StrategyStatic
	acq.Endpoint = doc.Endpoint
	acq.Attempts = doc.Attempts
	return acq, nil
}

func (s *Selector) rendered(ctx context.Context, target string, opts cloner.Options, acq Acquisition, onStep StepFunc) (Acquisition, error) {
	if s.Capturer == nil {
		if opts.Strategy == cloner.StrategyRendered {
			return acq, &cloner.AcquisitionError{Attempts: 1, Last: cloner.ErrCaptureUnavailable}
		}
		acq.Degraded = append(acq.Degraded, DegradedCaptureFailed)
		return s.static(ctx, target, acq, onStep)
	}
	onStep(fmt.Sprintf("Rendering page (%s)", opts.Mode()))
	capture, err := s.Capturer.Capture(ctx, target, opts.Mode())
	if err != nil {
		if opts.Strategy == cloner.StrategyRendered {
			return acq, &cloner.AcquisitionError{Attempts: 1, Last: err}
		}
		s.logger().Warn("rendered capture failed, falling back to static", zap.String("url", target), zap.Error(err))
		acq.Degraded = append(acq.Degraded, DegradedCaptureFailed)
		return s.static(ctx, target, acq, onStep)
	}
	acq.HTML = capture.HTML
	if capture.FinalURL != "" {
		acq.URL = capture.FinalURL
	}
	acq.Strategy = cloner.StrategyRendered
	acq.Endpoint = "browser"
	acq.Attempts = 1
	acq.Capture = &capture
	return acq, nil
}

func (s *Selector) caps() cloner.ContentCaps {
	caps := s.Caps
	if caps.Posts <= 0 {
		caps.Posts = DefaultContentCap
	}
	if caps.Pages <= 0 {
		caps.Pages = DefaultContentCap
	}
	return caps
}

func (s *Selector) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
