package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

func TestSelectStructuredWhenAPIReachable(t *testing.T) {
	content := &fakeContent{
		detection: cloner.Detection{IsDetected: true, APIReachable: true, APIURL: "https://wp.test/wp-json/", Confidence: 83},
		result:    cloner.StructuredResult{Posts: make([]cloner.ContentItem, 12), Pages: make([]cloner.ContentItem, 3), PageBuilder: "Divi"},
	}
	docs := &fakeDocs{doc: cloner.Document{HTML: "<html>wp</html>", Endpoint: "direct", Attempts: 2}}
	var steps []string
	sel := &Selector{Documents: docs, Content: content}

	acq, err := sel.Select(context.Background(), "https://wp.test", cloner.Options{}, func(step string) { steps = append(steps, step) })
	require.NoError(t, err)
	require.Equal(t, cloner.StrategyStructured, acq.Strategy)
	require.Len(t, acq.Structured.Posts, 12)
	require.Len(t, acq.Structured.Pages, 3)
	require.Equal(t, "Divi", acq.Detection.PageBuilder)
	require.Equal(t, "<html>wp</html>", acq.HTML)
	require.Equal(t, cloner.ContentCaps{Posts: 50, Pages: 50}, content.caps)
	require.Equal(t, []string{"Detecting content management system", "Acquiring structured content", "Fetching document"}, steps)
}

func TestSelectFallsBackWhenAPIUnreachable(t *testing.T) {
	content := &fakeContent{detection: cloner.Detection{IsDetected: true, APIURL: "https://wp.test/wp-json/"}}
	docs := &fakeDocs{doc: cloner.Document{HTML: "<html>static</html>"}}
	sel := &Selector{Documents: docs, Content: content}

	acq, err := sel.Select(context.Background(), "https://wp.test", cloner.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, cloner.StrategyStatic, acq.Strategy)
	require.True(t, acq.Detection.IsDetected)
	require.Nil(t, acq.Structured)
	require.Equal(t, []string{DegradedAPIUnreachable}, acq.Degraded)
	require.Zero(t, content.acquireCalls, "unreachable api must not be retried")
}

func TestSelectFallsBackWhenStructuredFails(t *testing.T) {
	content := &fakeContent{
		detection:  cloner.Detection{IsDetected: true, APIReachable: true, APIURL: "https://wp.test/wp-json/"},
		acquireErr: errors.New("500"),
	}
	capturer := &fakeCapturer{capture: cloner.Capture{HTML: "<html>rendered</html>", FinalURL: "https://wp.test/home"}}
	sel := &Selector{Documents: &fakeDocs{}, Content: content, Capturer: capturer}

	acq, err := sel.Select(context.Background(), "https://wp.test", cloner.Options{UseBrowserAutomation: true}, nil)
	require.NoError(t, err)
	require.Equal(t, cloner.StrategyRendered, acq.Strategy)
	require.Equal(t, "https://wp.test/home", acq.URL)
	require.Contains(t, acq.Degraded, DegradedStructuredFailed)
	require.Equal(t, cloner.ModeStandard, capturer.mode)
}

func TestSelectRenderedModeAndFallback(t *testing.T) {
	capturer := &fakeCapturer{err: errors.New("chrome crashed")}
	docs := &fakeDocs{doc: cloner.Document{HTML: "<html>static</html>"}}
	sel := &Selector{Documents: docs, Capturer: capturer}

	acq, err := sel.Select(context.Background(), "https://site.test", cloner.Options{CaptureNavigation: true}, nil)
	require.NoError(t, err)
	require.Equal(t, cloner.ModeNavigation, capturer.mode)
	require.Equal(t, cloner.StrategyStatic, acq.Strategy)
	require.Equal(t, []string{DegradedCaptureFailed}, acq.Degraded)
}

func TestSelectForcedStrategies(t *testing.T) {
	content := &fakeContent{detection: cloner.Detection{IsDetected: true, APIReachable: true}}
	docs := &fakeDocs{doc: cloner.Document{HTML: "<html>static</html>"}}
	sel := &Selector{Documents: docs, Content: content}

	acq, err := sel.Select(context.Background(), "https://site.test", cloner.Options{Strategy: cloner.StrategyStatic}, nil)
	require.NoError(t, err)
	require.Equal(t, cloner.StrategyStatic, acq.Strategy)
	require.Zero(t, content.detectCalls)

	_, err = sel.Select(context.Background(), "https://site.test", cloner.Options{Strategy: cloner.StrategyRendered}, nil)
	var acqErr *cloner.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	require.ErrorIs(t, err, cloner.ErrCaptureUnavailable)

	content.detection = cloner.Detection{}
	_, err = sel.Select(context.Background(), "https://site.test", cloner.Options{Strategy: cloner.StrategyStructured}, nil)
	require.ErrorAs(t, err, &acqErr)
}

func TestSelectPropagatesAcquisitionError(t *testing.T) {
	want := &cloner.AcquisitionError{Attempts: 4, Last: errors.New("all down")}
	sel := &Selector{Documents: &fakeDocs{err: want}, Content: &fakeContent{detectErr: errors.New("dns")}}

	acq, err := sel.Select(context.Background(), "https://site.test", cloner.Options{}, nil)
	require.ErrorIs(t, err, want)
	require.Equal(t, []string{DegradedDetectionFailed}, acq.Degraded)
}

func TestSelectDoesNotRefetchAfterStructuredDocumentFailure(t *testing.T) {
	content := &fakeContent{
		detection: cloner.Detection{IsDetected: true, APIReachable: true, APIURL: "https://wp.test/wp-json/"},
		result:    cloner.StructuredResult{Posts: make([]cloner.ContentItem, 2)},
	}
	want := &cloner.AcquisitionError{Attempts: 4, Last: errors.New("all relays down")}
	docs := &fakeDocs{err: want}
	sel := &Selector{Documents: docs, Content: content}

	acq, err := sel.Select(context.Background(), "https://wp.test", cloner.Options{}, nil)
	require.ErrorIs(t, err, want)
	require.Equal(t, 1, docs.calls, "endpoints must be walked once")
	require.Equal(t, []string{DegradedStructuredFailed}, acq.Degraded)
	require.True(t, acq.Detection.IsDetected)
}

// --- fakes ---

type fakeDocs struct {
	doc   cloner.Document
	err   error
	calls int
}

func (f *fakeDocs) FetchDocument(_ context.Context, url string) (cloner.Document, error) {
	f.calls++
	if f.err != nil {
		return cloner.Document{}, f.err
	}
	doc := f.doc
	doc.URL = url
	return doc, nil
}

type fakeContent struct {
	detection    cloner.Detection
	detectErr    error
	result       cloner.StructuredResult
	acquireErr   error
	caps         cloner.ContentCaps
	detectCalls  int
	acquireCalls int
}

func (f *fakeContent) Detect(context.Context, string) (cloner.Detection, error) {
	f.detectCalls++
	return f.detection, f.detectErr
}

func (f *fakeContent) Acquire(_ context.Context, _ string, caps cloner.ContentCaps) (cloner.StructuredResult, error) {
	f.acquireCalls++
	f.caps = caps
	return f.result, f.acquireErr
}

type fakeCapturer struct {
	capture cloner.Capture
	err     error
	mode    cloner.CaptureMode
}

func (f *fakeCapturer) Capture(_ context.Context, _ string, mode cloner.CaptureMode) (cloner.Capture, error) {
	f.mode = mode
	return f.capture, f.err
}
