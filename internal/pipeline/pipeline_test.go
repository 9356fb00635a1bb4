package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/assets"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/hash/sha256"
	"github.com/JakeFAU/site-cloner/internal/policy/hostlist"
	"github.com/JakeFAU/site-cloner/internal/storage/memory"
	"github.com/JakeFAU/site-cloner/internal/strategy"
)

const plainPage = `<html><head><title>Plain</title><meta name="viewport" content="width=device-width"></head><body><p>hello</p></body></html>`

type harness struct {
	pipeline  *Pipeline
	runs      *memory.RunStore
	blobs     *memory.BlobStore
	publisher *fakePublisher
	docs      *fakeDocs
	content   *fakeContent
	fetcher   *mapFetcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		runs:      memory.NewRunStore(),
		blobs:     memory.NewBlobStore(),
		publisher: &fakePublisher{},
		docs:      &fakeDocs{doc: cloner.Document{HTML: plainPage, Endpoint: "direct", Attempts: 1}},
		content:   &fakeContent{},
		fetcher:   &mapFetcher{bodies: map[string]fakeBody{}},
	}
	h.pipeline = New(Deps{
		Selector:   &strategy.Selector{Documents: h.docs, Content: h.content},
		Assets:     assets.New(h.fetcher, assets.Limits{}, nil, nil),
		Repository: h.runs,
		Blobs:      h.blobs,
		Publisher:  h.publisher,
		IDs:        &seqIDs{},
		Clock:      &tickClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		Hasher:     sha256.New(),
	}, Config{BlobPrefix: "runs", Topic: "clones"}, nil)
	return h
}

func TestStartRejectsBeforeCreatingRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.pipeline.deps.Limiter = denyAll{}

		run, err := h.pipeline.Start(ctx, "caller-1", "https://site.example/", cloner.Options{})
		require.Nil(t, run)
		var rl *cloner.RateLimitError
		require.ErrorAs(t, err, &rl)
		require.Equal(t, "caller-1", rl.Caller)
		list, err := h.runs.List(ctx)
		require.NoError(t, err)
		require.Empty(t, list)
	})

	tests := []struct {
		name string
		url  string
		opts cloner.Options
	}{
		{name: "denied host", url: "https://ads.blocked.example/"},
		{name: "bad scheme", url: "ftp://site.example/"},
		{name: "no host", url: "https:///path"},
		{name: "loopback", url: "http://127.0.0.1:8080/"},
		{name: "conflicting modes", url: "https://site.example/", opts: cloner.Options{CaptureResponsive: true, CaptureAnimations: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.pipeline.cfg.DenyHosts = hostlist.New([]string{"*.blocked.example"})
			run, err := h.pipeline.Start(ctx, "caller", tc.url, tc.opts)
			require.Nil(t, run)
			var ve *cloner.ValidationError
			require.ErrorAs(t, err, &ve)
			list, err := h.runs.List(ctx)
			require.NoError(t, err)
			require.Empty(t, list)
		})
	}
}

func TestStartCreatesPendingRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	run, err := h.pipeline.Start(context.Background(), "caller", "https://site.example/", cloner.Options{})
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, cloner.StatusPending, run.Status)
	require.Zero(t, run.Progress)

	stored, err := h.runs.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, cloner.StatusPending, stored.Status)
	require.Equal(t, "https://site.example/", stored.URL)
}

func TestAbortStoresFailedRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	run, err := h.pipeline.Start(ctx, "caller", "https://site.example/", cloner.Options{})
	require.NoError(t, err)

	final := h.pipeline.Abort(ctx, run, errors.New("queue full"))
	require.Equal(t, cloner.StatusError, final.Status)
	require.Equal(t, "queue full", final.Error)

	stored, err := h.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, cloner.StatusError, stored.Status)
	require.Equal(t, "queue full", stored.Step)
}

func TestCloneDocumentWithoutReferences(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var (
		mu     sync.Mutex
		values []int
	)
	opts := cloner.Options{IncludeAssets: true, OnProgress: func(percent int, _ string) {
		mu.Lock()
		values = append(values, percent)
		mu.Unlock()
	}}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", opts)
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, run.Status)
	require.Equal(t, 100, run.Progress)
	require.Equal(t, "Completed", run.Step)
	require.Equal(t, plainPage, run.Document)
	require.Empty(t, run.Assets)
	require.Zero(t, run.Metadata.AssetCount)
	require.Equal(t, "Plain", run.Metadata.Title)
	require.True(t, run.Metadata.Responsive)
	require.Equal(t, 1, run.Metadata.PageCount)
	require.Equal(t, cloner.StrategyStatic, run.Metadata.Strategy)
	require.Nil(t, run.Score)

	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		require.GreaterOrEqual(t, values[i], values[i-1], "progress must not decrease: %v", values)
	}
	require.Equal(t, 100, values[len(values)-1])

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, stored.Status)
	require.Equal(t, plainPage, stored.Document)

	require.Equal(t, "memory://runs/run-1/index.html", run.ExportURI)
	index, ok := h.blobs.Get("runs/run-1/index.html")
	require.True(t, ok)
	require.Equal(t, plainPage, string(index.Data))
	previews := 0
	for _, p := range h.blobs.Paths() {
		if strings.HasPrefix(p, "runs/run-1/preview-") && strings.HasSuffix(p, ".html") {
			previews++
		}
	}
	require.Equal(t, 1, previews)

	require.Len(t, h.publisher.messages, 1)
	msg := h.publisher.messages[0]
	require.Equal(t, "clones", msg.topic)
	require.Equal(t, "run-1", msg.payload["run_id"])
	require.Equal(t, "completed", msg.payload["status"])
	require.Equal(t, run.ExportURI, msg.payload["blob_uri"])
}

func TestCloneEmbedsAssetsAndToleratesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.docs.doc.HTML = `<html><head><title>Assets</title>` +
		`<link rel="stylesheet" href="/style.css">` +
		`<script src="/missing.js"></script></head>` +
		`<body><img src="/logo.png" width="10" height="10"></body></html>`
	h.fetcher.bodies["https://site.example/style.css"] = fakeBody{status: http.StatusOK, contentType: "text/css", body: "body{color:red}"}
	h.fetcher.bodies["https://site.example/logo.png"] = fakeBody{status: http.StatusOK, contentType: "image/png", body: "\x89PNG\r\n\x1a\nfake"}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{IncludeAssets: true})
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, run.Status)
	require.Len(t, run.Assets, 2)
	require.Equal(t, 2, run.Metadata.AssetCount)

	require.Contains(t, run.Document, "body{color:red}")
	require.Contains(t, run.Document, "data:image/png;base64,")
	require.NotContains(t, run.Document, `href="/style.css"`)

	warned := false
	for _, entry := range run.Logs {
		if entry.Level == cloner.LevelWarn && strings.Contains(entry.Message, "missing.js") {
			warned = true
		}
	}
	require.True(t, warned, "failed asset must be logged")

	css, ok := h.blobs.Get("runs/run-1/css/style.css")
	require.True(t, ok)
	require.Equal(t, "body{color:red}", string(css.Data))
	index, ok := h.blobs.Get("runs/run-1/index.html")
	require.True(t, ok)
	require.Contains(t, string(index.Data), "css/style.css")
}

func TestExportRewritesTextAssetsRelativeToTheirDirectory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.docs.doc.HTML = `<html><head><title>Imports</title>` +
		`<link rel="stylesheet" href="/a.css"><link rel="stylesheet" href="/b.css">` +
		`<script src="/app.js"></script></head><body></body></html>`
	h.fetcher.bodies["https://site.example/a.css"] = fakeBody{status: http.StatusOK, contentType: "text/css",
		body: `@import url("https://site.example/b.css");body{margin:0}`}
	h.fetcher.bodies["https://site.example/b.css"] = fakeBody{status: http.StatusOK, contentType: "text/css", body: "p{color:blue}"}
	h.fetcher.bodies["https://site.example/app.js"] = fakeBody{status: http.StatusOK, contentType: "text/javascript",
		body: `fetch("https://site.example/b.css")`}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{IncludeAssets: true})
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, run.Status)

	css, ok := h.blobs.Get("runs/run-1/css/a.css")
	require.True(t, ok)
	require.Contains(t, string(css.Data), `@import url("b.css")`)
	require.NotContains(t, string(css.Data), "css/b.css")

	js, ok := h.blobs.Get("runs/run-1/js/app.js")
	require.True(t, ok)
	require.Contains(t, string(js.Data), `fetch("../css/b.css")`)

	index, ok := h.blobs.Get("runs/run-1/index.html")
	require.True(t, ok)
	require.Contains(t, string(index.Data), `href="css/b.css"`)
}

func TestCloneStructuredContent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.content.detection = cloner.Detection{
		IsDetected:   true,
		APIReachable: true,
		APIURL:       "https://site.example/wp-json/",
		Confidence:   83,
		SiteName:     "Example Blog",
	}
	h.content.result = cloner.StructuredResult{
		Posts: make([]cloner.ContentItem, 12),
		Pages: make([]cloner.ContentItem, 3),
	}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{})
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, run.Status)
	require.Equal(t, cloner.StrategyStructured, run.Metadata.Strategy)
	require.NotNil(t, run.Metadata.Structured)
	require.True(t, run.Metadata.Structured.IsDetected)
	require.Equal(t, 12, run.Metadata.Structured.PostsCloned)
	require.Equal(t, 3, run.Metadata.Structured.PagesCloned)
	require.Equal(t, "WordPress", run.Metadata.CMS)
	require.Equal(t, 3, run.Metadata.PageCount)

	obj, ok := h.blobs.Get("runs/run-1/content.json")
	require.True(t, ok)
	var decoded map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(obj.Data, &decoded))
	require.Len(t, decoded["posts"], 12)
	require.Len(t, decoded["pages"], 3)
}

func TestCloneFallsBackWhenContentAPIUnreachable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.content.detection = cloner.Detection{IsDetected: true, APIURL: "https://site.example/wp-json/"}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{})
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, run.Status)
	require.Equal(t, cloner.StrategyStatic, run.Metadata.Strategy)
	require.NotNil(t, run.Metadata.Structured)
	require.True(t, run.Metadata.Structured.IsDetected)
	require.False(t, run.Metadata.Structured.APIReachable)
	require.Zero(t, run.Metadata.Structured.PostsCloned)
	require.Contains(t, run.Metadata.Degraded, strategy.DegradedAPIUnreachable)
	require.Zero(t, h.content.acquireCalls)
}

func TestCloneAcquisitionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.docs.err = &cloner.AcquisitionError{Attempts: 4, Last: errors.New("status 503")}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{})
	var acqErr *cloner.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	require.Equal(t, 4, acqErr.Attempts)

	require.Equal(t, cloner.StatusError, run.Status)
	require.Contains(t, run.Error, "all 4 endpoints failed")
	require.Equal(t, run.Error, run.Step)

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, cloner.StatusError, stored.Status)
	require.Empty(t, h.publisher.messages)
}

func TestCloneStageFailureFreezesProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pipeline.deps.Blobs = failingBlobs{}

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{})
	var stageErr *cloner.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, "persist", stageErr.Stage)

	require.Equal(t, cloner.StatusError, run.Status)
	require.Equal(t, 95, run.Progress)
	require.NotEmpty(t, run.Document, "partial results are kept")

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, 95, stored.Progress)
	require.Equal(t, cloner.StatusError, stored.Status)
}

func TestCloneWithoutBlobStoreSkipsExport(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pipeline.deps.Blobs = nil

	run, err := h.pipeline.Clone(context.Background(), "caller", "https://site.example/", cloner.Options{})
	require.NoError(t, err)
	require.Equal(t, cloner.StatusCompleted, run.Status)
	require.Empty(t, run.ExportURI)
	require.Empty(t, h.blobs.Paths())
}

// --- fakes ---

type fakeDocs struct {
	doc cloner.Document
	err error
}

func (f *fakeDocs) FetchDocument(_ context.Context, url string) (cloner.Document, error) {
	if f.err != nil {
		return cloner.Document{}, f.err
	}
	doc := f.doc
	doc.URL = url
	return doc, nil
}

type fakeContent struct {
	detection    cloner.Detection
	result       cloner.StructuredResult
	acquireCalls int
}

func (f *fakeContent) Detect(context.Context, string) (cloner.Detection, error) {
	return f.detection, nil
}

func (f *fakeContent) Acquire(context.Context, string, cloner.ContentCaps) (cloner.StructuredResult, error) {
	f.acquireCalls++
	return f.result, nil
}

type fakeBody struct {
	status      int
	contentType string
	body        string
}

type mapFetcher struct {
	bodies map[string]fakeBody
}

func (m *mapFetcher) Fetch(_ context.Context, req cloner.FetchRequest) (cloner.FetchResponse, error) {
	b, ok := m.bodies[req.URL]
	if !ok {
		return cloner.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	headers := http.Header{}
	headers.Set("Content-Type", b.contentType)
	return cloner.FetchResponse{URL: req.URL, StatusCode: b.status, Headers: headers, Body: []byte(b.body)}, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type published struct {
	topic   string
	payload map[string]any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := payload.(map[string]any)
	f.messages = append(f.messages, published{topic: topic, payload: m})
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}
