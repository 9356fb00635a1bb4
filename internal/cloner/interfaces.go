package cloner

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// DocumentFetcher retrieves the raw HTML of a page.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) (Document, error)
}

// Capturer acquires the DOM after script execution.
type Capturer interface {
	Capture(ctx context.Context, url string, mode CaptureMode) (Capture, error)
}

// ContentClient talks to a content-management API.
type ContentClient interface {
	Detect(ctx context.Context, url string) (Detection, error)
	Acquire(ctx context.Context, apiURL string, caps ContentCaps) (StructuredResult, error)
}

// Repository persists run snapshots. Save-after-stage is best effort.
type Repository interface {
	Upsert(ctx context.Context, run *CloneRun) error
	Get(ctx context.Context, id string) (*CloneRun, error)
	List(ctx context.Context) ([]*CloneRun, error)
	Delete(ctx context.Context, id string) error
}

// Page is the input handed to post-processing analyzers.
type Page struct {
	URL      string
	HTML     string
	Assets   []Asset
	Metadata Metadata
}

// Analyzer contributes a report to the run metadata after materialization.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, page Page) (AnalysisReport, error)
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter admits or rejects new runs per caller.
type RateLimiter interface {
	Allow(key string) bool
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	Run       *CloneRun
	Options   Options
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for clone runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
