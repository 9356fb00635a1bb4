package cloner

import (
	"net/http"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a clone run.
type RunStatus string

// Run status values persisted with every snapshot.
const (
	StatusPending   RunStatus = "pending"
	StatusAnalyzing RunStatus = "analyzing"
	StatusCloning   RunStatus = "cloning"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// Terminal reports whether no transition may leave the status.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// AssetKind classifies downloaded resources.
type AssetKind string

// Supported asset classes.
const (
	KindStylesheet AssetKind = "stylesheet"
	KindScript     AssetKind = "script"
	KindImage      AssetKind = "image"
	KindFont       AssetKind = "font"
)

// Binary reports whether the asset is embedded as a data URI rather than text.
func (k AssetKind) Binary() bool {
	return k == KindImage || k == KindFont
}

// InlinePrefix marks asset keys that represent inline content without a real URL.
const InlinePrefix = "inline:"

// IsSynthetic reports whether key is an inline marker rather than a fetchable URL.
func IsSynthetic(key string) bool {
	return strings.HasPrefix(key, InlinePrefix)
}

// MaxDimension bounds accepted layout values; anything at or above it is ignored.
const MaxDimension = 5000

// Dimensions holds a rendered element size in CSS pixels.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Plausible reports whether both values lie strictly within (0, MaxDimension).
func (d Dimensions) Plausible() bool {
	return d.Width > 0 && d.Width < MaxDimension && d.Height > 0 && d.Height < MaxDimension
}

// Asset is a resource referenced by the document. URL is unique within a run.
type Asset struct {
	Kind AssetKind `json:"kind"`
	URL  string    `json:"url"`
	// References are the literal forms the document used for URL (e.g. relative paths).
	References []string    `json:"references,omitempty"`
	LocalPath  string      `json:"local_path"`
	Size       int64       `json:"size"`
	Content    string      `json:"content"`
	Format     string      `json:"format"`
	MimeType   string      `json:"mime_type,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

// Embedded reports whether Content holds a data URI.
func (a Asset) Embedded() bool {
	return strings.HasPrefix(a.Content, "data:")
}

// LogLevel grades run log entries.
type LogLevel string

// Log levels recorded on runs.
const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one timestamped narration line of a run.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// StructuredContent describes what the content-management probe found.
type StructuredContent struct {
	IsDetected   bool   `json:"is_detected"`
	APIReachable bool   `json:"api_reachable"`
	APIURL       string `json:"api_url,omitempty"`
	Version      string `json:"version,omitempty"`
	SiteName     string `json:"site_name,omitempty"`
	PageBuilder  string `json:"page_builder,omitempty"`
	Confidence   int    `json:"confidence"`
	PostsCloned  int    `json:"posts_cloned"`
	PagesCloned  int    `json:"pages_cloned"`
	BlockCount   int    `json:"block_count"`
}

// AnalysisReport is the contribution of one post-processing analyzer.
type AnalysisReport struct {
	Name         string            `json:"name"`
	Score        *float64          `json:"score,omitempty"`
	Findings     []string          `json:"findings,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Technologies []string          `json:"technologies,omitempty"`
}

// Metadata is derived from the materialized document.
type Metadata struct {
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Favicon        string             `json:"favicon"`
	Framework      string             `json:"framework"`
	CMS            string             `json:"cms,omitempty"`
	Responsive     bool               `json:"responsive"`
	NeedsRendering bool               `json:"needs_rendering"`
	TotalSize      int64              `json:"total_size"`
	AssetCount     int                `json:"asset_count"`
	PageCount      int                `json:"page_count"`
	Strategy       Strategy           `json:"strategy"`
	Endpoint       string             `json:"endpoint,omitempty"`
	Technologies   []string           `json:"technologies,omitempty"`
	Degraded       []string           `json:"degraded,omitempty"`
	Structured     *StructuredContent `json:"structured,omitempty"`
	Reports        []AnalysisReport   `json:"reports,omitempty"`
	ModeData       map[string]any     `json:"mode_data,omitempty"`
}

// CloneRun is the aggregate root of a single clone request.
type CloneRun struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Status    RunStatus  `json:"status"`
	Progress  int        `json:"progress"`
	Step      string     `json:"step"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Document  string     `json:"document,omitempty"`
	Logs      []LogEntry `json:"logs"`
	Assets    []Asset    `json:"assets"`
	Metadata  Metadata   `json:"metadata"`
	Score     *float64   `json:"score,omitempty"`
	ExportURI string     `json:"export_uri,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Snapshot returns a deep copy safe to hand to a repository.
func (r *CloneRun) Snapshot() *CloneRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Logs = append([]LogEntry(nil), r.Logs...)
	cp.Assets = make([]Asset, len(r.Assets))
	for i, a := range r.Assets {
		a.References = append([]string(nil), a.References...)
		if a.Dimensions != nil {
			d := *a.Dimensions
			a.Dimensions = &d
		}
		cp.Assets[i] = a
	}
	if r.Score != nil {
		s := *r.Score
		cp.Score = &s
	}
	cp.Metadata = r.Metadata.clone()
	return &cp
}

func (m Metadata) clone() Metadata {
	cp := m
	cp.Technologies = append([]string(nil), m.Technologies...)
	cp.Degraded = append([]string(nil), m.Degraded...)
	if m.Structured != nil {
		s := *m.Structured
		cp.Structured = &s
	}
	if m.Reports != nil {
		cp.Reports = make([]AnalysisReport, len(m.Reports))
		copy(cp.Reports, m.Reports)
	}
	if m.ModeData != nil {
		cp.ModeData = make(map[string]any, len(m.ModeData))
		for k, v := range m.ModeData {
			cp.ModeData[k] = v
		}
	}
	return cp
}

// FetchRequest captures everything needed to GET a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Document is raw HTML retrieved by the failover fetcher.
type Document struct {
	HTML     string
	URL      string
	Endpoint string
	Attempts int
}

// Capture is what a rendered-capture collaborator returns.
type Capture struct {
	HTML       string
	FinalURL   string
	Styles     []string
	Scripts    []string
	Resources  []string
	Screenshot []byte
	// Layout maps exact image source URLs to rendered sizes.
	Layout   map[string]Dimensions
	ModeData map[string]any
}

// Detection is the outcome of the content-management probe.
type Detection struct {
	IsDetected   bool
	APIURL       string
	APIReachable bool
	Confidence   int
	PageBuilder  string
	Version      string
	SiteName     string
	Signals      []string
}

// ContentCaps bounds structured acquisition per item category.
type ContentCaps struct {
	Posts int
	Pages int
}

// Block is one flattened unit of structured content.
type Block struct {
	Type string `json:"type"`
	HTML string `json:"html"`
	Text string `json:"text"`
}

// ContentItem is a post or page retrieved through the content API.
type ContentItem struct {
	ID     int     `json:"id"`
	Type   string  `json:"type"`
	Slug   string  `json:"slug"`
	Title  string  `json:"title"`
	Link   string  `json:"link"`
	Blocks []Block `json:"blocks"`
}

// StructuredResult is what structured acquisition yields.
type StructuredResult struct {
	Posts       []ContentItem
	Pages       []ContentItem
	BlockCount  int
	PageBuilder string
}
