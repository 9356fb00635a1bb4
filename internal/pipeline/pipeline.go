// Package pipeline executes clone runs: admission, acquisition, asset download,
// materialization, analysis and export, with the run snapshot saved after
// every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/analysis"
	"github.com/JakeFAU/site-cloner/internal/assets"
	"github.com/JakeFAU/site-cloner/internal/clock/system"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/metrics"
	"github.com/JakeFAU/site-cloner/internal/policy/hostlist"
	"github.com/JakeFAU/site-cloner/internal/progress"
	"github.com/JakeFAU/site-cloner/internal/strategy"
)

// Config controls pipeline behavior.
type Config struct {
	// AllowPrivate admits loopback and private targets. Only trusted callers
	// such as the CLI or tests should set it.
	AllowPrivate bool
	// BlobPrefix is prepended to exported object paths.
	BlobPrefix string
	// Topic receives completion notifications when a Publisher is wired.
	Topic string
	// ShellThreshold tunes the client-rendered page heuristic.
	ShellThreshold int
	// DenyHosts rejects matching targets at admission.
	DenyHosts *hostlist.List
}

// Deps are the pipeline collaborators. Repository, IDs and Selector are
// required; the rest are optional.
type Deps struct {
	Selector   *strategy.Selector
	Assets     *assets.Pipeline
	Analysis   *analysis.Runner
	Repository cloner.Repository
	Blobs      cloner.BlobStore
	Publisher  cloner.Publisher
	Limiter    cloner.RateLimiter
	IDs        cloner.IDGenerator
	Clock      cloner.Clock
	Hasher     cloner.Hasher
	Emitter    progress.Emitter
}

// Pipeline runs clone requests. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Analysis == nil {
		deps.Analysis = analysis.NewRunner(cloner.DefaultBackoff, logger)
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Start admits a request and persists a pending run. Rate-limit and validation
// failures return *cloner.RateLimitError or *cloner.ValidationError and no run.
func (p *Pipeline) Start(ctx context.Context, caller, rawURL string, opts cloner.Options) (*cloner.CloneRun, error) {
	if p.deps.Limiter != nil && !p.deps.Limiter.Allow(caller) {
		metrics.ObserveRateLimitRejection()
		return nil, &cloner.RateLimitError{Caller: caller}
	}
	target, err := cloner.ValidateTarget(rawURL, p.cfg.AllowPrivate)
	if err != nil {
		return nil, err
	}
	if p.cfg.DenyHosts.Match(target.Hostname()) {
		return nil, &cloner.ValidationError{Field: "url", Reason: "host is not allowed"}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	id, err := p.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	now := p.deps.Clock.Now()
	run := &cloner.CloneRun{
		ID:        id,
		URL:       target.String(),
		Status:    cloner.StatusPending,
		Step:      "Queued",
		CreatedAt: now,
		UpdatedAt: now,
		Logs:      []cloner.LogEntry{},
		Assets:    []cloner.Asset{},
	}
	if err := p.deps.Repository.Upsert(ctx, run.Snapshot()); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	p.logger.Info("clone run created", zap.String("run_id", id), zap.String("url", run.URL), zap.String("caller", caller))
	return run, nil
}

// Clone is Start followed by Run.
func (p *Pipeline) Clone(ctx context.Context, caller, rawURL string, opts cloner.Options) (*cloner.CloneRun, error) {
	run, err := p.Start(ctx, caller, rawURL, opts)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, run, opts)
}

// stage is one step of the fixed run sequence. Each owns the progress range
// starting at percent.
type stage struct {
	name    string
	percent int
	step    string
	fn      func(ctx context.Context, st *state) error
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{name: "fetch", percent: 0, step: "Fetching page", fn: p.fetch},
		{name: "content", percent: 25, step: "Analyzing content structure", fn: p.content},
		{name: "assets", percent: 50, step: "Downloading assets", fn: p.downloadAssets},
		{name: "materialize", percent: 70, step: "Materializing document", fn: p.materialize},
		{name: "analysis", percent: 90, step: "Analyzing page", fn: p.analyze},
		{name: "persist", percent: 95, step: "Saving results", fn: p.persist},
	}
}

// Run executes run to a terminal state and returns its final snapshot. On
// failure the run is stored with status error and the error is returned too.
func (p *Pipeline) Run(ctx context.Context, run *cloner.CloneRun, opts cloner.Options) (*cloner.CloneRun, error) {
	tracker := progress.NewTracker(run, progress.TrackerConfig{
		Emitter:    p.deps.Emitter,
		OnProgress: opts.OnProgress,
		Clock:      p.deps.Clock,
		Logger:     p.logger,
	})
	st := &state{tracker: tracker, opts: opts, url: run.URL}

	if err := tracker.Transition(cloner.StatusAnalyzing); err != nil {
		return tracker.Snapshot(), fmt.Errorf("start run: %w", err)
	}
	for _, s := range p.stages() {
		tracker.Advance(s.percent, s.step)
		tracker.Log(cloner.LevelInfo, s.step)
		if err := s.fn(ctx, st); err != nil {
			return p.fail(ctx, tracker, s.name, err)
		}
		p.save(ctx, tracker)
	}
	if err := tracker.Complete(); err != nil {
		return tracker.Snapshot(), fmt.Errorf("complete run: %w", err)
	}
	metrics.ObserveRun(string(cloner.StatusCompleted))
	p.save(ctx, tracker)
	final := tracker.Snapshot()
	p.notify(ctx, final)
	return final, nil
}

// Abort marks a run that never reached a worker as failed and stores it.
func (p *Pipeline) Abort(ctx context.Context, run *cloner.CloneRun, cause error) *cloner.CloneRun {
	tracker := progress.NewTracker(run, progress.TrackerConfig{
		Emitter: p.deps.Emitter,
		Clock:   p.deps.Clock,
		Logger:  p.logger,
	})
	if err := tracker.Fail(cause); err != nil {
		p.logger.Error("abort run", zap.String("run_id", run.ID), zap.Error(err))
	}
	metrics.ObserveRun(string(cloner.StatusError))
	p.save(ctx, tracker)
	return tracker.Snapshot()
}

func (p *Pipeline) fail(ctx context.Context, tracker *progress.Tracker, stageName string, err error) (*cloner.CloneRun, error) {
	var acqErr *cloner.AcquisitionError
	if !errors.As(err, &acqErr) {
		err = &cloner.StageError{Stage: stageName, Err: err}
	}
	if ferr := tracker.Fail(err); ferr != nil {
		p.logger.Error("mark run failed", zap.Error(ferr))
	}
	metrics.ObserveRun(string(cloner.StatusError))
	p.save(ctx, tracker)
	return tracker.Snapshot(), err
}

// save persists a snapshot. Failures are logged; the run continues.
func (p *Pipeline) save(ctx context.Context, tracker *progress.Tracker) {
	snap := tracker.Snapshot()
	if err := p.deps.Repository.Upsert(ctx, snap); err != nil {
		p.logger.Warn("save run snapshot failed", zap.String("run_id", snap.ID), zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, run *cloner.CloneRun) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":      run.ID,
		"url":         run.URL,
		"status":      string(run.Status),
		"asset_count": run.Metadata.AssetCount,
		"total_size":  run.Metadata.TotalSize,
		"blob_uri":    run.ExportURI,
	}
	msgID, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, payload)
	if err != nil {
		p.logger.Warn("publish completion failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	p.logger.Info("run published", zap.String("run_id", run.ID), zap.String("message_id", msgID))
}

// baseURL is the final document URL, falling back to the requested one.
func (p *Pipeline) baseURL(st *state) *url.URL {
	if st.acq.URL != "" {
		if u, err := url.Parse(st.acq.URL); err == nil {
			return u
		}
	}
	u, err := url.Parse(st.url)
	if err != nil {
		return &url.URL{}
	}
	return u
}
