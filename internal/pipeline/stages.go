package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/JakeFAU/site-cloner/internal/analysis"
	"github.com/JakeFAU/site-cloner/internal/assets"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/materialize"
	"github.com/JakeFAU/site-cloner/internal/progress"
	"github.com/JakeFAU/site-cloner/internal/strategy"
)

// state carries intermediate results between stages of one run.
type state struct {
	tracker *progress.Tracker
	opts    cloner.Options
	url     string

	acq    strategy.Acquisition
	raw    *analysis.Doc
	refs   assets.References
	assets []cloner.Asset
	layout map[string]cloner.Dimensions
	html   string
}

func (p *Pipeline) fetch(ctx context.Context, st *state) error {
	if p.deps.Selector == nil {
		return errors.New("no acquisition strategy configured")
	}
	acq, err := p.deps.Selector.Select(ctx, st.url, st.opts, func(step string) {
		st.tracker.Advance(0, step)
		st.tracker.Log(cloner.LevelInfo, step)
	})
	for _, flag := range acq.Degraded {
		st.tracker.Log(cloner.LevelWarn, "degraded: "+flag)
	}
	if err != nil {
		return err
	}
	st.acq = acq
	st.tracker.Update(func(run *cloner.CloneRun) {
		run.Metadata.Strategy = acq.Strategy
		run.Metadata.Endpoint = acq.Endpoint
		run.Metadata.Degraded = append([]string(nil), acq.Degraded...)
	})
	st.tracker.Logf(cloner.LevelInfo, "Fetched %d bytes via %s (%s, %d attempts)",
		len(acq.HTML), acq.Endpoint, acq.Strategy, acq.Attempts)
	return nil
}

func (p *Pipeline) content(_ context.Context, st *state) error {
	doc, err := analysis.NewDoc(st.acq.URL, st.acq.HTML)
	if err != nil {
		return err
	}
	st.raw = doc

	det := st.acq.Detection
	var structured *cloner.StructuredContent
	if det.IsDetected || st.acq.Structured != nil {
		structured = &cloner.StructuredContent{
			IsDetected:   det.IsDetected,
			APIReachable: det.APIReachable,
			APIURL:       det.APIURL,
			Version:      det.Version,
			SiteName:     det.SiteName,
			PageBuilder:  det.PageBuilder,
			Confidence:   det.Confidence,
		}
		if res := st.acq.Structured; res != nil {
			structured.PostsCloned = len(res.Posts)
			structured.PagesCloned = len(res.Pages)
			structured.BlockCount = res.BlockCount
			if structured.PageBuilder == "" {
				structured.PageBuilder = res.PageBuilder
			}
		}
		st.tracker.Logf(cloner.LevelInfo, "Content management system detected (confidence %d%%, signals: %s)",
			det.Confidence, strings.Join(det.Signals, ", "))
		if structured.PostsCloned+structured.PagesCloned > 0 {
			st.tracker.Logf(cloner.LevelInfo, "Retrieved %d posts and %d pages (%d blocks)",
				structured.PostsCloned, structured.PagesCloned, structured.BlockCount)
		}
	}

	needsRendering := analysis.NeedsRendering(st.acq.HTML, p.cfg.ShellThreshold)
	if needsRendering && st.acq.Strategy == cloner.StrategyStatic {
		st.tracker.Log(cloner.LevelWarn, "Page looks client-rendered; browser automation may capture more content")
	}

	if capture := st.acq.Capture; capture != nil {
		st.layout = capture.Layout
	}
	st.tracker.Update(func(run *cloner.CloneRun) {
		run.Metadata.Structured = structured
		run.Metadata.NeedsRendering = needsRendering
		if capture := st.acq.Capture; capture != nil && len(capture.ModeData) > 0 {
			run.Metadata.ModeData = capture.ModeData
		}
	})

	if !st.opts.IncludeAssets || p.deps.Assets == nil {
		return nil
	}
	st.refs = assets.Extract(doc.Query, p.baseURL(st), p.deps.Assets.Limits())
	st.refs = addCaptured(st.refs, st.acq.Capture, p.deps.Assets.Limits())
	st.tracker.Logf(cloner.LevelInfo, "Found %d stylesheets, %d scripts, %d images, %d fonts",
		len(st.refs.Stylesheets), len(st.refs.Scripts), len(st.refs.Images), len(st.refs.Fonts))
	return nil
}

// addCaptured appends stylesheets and scripts the browser loaded that the
// markup did not reference, within the class caps.
func addCaptured(refs assets.References, capture *cloner.Capture, limits assets.Limits) assets.References {
	if capture == nil {
		return refs
	}
	seen := map[string]bool{}
	for _, set := range [][]assets.Ref{refs.Stylesheets, refs.Scripts} {
		for _, r := range set {
			seen[r.URL] = true
		}
	}
	add := func(set []assets.Ref, kind cloner.AssetKind, urls []string, limit int) []assets.Ref {
		for _, u := range urls {
			if countExternal(set) >= limit {
				break
			}
			if u == "" || seen[u] || cloner.IsSynthetic(u) {
				continue
			}
			seen[u] = true
			set = append(set, assets.Ref{Kind: kind, URL: u, Literals: []string{u}})
		}
		return set
	}
	refs.Stylesheets = add(refs.Stylesheets, cloner.KindStylesheet, capture.Styles, limits.MaxStylesheets)
	refs.Scripts = add(refs.Scripts, cloner.KindScript, capture.Scripts, limits.MaxScripts)
	return refs
}

func countExternal(set []assets.Ref) int {
	n := 0
	for _, r := range set {
		if !r.Inline() {
			n++
		}
	}
	return n
}

func (p *Pipeline) downloadAssets(ctx context.Context, st *state) error {
	if err := st.tracker.Transition(cloner.StatusCloning); err != nil {
		return err
	}
	if !st.opts.IncludeAssets || p.deps.Assets == nil {
		st.tracker.Log(cloner.LevelInfo, "Asset download skipped")
		return nil
	}
	res := p.deps.Assets.Run(ctx, st.refs)
	for _, f := range res.Failures {
		st.tracker.Logf(cloner.LevelWarn, "Failed to download %s %s: %s", f.Kind, f.URL, f.Reason)
	}
	st.assets = res.Assets
	st.tracker.Update(func(run *cloner.CloneRun) {
		run.Assets = append([]cloner.Asset(nil), res.Assets...)
	})
	st.tracker.Logf(cloner.LevelInfo, "Downloaded %d of %d assets (%d bytes)",
		len(res.Assets), res.Attempted, res.TotalSize())
	return nil
}

func (p *Pipeline) materialize(_ context.Context, st *state) error {
	res := materialize.Materialize(st.acq.HTML, st.assets, materialize.Options{
		Mode:    materialize.EmbedInPlace,
		BaseURL: p.baseURL(st).String(),
		Layout:  st.layout,
	})
	st.html = res.HTML
	st.tracker.Update(func(run *cloner.CloneRun) {
		run.Document = res.HTML
	})
	st.tracker.Logf(cloner.LevelInfo, "Materialized document: %d dimensions preserved, %d stylesheets and %d scripts inlined",
		res.DimensionsApplied, res.StylesheetsInlined, res.ScriptsInlined)
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, st *state) error {
	md := analysis.Describe(st.raw, st.assets)

	snap := st.tracker.Snapshot()
	md.Strategy = snap.Metadata.Strategy
	md.Endpoint = snap.Metadata.Endpoint
	md.Degraded = snap.Metadata.Degraded
	md.ModeData = snap.Metadata.ModeData
	md.NeedsRendering = snap.Metadata.NeedsRendering
	md.Structured = snap.Metadata.Structured
	if md.Structured != nil {
		if md.Structured.IsDetected && md.CMS == "" {
			md.CMS = "WordPress"
		}
		if md.Structured.PagesCloned > md.PageCount {
			md.PageCount = md.Structured.PagesCloned
		}
		if md.Structured.SiteName != "" && md.Title == "" {
			md.Title = md.Structured.SiteName
		}
	}

	page := cloner.Page{URL: snap.URL, HTML: st.html, Assets: st.assets, Metadata: md}
	out := p.deps.Analysis.Run(ctx, page, p.deps.Analysis.Enabled(st.opts))
	for _, w := range out.Warnings {
		st.tracker.Log(cloner.LevelWarn, w)
	}
	md.Reports = out.Reports
	md.Technologies = out.Technologies

	st.tracker.Update(func(run *cloner.CloneRun) {
		run.Metadata = md
		run.Score = out.Score
	})
	st.tracker.Logf(cloner.LevelInfo, "Framework: %s; %d assets totalling %d bytes", md.Framework, md.AssetCount, md.TotalSize)
	return nil
}
