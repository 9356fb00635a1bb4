package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/metrics"
)

// Runner invokes analyzers under a retry schedule and collects their reports.
type Runner struct {
	backoff cloner.Backoff
	logger  *zap.Logger
	// extra analyzers run on every page regardless of option flags.
	extra []cloner.Analyzer
}

// NewRunner builds a Runner. extra analyzers always run after the flag-gated ones.
func NewRunner(backoff cloner.Backoff, logger *zap.Logger, extra ...cloner.Analyzer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{backoff: backoff, logger: logger, extra: extra}
}

// Enabled returns the analyzers opts switches on, in a fixed order.
func (r *Runner) Enabled(opts cloner.Options) []cloner.Analyzer {
	var out []cloner.Analyzer
	if opts.PerformanceAnalysis {
		out = append(out, Performance{})
	}
	if opts.SEOAnalysis {
		out = append(out, SEO{})
	}
	if opts.SecurityScan {
		out = append(out, Security{})
	}
	if opts.TechnologyDetection {
		out = append(out, Technology{})
	}
	return append(out, r.extra...)
}

// Outcome is what a set of analyzers contributed.
type Outcome struct {
	Reports []cloner.AnalysisReport
	// Score is the mean of the scored reports, nil when none were scored.
	Score *float64
	// Technologies merges every report's technology list.
	Technologies []string
	// Warnings describes analyzers that failed after retries.
	Warnings []string
}

// Run executes analyzers sequentially. A failing analyzer is logged and
// counted; it never fails the batch.
func (r *Runner) Run(ctx context.Context, page cloner.Page, analyzers []cloner.Analyzer) Outcome {
	var (
		out   Outcome
		sum   float64
		count int
		seen  = map[string]bool{}
	)
	for _, a := range analyzers {
		var report cloner.AnalysisReport
		err := cloner.Retry(ctx, r.backoff, func(ctx context.Context, attempt int) error {
			rep, err := a.Analyze(ctx, page)
			if err != nil {
				r.logger.Debug("analyzer attempt failed",
					zap.String("analyzer", a.Name()),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return err
			}
			report = rep
			return nil
		})
		if err != nil {
			metrics.ObserveAnalyzerFailure(a.Name())
			r.logger.Warn("analyzer failed", zap.String("analyzer", a.Name()), zap.Error(err))
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s analysis failed: %v", a.Name(), err))
			continue
		}
		if report.Name == "" {
			report.Name = a.Name()
		}
		out.Reports = append(out.Reports, report)
		if report.Score != nil {
			sum += *report.Score
			count++
		}
		for _, tech := range report.Technologies {
			if !seen[tech] {
				seen[tech] = true
				out.Technologies = append(out.Technologies, tech)
			}
		}
	}
	if count > 0 {
		mean := sum / float64(count)
		out.Score = &mean
	}
	return out
}
