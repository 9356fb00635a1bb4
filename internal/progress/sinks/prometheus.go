package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/progress"
)

// PrometheusSink exports run lifecycle metrics: runs started and finished, the
// number in flight, wall time per run, and log lines by level.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsRunning  prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	steps        prometheus.Counter
	logEntries   *prometheus.CounterVec

	tracker *runSet
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloner_runs_started_total",
			Help: "Clone runs that left the pending state.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_runs_finished_total",
			Help: "Clone runs that reached a terminal state, by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloner_runs_running",
			Help: "Clone runs currently executing.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloner_run_duration_seconds",
			Help:    "Wall time per finished clone run.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"result"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloner_run_steps_total",
			Help: "Progress updates reported by clone runs.",
		}),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloner_run_log_entries_total",
			Help: "Run log lines, by level.",
		}, []string{"level"}),
		tracker: newRunSet(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsRunning,
		s.runDuration,
		s.steps,
		s.logEntries,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindStatus:
			s.handleStatus(evt)
		case progress.KindProgress:
			s.steps.Inc()
		case progress.KindLog:
			level := string(evt.Level)
			if level == "" {
				level = string(cloner.LevelInfo)
			}
			s.logEntries.WithLabelValues(level).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) handleStatus(evt progress.Event) {
	switch evt.Status {
	case cloner.StatusAnalyzing:
		if s.tracker.start(evt.RunID) {
			s.runsStarted.Inc()
			s.runsRunning.Inc()
		}
	case cloner.StatusCompleted, cloner.StatusError:
		result := "success"
		if evt.Status == cloner.StatusError {
			result = "error"
		}
		s.runsFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runSet struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunSet() *runSet {
	return &runSet{running: make(map[string]struct{})}
}

func (t *runSet) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runSet) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
