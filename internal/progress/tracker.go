package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// ErrIllegalTransition is returned when a status change is not an edge of the
// run lifecycle graph.
var ErrIllegalTransition = errors.New("illegal status transition")

// StepCompleted is the step label of a successful run.
const StepCompleted = "Completed"

// transitions lists the allowed edges. Terminal states have none.
var transitions = map[cloner.RunStatus][]cloner.RunStatus{
	cloner.StatusPending:   {cloner.StatusAnalyzing, cloner.StatusError},
	cloner.StatusAnalyzing: {cloner.StatusCloning, cloner.StatusCompleted, cloner.StatusError},
	cloner.StatusCloning:   {cloner.StatusCompleted, cloner.StatusError},
}

func allowed(from, to cloner.RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TrackerConfig wires a Tracker's collaborators. All fields are optional.
type TrackerConfig struct {
	Emitter    Emitter
	OnProgress cloner.ProgressFunc
	Clock      cloner.Clock
	Logger     *zap.Logger
}

// Tracker owns one run while it executes. It is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	run        *cloner.CloneRun
	emitter    Emitter
	onProgress cloner.ProgressFunc
	now        func() time.Time
	logger     *zap.Logger
}

// NewTracker takes ownership of run.
func NewTracker(run *cloner.CloneRun, cfg TrackerConfig) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock.Now
	}
	return &Tracker{
		run:        run,
		emitter:    cfg.Emitter,
		onProgress: cfg.OnProgress,
		now:        now,
		logger:     logger.With(zap.String("run_id", run.ID), zap.String("url", run.URL)),
	}
}

// Status returns the current run status.
func (t *Tracker) Status() cloner.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.Status
}

// Snapshot returns a deep copy of the run.
func (t *Tracker) Snapshot() *cloner.CloneRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.Snapshot()
}

// Update applies fn to the run under the tracker lock. fn must not call back
// into the tracker.
func (t *Tracker) Update(fn func(run *cloner.CloneRun)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.run)
	t.run.UpdatedAt = t.now()
}

// Transition moves the run to status. Moving to the current status is a no-op.
func (t *Tracker) Transition(status cloner.RunStatus) error {
	t.mu.Lock()
	if t.run.Status == status && !status.Terminal() {
		t.mu.Unlock()
		return nil
	}
	if !allowed(t.run.Status, status) {
		from := t.run.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, status)
	}
	evt := t.setStatusLocked(status)
	t.mu.Unlock()
	t.emit(evt)
	return nil
}

// Advance records progress and the current step. Percent is clamped so the
// reported value never decreases and never exceeds 100. Calls on a terminal
// run are ignored.
func (t *Tracker) Advance(percent int, step string) {
	t.mu.Lock()
	if t.run.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent < t.run.Progress {
		percent = t.run.Progress
	}
	t.run.Progress = percent
	t.run.Step = step
	evt := t.eventLocked(KindProgress)
	t.mu.Unlock()
	t.emit(evt)
	t.notify(percent, step)
}

// Log appends a timestamped entry to the run and mirrors it to the logger.
func (t *Tracker) Log(level cloner.LogLevel, msg string) {
	t.mu.Lock()
	entry := cloner.LogEntry{Time: t.now(), Level: level, Message: msg}
	t.run.Logs = append(t.run.Logs, entry)
	evt := t.eventLocked(KindLog)
	evt.TS = entry.Time
	evt.Level = level
	evt.Message = msg
	t.mu.Unlock()

	switch level {
	case cloner.LevelError:
		t.logger.Error(msg)
	case cloner.LevelWarn:
		t.logger.Warn(msg)
	default:
		t.logger.Info(msg)
	}
	t.emit(evt)
}

// Logf is Log with formatting.
func (t *Tracker) Logf(level cloner.LogLevel, format string, args ...any) {
	t.Log(level, fmt.Sprintf(format, args...))
}

// Fail moves the run to error. Progress keeps its last value and the step
// becomes the error message. Partial document and assets are left in place.
func (t *Tracker) Fail(err error) error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	t.mu.Lock()
	if !allowed(t.run.Status, cloner.StatusError) {
		from := t.run.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, cloner.StatusError)
	}
	t.run.Error = msg
	t.run.Step = msg
	percent := t.run.Progress
	evt := t.setStatusLocked(cloner.StatusError)
	evt.Message = msg
	t.mu.Unlock()

	t.Log(cloner.LevelError, msg)
	t.emit(evt)
	t.notify(percent, msg)
	return nil
}

// Complete moves the run to completed at 100 percent.
func (t *Tracker) Complete() error {
	t.mu.Lock()
	if !allowed(t.run.Status, cloner.StatusCompleted) {
		from := t.run.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, cloner.StatusCompleted)
	}
	t.run.Progress = 100
	t.run.Step = StepCompleted
	progressEvt := t.eventLocked(KindProgress)
	statusEvt := t.setStatusLocked(cloner.StatusCompleted)
	t.mu.Unlock()

	t.emit(progressEvt)
	t.emit(statusEvt)
	t.notify(100, StepCompleted)
	return nil
}

func (t *Tracker) setStatusLocked(status cloner.RunStatus) Event {
	t.run.Status = status
	evt := t.eventLocked(KindStatus)
	if status.Terminal() && !t.run.CreatedAt.IsZero() {
		if d := evt.TS.Sub(t.run.CreatedAt); d > 0 {
			evt.Dur = d
		}
	}
	return evt
}

func (t *Tracker) eventLocked(kind Kind) Event {
	ts := t.now()
	t.run.UpdatedAt = ts
	return Event{
		RunID:   t.run.ID,
		URL:     t.run.URL,
		TS:      ts,
		Kind:    kind,
		Status:  t.run.Status,
		Percent: t.run.Progress,
		Step:    t.run.Step,
	}
}

func (t *Tracker) emit(evt Event) {
	if t.emitter != nil {
		t.emitter.Emit(evt)
	}
}

func (t *Tracker) notify(percent int, step string) {
	if t.onProgress != nil {
		t.onProgress(percent, step)
	}
}
