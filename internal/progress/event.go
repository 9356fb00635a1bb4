package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Kind denotes what changed on the run.
type Kind string

// Supported event kinds.
const (
	KindStatus   Kind = "status"
	KindProgress Kind = "progress"
	KindLog      Kind = "log"
)

// Event captures a single change to a clone run.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// URL is the run's source URL.
	URL string
	// TS is the timestamp recorded by the tracker.
	TS time.Time
	// Kind says which of the fields below carry the change.
	Kind Kind
	// Status is the run status after the change.
	Status cloner.RunStatus
	// Percent is the run progress after the change.
	Percent int
	// Step is the current step label.
	Step string
	// Level grades log events.
	Level cloner.LogLevel
	// Message is the log line or the failure text.
	Message string
	// Dur is the run's wall time, set on terminal status events.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStatus:
		if e.Status == "" {
			return errors.New("status event requires status")
		}
	case KindProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	case KindLog:
		if e.Message == "" {
			return errors.New("log event requires message")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event marks the end of a run.
func (e Event) Terminal() bool {
	return e.Kind == KindStatus && e.Status.Terminal()
}
