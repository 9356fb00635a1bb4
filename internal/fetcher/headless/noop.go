package headless

import (
	"context"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Noop implements cloner.Capturer but always reports that rendered capture
// is not available in the current deployment.
type Noop struct{}

// NewNoop creates a new Noop capturer.
func NewNoop() *Noop {
	return &Noop{}
}

// Capture returns cloner.ErrCaptureUnavailable.
func (Noop) Capture(_ context.Context, _ string, _ cloner.CaptureMode) (cloner.Capture, error) {
	return cloner.Capture{}, cloner.ErrCaptureUnavailable
}
