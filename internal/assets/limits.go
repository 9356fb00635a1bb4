package assets

import "time"

// Limits bound the cost of one asset pipeline run.
type Limits struct {
	MaxStylesheets      int
	MaxScripts          int
	MaxImages           int
	MaxBackgroundImages int
	MaxFonts            int
	TextTimeout         time.Duration
	BinaryTimeout       time.Duration
	// MaxAssetBytes rejects larger payloads; zero disables the check.
	MaxAssetBytes int64
}

// DefaultLimits are the per-class caps and per-task timeouts.
var DefaultLimits = Limits{
	MaxStylesheets:      10,
	MaxScripts:          10,
	MaxImages:           30,
	MaxBackgroundImages: 10,
	MaxFonts:            10,
	TextTimeout:         10 * time.Second,
	BinaryTimeout:       15 * time.Second,
}

func (l Limits) withDefaults() Limits {
	if l.MaxStylesheets <= 0 {
		l.MaxStylesheets = DefaultLimits.MaxStylesheets
	}
	if l.MaxScripts <= 0 {
		l.MaxScripts = DefaultLimits.MaxScripts
	}
	if l.MaxImages <= 0 {
		l.MaxImages = DefaultLimits.MaxImages
	}
	if l.MaxBackgroundImages <= 0 {
		l.MaxBackgroundImages = DefaultLimits.MaxBackgroundImages
	}
	if l.MaxFonts <= 0 {
		l.MaxFonts = DefaultLimits.MaxFonts
	}
	if l.TextTimeout <= 0 {
		l.TextTimeout = DefaultLimits.TextTimeout
	}
	if l.BinaryTimeout <= 0 {
		l.BinaryTimeout = DefaultLimits.BinaryTimeout
	}
	return l
}
