package cloner

import (
	"sort"
	"strings"
)

// CaptureMode selects the rendered-capture sub-mode.
type CaptureMode string

// Supported capture modes. Only one non-standard mode may be active per run.
const (
	ModeStandard      CaptureMode = "standard"
	ModeResponsive    CaptureMode = "responsive"
	ModeInteractive   CaptureMode = "interactive"
	ModeAnimations    CaptureMode = "animations"
	ModeStyleAnalysis CaptureMode = "style-analysis"
	ModeNavigation    CaptureMode = "navigation"
)

// Strategy names how the document was acquired.
type Strategy string

// Acquisition strategies. StrategyAuto lets the detector decide.
const (
	StrategyAuto       Strategy = ""
	StrategyStatic     Strategy = "static"
	StrategyRendered   Strategy = "rendered"
	StrategyStructured Strategy = "structured"
)

// ProgressFunc receives every stage transition synchronously.
type ProgressFunc func(percent int, step string)

// Options are the caller-supplied capability flags of a clone request.
type Options struct {
	IncludeAssets        bool `json:"include_assets"`
	UseBrowserAutomation bool `json:"use_browser_automation"`

	CaptureResponsive    bool `json:"capture_responsive"`
	CaptureInteractive   bool `json:"capture_interactive"`
	CaptureAnimations    bool `json:"capture_animations"`
	CaptureStyleAnalysis bool `json:"capture_style_analysis"`
	CaptureNavigation    bool `json:"capture_navigation"`

	PerformanceAnalysis bool `json:"performance_analysis"`
	SEOAnalysis         bool `json:"seo_analysis"`
	SecurityScan        bool `json:"security_scan"`
	TechnologyDetection bool `json:"technology_detection"`

	// Strategy forces an acquisition strategy and skips detection when set.
	Strategy Strategy `json:"strategy,omitempty"`

	OnProgress ProgressFunc `json:"-"`
}

// Mode returns the selected capture mode (standard when no sub-mode flag is set).
func (o Options) Mode() CaptureMode {
	switch {
	case o.CaptureResponsive:
		return ModeResponsive
	case o.CaptureInteractive:
		return ModeInteractive
	case o.CaptureAnimations:
		return ModeAnimations
	case o.CaptureStyleAnalysis:
		return ModeStyleAnalysis
	case o.CaptureNavigation:
		return ModeNavigation
	default:
		return ModeStandard
	}
}

// Dynamic reports whether the caller opted into rendered capture.
func (o Options) Dynamic() bool {
	return o.UseBrowserAutomation || o.Mode() != ModeStandard
}

// Validate rejects conflicting capture flags and unknown strategies.
func (o Options) Validate() error {
	var active []string
	for name, on := range map[string]bool{
		"captureResponsive":    o.CaptureResponsive,
		"captureInteractive":   o.CaptureInteractive,
		"captureAnimations":    o.CaptureAnimations,
		"captureStyleAnalysis": o.CaptureStyleAnalysis,
		"captureNavigation":    o.CaptureNavigation,
	} {
		if on {
			active = append(active, name)
		}
	}
	if len(active) > 1 {
		sort.Strings(active)
		return &ValidationError{Field: "options", Reason: "capture modes are mutually exclusive: " + strings.Join(active, ", ")}
	}
	switch o.Strategy {
	case StrategyAuto, StrategyStatic, StrategyRendered, StrategyStructured:
	default:
		return &ValidationError{Field: "strategy", Reason: "unknown strategy " + string(o.Strategy)}
	}
	return nil
}

// ParseMode maps a CLI/API mode name onto the matching option flag.
func (o *Options) ParseMode(mode string) error {
	switch CaptureMode(strings.ToLower(strings.TrimSpace(mode))) {
	case "", ModeStandard:
	case ModeResponsive:
		o.CaptureResponsive = true
	case ModeInteractive:
		o.CaptureInteractive = true
	case ModeAnimations:
		o.CaptureAnimations = true
	case ModeStyleAnalysis:
		o.CaptureStyleAnalysis = true
	case ModeNavigation:
		o.CaptureNavigation = true
	default:
		return &ValidationError{Field: "mode", Reason: "unknown capture mode " + mode}
	}
	return nil
}
