package metadata

import (
	"fmt"

	"github.com/xhit/go-str2duration/v2"
)

type WindowKind int

const (
	WindowTumbling WindowKind = iota
	WindowSliding
)

func (k WindowKind) String() string {
	if k == WindowSliding {
		return "sliding"
	}
	return "tumbling"
}

// WindowProperties holds the window sizing in milliseconds.
type WindowProperties struct {
	Kind       WindowKind `json:"kind"`
	DurationMs uint64     `json:"durationMs"`
	OffsetMs   uint64     `json:"offsetMs"`
	SlideMs    uint64     `json:"slideMs,omitempty"`
}

type Watermark struct {
	IdlenessMs    *uint64 `json:"idlenessMs,omitempty"`
	GracePeriodMs *uint64 `json:"gracePeriodMs,omitempty"`
}

// Window is a time-bounded grouping stage.
type Window struct {
	Properties      WindowProperties    `json:"properties"`
	Watermark       Watermark           `json:"watermark"`
	AssignTimestamp StepInvocation      `json:"assignTimestamp"`
	Transforms      []TransformOperator `json:"transforms,omitempty"`
	Partition       *Partition          `json:"partition,omitempty"`
	Flush           *StepInvocation     `json:"flush,omitempty"`
}

// NewWindowInterval is the interval at which a new window opens.
func (w *Window) NewWindowInterval() uint64 {
	if w.Properties.Kind == WindowSliding {
		return w.Properties.SlideMs
	}
	return w.Properties.DurationMs
}

func (w *Window) Offset() uint64 {
	return w.Properties.OffsetMs
}

// GracePeriod defaults to zero when unset.
func (w *Window) GracePeriod() uint64 {
	if w.Watermark.GracePeriodMs == nil {
		return 0
	}
	return *w.Watermark.GracePeriodMs
}

// Idleness reports the configured source idleness, if any.
func (w *Window) Idleness() (uint64, bool) {
	if w.Watermark.IdlenessMs == nil {
		return 0, false
	}
	return *w.Watermark.IdlenessMs, true
}

// Partition is a key-based redistribution stage.
type Partition struct {
	AssignKey   StepInvocation      `json:"assignKey"`
	Transforms  []TransformOperator `json:"transforms,omitempty"`
	UpdateState *StepInvocation     `json:"updateState,omitempty"`
}

// ParseDurationMs parses human-readable durations such as "60s", "1h30m" or "2d".
func ParseDurationMs(s string) (uint64, error) {
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	return uint64(d.Milliseconds()), nil
}
