package quota

import (
	"fmt"
	"time"
)

// Window is the quota accounting period. Windows are epoch aligned:
// every bucket starts at a multiple of the window length since the
// Unix epoch, so counters need no stored start time.
type Window struct {
	// Unit is one of hourly, daily, weekly, monthly or custom.
	Unit string `json:"unit" yaml:"unit"`

	// CustomSeconds is the window length when Unit is custom.
	CustomSeconds int64 `json:"custom_seconds,omitempty" yaml:"custom_seconds,omitempty"`
}

const (
	UnitHourly  = "hourly"
	UnitDaily   = "daily"
	UnitWeekly  = "weekly"
	UnitMonthly = "monthly"
	UnitCustom  = "custom"
)

// Hourly is a one hour window.
func Hourly() Window { return Window{Unit: UnitHourly} }

// Daily is a 24 hour window.
func Daily() Window { return Window{Unit: UnitDaily} }

// Weekly is a 7 day window.
func Weekly() Window { return Window{Unit: UnitWeekly} }

// Monthly is a fixed 30 day window.
func Monthly() Window { return Window{Unit: UnitMonthly} }

// Custom is a window of the given length.
func Custom(d time.Duration) Window {
	return Window{Unit: UnitCustom, CustomSeconds: int64(d / time.Second)}
}

// Seconds returns the window length. Zero for an invalid window.
func (w Window) Seconds() int64 {
	switch w.Unit {
	case UnitHourly:
		return 3600
	case UnitDaily:
		return 86400
	case UnitWeekly:
		return 604800
	case UnitMonthly:
		return 2592000
	case UnitCustom:
		return w.CustomSeconds
	default:
		return 0
	}
}

// Label names the window for counter keys and logs.
func (w Window) Label() string {
	if w.Unit == UnitCustom {
		return fmt.Sprintf("custom_%d", w.CustomSeconds)
	}
	return w.Unit
}

// Bucket returns the epoch-aligned bucket index containing now.
func (w Window) Bucket(now time.Time) int64 {
	secs := w.Seconds()
	if secs <= 0 {
		return 0
	}
	return now.Unix() / secs
}

// Remaining returns the time left in the bucket containing now. The
// result is always in (0, window length].
func (w Window) Remaining(now time.Time) time.Duration {
	secs := w.Seconds()
	if secs <= 0 {
		return 0
	}
	elapsed := now.Unix() % secs
	return time.Duration(secs-elapsed) * time.Second
}

func (w Window) validate() error {
	switch w.Unit {
	case UnitHourly, UnitDaily, UnitWeekly, UnitMonthly:
		return nil
	case UnitCustom:
		if w.CustomSeconds <= 0 {
			return fmt.Errorf("custom window requires positive custom_seconds, got %d", w.CustomSeconds)
		}
		return nil
	default:
		return fmt.Errorf("unknown window unit %q", w.Unit)
	}
}
