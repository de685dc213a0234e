// Package policy holds the delivery-safety configuration that paces
// outbound sends: throttle, jitter, quiet hours, auto-pause threshold
// and the content limits mirrored by the risk scorer.
package policy

import (
	"math/rand"
	"time"

	"github.com/tokopoints/campaigner/internal/faults"
)

// Config is the validated delivery-safety policy. Invalid values are a
// ValidationError, never silently clamped.
type Config struct {
	// ThrottlePerMinute caps the aggregate dispatch rate over any
	// rolling 60 second window.
	ThrottlePerMinute int `yaml:"throttle_per_minute" json:"throttle_per_minute"`

	// JitterMinSeconds/JitterMaxSeconds bound the uniform random extra
	// delay between sends.
	JitterMinSeconds int `yaml:"jitter_seconds_min" json:"jitter_seconds_min"`
	JitterMaxSeconds int `yaml:"jitter_seconds_max" json:"jitter_seconds_max"`

	// AutoPauseFailurePct pauses a campaign when the rolling failure
	// ratio crosses this percentage.
	AutoPauseFailurePct float64 `yaml:"auto_pause_failure_rate_pct" json:"auto_pause_failure_rate_pct"`

	// Quiet hours: a fixed local blackout window. Due sends queue and
	// shift forward past the window, they are never dropped.
	QuietHoursEnabled bool `yaml:"quiet_hours_enabled" json:"quiet_hours_enabled"`
	QuietStartHour    int  `yaml:"quiet_start_hour" json:"quiet_start_hour"`
	QuietEndHour      int  `yaml:"quiet_end_hour" json:"quiet_end_hour"`

	// Content limits, mirrored by the risk scorer at save time.
	MaxLinks  int `yaml:"max_links" json:"max_links"`
	MaxLength int `yaml:"max_length" json:"max_length"`
}

// Default returns the shipped baseline policy.
func Default() Config {
	return Config{
		ThrottlePerMinute:   20,
		JitterMinSeconds:    2,
		JitterMaxSeconds:    8,
		AutoPauseFailurePct: 25,
		QuietHoursEnabled:   true,
		QuietStartHour:      21,
		QuietEndHour:        8,
		MaxLinks:            2,
		MaxLength:           1024,
	}
}

// Validate checks every field and attributes failures to it.
func (c Config) Validate() error {
	if c.ThrottlePerMinute <= 0 {
		return faults.Invalid("throttle_per_minute", "must be > 0, got %d", c.ThrottlePerMinute)
	}
	if c.JitterMinSeconds < 0 {
		return faults.Invalid("jitter_seconds_min", "must be >= 0, got %d", c.JitterMinSeconds)
	}
	if c.JitterMaxSeconds < 0 {
		return faults.Invalid("jitter_seconds_max", "must be >= 0, got %d", c.JitterMaxSeconds)
	}
	if c.JitterMinSeconds > c.JitterMaxSeconds {
		return faults.Invalid("jitter_seconds_min", "min %d greater than max %d",
			c.JitterMinSeconds, c.JitterMaxSeconds)
	}
	if c.AutoPauseFailurePct <= 0 || c.AutoPauseFailurePct > 100 {
		return faults.Invalid("auto_pause_failure_rate_pct", "must be in (0,100], got %g", c.AutoPauseFailurePct)
	}
	if c.QuietStartHour < 0 || c.QuietStartHour > 23 {
		return faults.Invalid("quiet_start_hour", "must be in [0,23], got %d", c.QuietStartHour)
	}
	if c.QuietEndHour < 0 || c.QuietEndHour > 23 {
		return faults.Invalid("quiet_end_hour", "must be in [0,23], got %d", c.QuietEndHour)
	}
	if c.QuietHoursEnabled && c.QuietStartHour == c.QuietEndHour {
		return faults.Invalid("quiet_start_hour", "quiet window start equals end (%d)", c.QuietStartHour)
	}
	if c.MaxLinks < 0 {
		return faults.Invalid("max_links", "must be >= 0, got %d", c.MaxLinks)
	}
	if c.MaxLength <= 0 {
		return faults.Invalid("max_length", "must be > 0, got %d", c.MaxLength)
	}
	return nil
}

// Interval is the sustained spacing between sends: 60s divided by the
// throttle.
func (c Config) Interval() time.Duration {
	return time.Minute / time.Duration(c.ThrottlePerMinute)
}

// Jitter draws a uniform extra delay in [min,max] seconds.
func (c Config) Jitter(rng *rand.Rand) time.Duration {
	min := time.Duration(c.JitterMinSeconds) * time.Second
	max := time.Duration(c.JitterMaxSeconds) * time.Second
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}

// InQuietHours reports whether t falls inside the blackout window. The
// window may wrap midnight (e.g. 21:00 to 08:00).
func (c Config) InQuietHours(t time.Time) bool {
	if !c.QuietHoursEnabled {
		return false
	}
	h := t.Hour()
	if c.QuietStartHour < c.QuietEndHour {
		return h >= c.QuietStartHour && h < c.QuietEndHour
	}
	return h >= c.QuietStartHour || h < c.QuietEndHour
}

// NextAllowed shifts t forward past the quiet window. Outside the
// window it returns t unchanged.
func (c Config) NextAllowed(t time.Time) time.Time {
	if !c.InQuietHours(t) {
		return t
	}
	end := time.Date(t.Year(), t.Month(), t.Day(), c.QuietEndHour, 0, 0, 0, t.Location())
	if !end.After(t) {
		end = end.Add(24 * time.Hour)
	}
	return end
}
