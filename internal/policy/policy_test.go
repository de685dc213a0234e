package policy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/tokopoints/campaigner/internal/faults"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero throttle", func(c *Config) { c.ThrottlePerMinute = 0 }, "throttle_per_minute"},
		{"negative throttle", func(c *Config) { c.ThrottlePerMinute = -5 }, "throttle_per_minute"},
		{"negative jitter min", func(c *Config) { c.JitterMinSeconds = -1 }, "jitter_seconds_min"},
		{"jitter min over max", func(c *Config) { c.JitterMinSeconds = 10; c.JitterMaxSeconds = 3 }, "jitter_seconds_min"},
		{"auto pause zero", func(c *Config) { c.AutoPauseFailurePct = 0 }, "auto_pause_failure_rate_pct"},
		{"auto pause over 100", func(c *Config) { c.AutoPauseFailurePct = 101 }, "auto_pause_failure_rate_pct"},
		{"quiet hour out of range", func(c *Config) { c.QuietStartHour = 24 }, "quiet_start_hour"},
		{"quiet window empty", func(c *Config) { c.QuietStartHour = 8; c.QuietEndHour = 8 }, "quiet_start_hour"},
		{"zero max length", func(c *Config) { c.MaxLength = 0 }, "max_length"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			ve, ok := err.(*faults.ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if ve.Field != tc.field {
				t.Errorf("error attributed to %q, want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestInterval(t *testing.T) {
	cfg := Default()
	cfg.ThrottlePerMinute = 20
	if got := cfg.Interval(); got != 3*time.Second {
		t.Errorf("Interval = %v, want 3s", got)
	}
}

func TestJitterWithinBounds(t *testing.T) {
	cfg := Default()
	cfg.JitterMinSeconds = 2
	cfg.JitterMaxSeconds = 8
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		j := cfg.Jitter(rng)
		if j < 2*time.Second || j > 8*time.Second {
			t.Fatalf("jitter %v outside [2s,8s]", j)
		}
	}
}

func TestJitterZeroRange(t *testing.T) {
	cfg := Default()
	cfg.JitterMinSeconds = 5
	cfg.JitterMaxSeconds = 5
	rng := rand.New(rand.NewSource(1))

	if got := cfg.Jitter(rng); got != 5*time.Second {
		t.Errorf("Jitter = %v, want 5s", got)
	}
}

func TestQuietHoursWrappingWindow(t *testing.T) {
	cfg := Default()
	cfg.QuietHoursEnabled = true
	cfg.QuietStartHour = 21
	cfg.QuietEndHour = 8

	day := func(h int) time.Time {
		return time.Date(2026, 8, 28, h, 30, 0, 0, time.UTC)
	}

	tests := []struct {
		hour int
		in   bool
	}{
		{20, false}, {21, true}, {23, true}, {0, true}, {7, true}, {8, false}, {12, false},
	}
	for _, tc := range tests {
		if got := cfg.InQuietHours(day(tc.hour)); got != tc.in {
			t.Errorf("hour %d: InQuietHours = %v, want %v", tc.hour, got, tc.in)
		}
	}
}

func TestQuietHoursDaytimeWindow(t *testing.T) {
	cfg := Default()
	cfg.QuietStartHour = 12
	cfg.QuietEndHour = 14

	at := time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC)
	if !cfg.InQuietHours(at) {
		t.Error("13:00 should be inside a 12-14 window")
	}
	if cfg.InQuietHours(at.Add(2 * time.Hour)) {
		t.Error("15:00 should be outside a 12-14 window")
	}
}

func TestNextAllowedShiftsForward(t *testing.T) {
	cfg := Default()
	cfg.QuietStartHour = 21
	cfg.QuietEndHour = 8

	// 23:15 shifts to 08:00 the next day.
	late := time.Date(2026, 8, 28, 23, 15, 0, 0, time.UTC)
	want := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	if got := cfg.NextAllowed(late); !got.Equal(want) {
		t.Errorf("NextAllowed(23:15) = %v, want %v", got, want)
	}

	// 03:00 shifts to 08:00 the same day.
	early := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	if got := cfg.NextAllowed(early); !got.Equal(want) {
		t.Errorf("NextAllowed(03:00) = %v, want %v", got, want)
	}

	// Outside the window nothing moves.
	noon := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if got := cfg.NextAllowed(noon); !got.Equal(noon) {
		t.Errorf("NextAllowed(noon) = %v, want unchanged", got)
	}
}

func TestNextAllowedDisabled(t *testing.T) {
	cfg := Default()
	cfg.QuietHoursEnabled = false

	at := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)
	if got := cfg.NextAllowed(at); !got.Equal(at) {
		t.Errorf("NextAllowed with quiet hours disabled = %v, want unchanged", got)
	}
}
