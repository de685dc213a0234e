// Package campaign holds the campaign model, its lifecycle state
// machine, and the dispatch ticket tracking per-recipient terminal
// state.
package campaign

import (
	"fmt"
	"time"

	"github.com/tokopoints/campaigner/internal/audience"
)

// Status is the campaign lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusArchived  Status = "archived"
)

// transitions is the full set of legal status changes. Archived is
// terminal: reachable from anywhere, leaving nowhere.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusSending, StatusArchived},
	StatusScheduled: {StatusSending, StatusArchived},
	StatusSending:   {StatusPaused, StatusCompleted, StatusFailed, StatusArchived},
	StatusPaused:    {StatusSending, StatusArchived},
	StatusCompleted: {StatusArchived},
	StatusFailed:    {StatusArchived},
	StatusArchived:  {},
}

// CanTransitionTo reports whether s -> next is a defined transition.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a status change outside the defined
// lifecycle.
type InvalidTransitionError struct {
	CampaignID string
	From, To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign %s: illegal transition %s -> %s", e.CampaignID, e.From, e.To)
}

// Campaign is a persisted campaign. The audience request is a snapshot
// taken at creation; the eligible set itself is materialized once at
// launch and never re-resolved mid-flight.
type Campaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Audience audience.Request `json:"audience"`
	Message  string           `json:"message"`
	LinkURL  string           `json:"link_url,omitempty"`

	// RiskAcknowledged records the operator's explicit acknowledgement
	// of a warning-band risk score. It never overrides a structural
	// error or the blocked band.
	RiskAcknowledged bool `json:"risk_acknowledged"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      Status     `json:"status"`

	SentCount   int `json:"sent_count"`
	FailedCount int `json:"failed_count"`

	// PauseReason is set when the campaign auto-pauses, carrying the
	// measured failure rate for the operator.
	PauseReason string `json:"pause_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LaunchedAt  *time.Time `json:"launched_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the campaign to next, enforcing the lifecycle.
func (c *Campaign) Transition(next Status, now time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{CampaignID: c.ID, From: c.Status, To: next}
	}
	prev := c.Status
	c.Status = next
	c.UpdatedAt = now

	switch next {
	case StatusSending:
		if prev == StatusDraft || prev == StatusScheduled {
			t := now
			c.LaunchedAt = &t
		}
		c.PauseReason = ""
	case StatusCompleted, StatusFailed:
		t := now
		c.CompletedAt = &t
	}
	return nil
}
