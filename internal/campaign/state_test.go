package campaign

import (
	"errors"
	"testing"
	"time"
)

func TestLegalTransitions(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusDraft, StatusScheduled},
		{StatusDraft, StatusSending},
		{StatusScheduled, StatusSending},
		{StatusSending, StatusPaused},
		{StatusSending, StatusCompleted},
		{StatusSending, StatusFailed},
		{StatusPaused, StatusSending},
		{StatusDraft, StatusArchived},
		{StatusScheduled, StatusArchived},
		{StatusSending, StatusArchived},
		{StatusPaused, StatusArchived},
		{StatusCompleted, StatusArchived},
		{StatusFailed, StatusArchived},
	}

	for _, tc := range legal {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	illegal := []struct{ from, to Status }{
		{StatusDraft, StatusPaused},
		{StatusDraft, StatusCompleted},
		{StatusScheduled, StatusPaused},
		{StatusPaused, StatusCompleted},
		{StatusCompleted, StatusSending},
		{StatusFailed, StatusSending},
		{StatusArchived, StatusDraft},
		{StatusArchived, StatusSending},
		{StatusArchived, StatusArchived},
	}

	for _, tc := range illegal {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestTransitionSetsTimestamps(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	c := &Campaign{ID: "c1", Status: StatusDraft}

	if err := c.Transition(StatusSending, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.LaunchedAt == nil || !c.LaunchedAt.Equal(now) {
		t.Error("launch should stamp LaunchedAt")
	}

	later := now.Add(time.Hour)
	if err := c.Transition(StatusCompleted, later); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.CompletedAt == nil || !c.CompletedAt.Equal(later) {
		t.Error("completion should stamp CompletedAt")
	}
}

func TestTransitionResumeKeepsLaunchTime(t *testing.T) {
	now := time.Now()
	c := &Campaign{ID: "c1", Status: StatusDraft}
	_ = c.Transition(StatusSending, now)
	launched := *c.LaunchedAt

	_ = c.Transition(StatusPaused, now.Add(time.Minute))
	c.PauseReason = "failure rate 40.0% exceeded 25.0%"
	_ = c.Transition(StatusSending, now.Add(2*time.Minute))

	if !c.LaunchedAt.Equal(launched) {
		t.Error("resume must not restamp LaunchedAt")
	}
	if c.PauseReason != "" {
		t.Error("resume should clear PauseReason")
	}
}

func TestTransitionRejectsIllegal(t *testing.T) {
	c := &Campaign{ID: "c1", Status: StatusCompleted}

	err := c.Transition(StatusSending, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if ite.From != StatusCompleted || ite.To != StatusSending {
		t.Errorf("error should carry the attempted transition, got %v", ite)
	}
	if c.Status != StatusCompleted {
		t.Error("status must not change on a rejected transition")
	}
}

func TestTicketTerminal(t *testing.T) {
	tk := &DispatchTicket{State: TicketPending}
	if tk.Terminal() {
		t.Error("pending is not terminal")
	}
	tk.State = TicketSent
	if !tk.Terminal() {
		t.Error("sent is terminal")
	}
	tk.State = TicketFailed
	if !tk.Terminal() {
		t.Error("failed is terminal")
	}
}
