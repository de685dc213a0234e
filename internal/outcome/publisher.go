// Package outcome streams per-recipient delivery outcomes to the
// reporting side.
package outcome

import (
	"context"
	"log/slog"
	"time"
)

// Statuses of a delivery outcome.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Outcome is one recipient's terminal delivery result for a campaign.
type Outcome struct {
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	Phone       string    `json:"phone"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher delivers outcomes to the reporting/storage consumers.
type Publisher interface {
	Publish(ctx context.Context, o *Outcome) error
	Close() error
}

// LogPublisher writes outcomes to the log. Used when AMQP is disabled.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "outcomes")}
}

func (p *LogPublisher) Publish(ctx context.Context, o *Outcome) error {
	p.logger.Info("delivery outcome",
		"campaign_id", o.CampaignID,
		"recipient_id", o.RecipientID,
		"status", o.Status,
		"attempts", o.Attempts,
		"error", o.Error,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
