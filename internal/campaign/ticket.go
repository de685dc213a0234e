package campaign

import "time"

// TicketState is the per-recipient attempt state. sent and failed are
// terminal and set at most once.
type TicketState string

const (
	TicketPending TicketState = "pending"
	TicketSent    TicketState = "sent"
	TicketFailed  TicketState = "failed"
)

// DispatchTicket is one recipient's slot in a materialized campaign.
// Tickets exist only while a campaign is materialized for sending and
// are retired once terminal.
type DispatchTicket struct {
	Seq         int       `json:"seq"`
	RecipientID string    `json:"recipient_id"`
	Phone       string    `json:"phone"`
	Body        string    `json:"body"`
	ScheduledAt time.Time `json:"scheduled_at"`

	State     TicketState `json:"state"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	SentAt    *time.Time  `json:"sent_at,omitempty"`
}

// Terminal reports whether the ticket has reached its final state.
func (t *DispatchTicket) Terminal() bool {
	return t.State == TicketSent || t.State == TicketFailed
}
