// Package audience decides who receives a campaign: it matches
// recipients against a filter specification, classifies each matched
// recipient as eligible or excluded with a single attributable reason,
// and produces aggregate counts plus a bounded preview.
//
// Everything in this package is pure: the same spec against unchanged
// directory data always yields an identical result.
package audience

import (
	"context"
	"time"
)

// Recipient is a single entry from the recipient directory.
type Recipient struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	OptIn         bool       `json:"opt_in"`
	ValidWhatsApp bool       `json:"valid_whatsapp"`
	OrgType       string     `json:"organization_type"`
	State         string     `json:"state"`

	CurrentPoints    int64 `json:"current_points"`
	SystemCollected  int64 `json:"system_collected"`
	ManualCollected  int64 `json:"manual_collected"`
	MigrationPoints  int64 `json:"migration_points"`
	TotalRedeemed    int64 `json:"total_redeemed"`
	TransactionCount int64 `json:"transaction_count"`

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	HasScanned     bool       `json:"has_scanned"`
	HasLoggedIn    bool       `json:"has_logged_in"`
}

// Directory is the recipient-directory read API the resolver consumes.
// Implementations must return recipients in a stable (creation) order
// so resolution stays deterministic.
type Directory interface {
	// CountAll returns the total number of recipients in the directory.
	CountAll(ctx context.Context) (int, error)

	// ListAll returns every recipient in creation order.
	ListAll(ctx context.Context) ([]Recipient, error)

	// GetByIDs returns the recipients with the given IDs, in the order
	// the IDs were requested. Unknown IDs are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Recipient, error)
}

// SegmentStore resolves a saved segment reference to its filter spec.
type SegmentStore interface {
	GetSegmentSpec(ctx context.Context, segmentID string) (*FilterSpec, error)
}
