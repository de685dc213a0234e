package directory

import (
	"context"
	"sync"

	"github.com/tokopoints/campaigner/internal/audience"
)

// MemoryDirectory is an in-memory Directory with stable insertion
// order. Used in tests and the driverless dev mode.
type MemoryDirectory struct {
	mu         sync.RWMutex
	recipients []audience.Recipient
}

// NewMemoryDirectory creates a directory seeded with recipients.
func NewMemoryDirectory(recipients ...audience.Recipient) *MemoryDirectory {
	return &MemoryDirectory{recipients: recipients}
}

// Add appends recipients, preserving insertion order.
func (d *MemoryDirectory) Add(recipients ...audience.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients = append(d.recipients, recipients...)
}

func (d *MemoryDirectory) CountAll(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.recipients), nil
}

func (d *MemoryDirectory) ListAll(ctx context.Context) ([]audience.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]audience.Recipient, len(d.recipients))
	copy(out, d.recipients)
	return out, nil
}

func (d *MemoryDirectory) GetByIDs(ctx context.Context, ids []string) ([]audience.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byID := make(map[string]audience.Recipient, len(d.recipients))
	for _, r := range d.recipients {
		byID[r.ID] = r
	}
	var out []audience.Recipient
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
