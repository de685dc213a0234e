package audience

import (
	"context"
	"time"

	"github.com/tokopoints/campaigner/internal/faults"
)

// PreviewLimit bounds the number of eligible recipients included in a
// resolution result.
const PreviewLimit = 20

// Mode selects how the candidate audience is produced.
type Mode string

const (
	// ModeFilter runs the matcher over the whole directory.
	ModeFilter Mode = "filter"
	// ModeSegment looks the spec up by segment reference, then follows
	// the filter path.
	ModeSegment Mode = "segment"
	// ModeSpecific takes an explicit recipient ID list. There is no
	// matching step, but recipients are still classified so the counts
	// stay realistic.
	ModeSpecific Mode = "specific"
)

// Request describes one audience resolution.
type Request struct {
	Mode         Mode        `json:"mode"`
	Spec         *FilterSpec `json:"spec,omitempty"`
	SegmentID    string      `json:"segment_id,omitempty"`
	RecipientIDs []string    `json:"recipient_ids,omitempty"`
}

// ExclusionCounts buckets the excluded recipients by reason.
type ExclusionCounts struct {
	MissingPhone int `json:"missing_phone"`
	OptOut       int `json:"opt_out"`
	InvalidWA    int `json:"invalid_wa"`
	Activity     int `json:"activity"`
}

// Total is the sum over all buckets.
func (c ExclusionCounts) Total() int {
	return c.MissingPhone + c.OptOut + c.InvalidWA + c.Activity
}

// PreviewRecipient is the bounded preview entry.
type PreviewRecipient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	State string `json:"state,omitempty"`
}

// Result is the outcome of a resolution. It is ephemeral: recomputed on
// every spec change, never stored.
type Result struct {
	TotalAllUsers int             `json:"total_all_users"`
	TotalMatched  int             `json:"total_matched"`
	EligibleCount int             `json:"eligible_count"`
	Excluded      ExclusionCounts `json:"excluded"`
	ExcludedTotal int             `json:"excluded_total"`

	// Preview holds at most PreviewLimit eligible recipients in
	// directory order. PreviewOverflow is the exact remainder when
	// EligibleCount exceeds the limit ("+N others").
	Preview         []PreviewRecipient `json:"preview"`
	PreviewOverflow int                `json:"preview_overflow"`
}

// Resolver orchestrates matching, classification and accounting. It is
// stateless and safe for concurrent use.
type Resolver struct {
	dir      Directory
	segments SegmentStore
	now      func() time.Time
}

// NewResolver creates a resolver over a directory. segments may be nil
// when segment mode is not used.
func NewResolver(dir Directory, segments SegmentStore) *Resolver {
	return &Resolver{dir: dir, segments: segments, now: time.Now}
}

// resolved is the full classification of a candidate set.
type resolved struct {
	totalAll int
	matched  int
	eligible []Recipient
	excluded ExclusionCounts
}

// Resolve produces the aggregate result for a request. A directory
// failure surfaces as a ResolutionError, distinguishable from a
// legitimate zero-eligible result.
func (rv *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	res, err := rv.classify(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &Result{
		TotalAllUsers: res.totalAll,
		TotalMatched:  res.matched,
		EligibleCount: len(res.eligible),
		Excluded:      res.excluded,
		ExcludedTotal: res.excluded.Total(),
	}

	n := len(res.eligible)
	if n > PreviewLimit {
		out.PreviewOverflow = n - PreviewLimit
		n = PreviewLimit
	}
	out.Preview = make([]PreviewRecipient, 0, n)
	for _, r := range res.eligible[:n] {
		out.Preview = append(out.Preview, PreviewRecipient{
			ID:    r.ID,
			Name:  r.Name,
			Phone: r.Phone,
			State: r.State,
		})
	}
	return out, nil
}

// Eligible returns the full eligible recipient list in directory order.
// The dispatcher materializes this once at launch.
func (rv *Resolver) Eligible(ctx context.Context, req Request) ([]Recipient, error) {
	res, err := rv.classify(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.eligible, nil
}

func (rv *Resolver) classify(ctx context.Context, req Request) (*resolved, error) {
	switch req.Mode {
	case ModeFilter:
		if req.Spec == nil {
			return nil, faults.Invalid("spec", "required for filter mode")
		}
		return rv.classifyFiltered(ctx, *req.Spec)

	case ModeSegment:
		if rv.segments == nil {
			return nil, faults.Invalid("segment_id", "no segment store configured")
		}
		if req.SegmentID == "" {
			return nil, faults.Invalid("segment_id", "required for segment mode")
		}
		spec, err := rv.segments.GetSegmentSpec(ctx, req.SegmentID)
		if err != nil {
			return nil, faults.Resolution("segment store", err)
		}
		return rv.classifyFiltered(ctx, *spec)

	case ModeSpecific:
		if len(req.RecipientIDs) == 0 {
			return nil, faults.Invalid("recipient_ids", "required for specific mode")
		}
		return rv.classifySpecific(ctx, req.RecipientIDs)

	default:
		return nil, faults.Invalid("mode", "unknown mode %q", req.Mode)
	}
}

func (rv *Resolver) classifyFiltered(ctx context.Context, spec FilterSpec) (*resolved, error) {
	m, err := NewMatcher(spec, rv.now())
	if err != nil {
		return nil, err
	}

	all, err := rv.dir.ListAll(ctx)
	if err != nil {
		return nil, faults.Resolution("recipient directory", err)
	}

	res := &resolved{totalAll: len(all)}
	for _, r := range all {
		if !m.Matches(r) {
			continue
		}
		res.matched++
		res.bucket(m.Classify(r), r)
	}
	return res, nil
}

func (rv *Resolver) classifySpecific(ctx context.Context, ids []string) (*resolved, error) {
	total, err := rv.dir.CountAll(ctx)
	if err != nil {
		return nil, faults.Resolution("recipient directory", err)
	}
	recipients, err := rv.dir.GetByIDs(ctx, ids)
	if err != nil {
		return nil, faults.Resolution("recipient directory", err)
	}

	// No matching step: the explicit list is the matched set. An empty
	// spec still classifies missing phones.
	m, err := NewMatcher(FilterSpec{}, rv.now())
	if err != nil {
		return nil, err
	}

	res := &resolved{totalAll: total, matched: len(recipients)}
	for _, r := range recipients {
		res.bucket(m.Classify(r), r)
	}
	return res, nil
}

func (res *resolved) bucket(x Exclusion, r Recipient) {
	switch x {
	case Eligible:
		res.eligible = append(res.eligible, r)
	case ExcludedMissingPhone:
		res.excluded.MissingPhone++
	case ExcludedOptOut:
		res.excluded.OptOut++
	case ExcludedInvalidWA:
		res.excluded.InvalidWA++
	case ExcludedActivity:
		res.excluded.Activity++
	}
}
