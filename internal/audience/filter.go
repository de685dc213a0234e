package audience

import (
	"strings"
	"time"

	"github.com/tokopoints/campaigner/internal/faults"
)

// Range is an inclusive numeric [min,max] constraint. A nil bound is
// unconstrained.
type Range struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// Contains reports whether v satisfies the range.
func (r *Range) Contains(v int64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r *Range) validate(field string) error {
	if r == nil {
		return nil
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return faults.Invalid(field, "min %d greater than max %d", *r.Min, *r.Max)
	}
	return nil
}

// FilterSpec describes a filter-based audience. Organization-type and
// state sets have union semantics; the legacy single-value fields are
// normalized into the sets before evaluation.
type FilterSpec struct {
	OrgTypes []string `json:"organization_types,omitempty"`
	OrgType  string   `json:"organization_type,omitempty"` // legacy single value
	States   []string `json:"states,omitempty"`
	State    string   `json:"state,omitempty"` // legacy single value

	CurrentPoints    *Range `json:"current_points,omitempty"`
	SystemCollected  *Range `json:"system_collected,omitempty"`
	ManualCollected  *Range `json:"manual_collected,omitempty"`
	MigrationPoints  *Range `json:"migration_points,omitempty"`
	TotalRedeemed    *Range `json:"total_redeemed,omitempty"`
	TransactionCount *Range `json:"transaction_count,omitempty"`

	ActiveAfter  *time.Time `json:"active_after,omitempty"`
	ActiveBefore *time.Time `json:"active_before,omitempty"`
	InactiveDays *int       `json:"inactive_days,omitempty"`
	NeverScanned bool       `json:"never_scanned,omitempty"`
	NeverLogin   bool       `json:"never_login,omitempty"`

	// Gates consumed by the classifier, not the matcher.
	OptInOnly         bool `json:"opt_in_only,omitempty"`
	ValidWhatsAppOnly bool `json:"only_valid_whatsapp,omitempty"`
}

// Normalized returns a copy with the legacy single-value fields folded
// into the set fields. The boundary adapter calls this once; core logic
// never branches on both shapes.
func (s FilterSpec) Normalized() FilterSpec {
	if s.OrgType != "" {
		s.OrgTypes = appendMissing(s.OrgTypes, s.OrgType)
		s.OrgType = ""
	}
	if s.State != "" {
		s.States = appendMissing(s.States, s.State)
		s.State = ""
	}
	return s
}

func appendMissing(set []string, v string) []string {
	for _, e := range set {
		if e == v {
			return set
		}
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, v)
}

// Validate checks the numeric ranges and date window. A contradictory
// range (min>max) is a ValidationError naming the field, never silently
// swapped or ignored.
func (s FilterSpec) Validate() error {
	checks := []struct {
		field string
		r     *Range
	}{
		{"current_points", s.CurrentPoints},
		{"system_collected", s.SystemCollected},
		{"manual_collected", s.ManualCollected},
		{"migration_points", s.MigrationPoints},
		{"total_redeemed", s.TotalRedeemed},
		{"transaction_count", s.TransactionCount},
	}
	for _, c := range checks {
		if err := c.r.validate(c.field); err != nil {
			return err
		}
	}
	if s.ActiveAfter != nil && s.ActiveBefore != nil && s.ActiveAfter.After(*s.ActiveBefore) {
		return faults.Invalid("active_after", "after %s is later than before %s",
			s.ActiveAfter.Format(time.RFC3339), s.ActiveBefore.Format(time.RFC3339))
	}
	if s.InactiveDays != nil && *s.InactiveDays < 0 {
		return faults.Invalid("inactive_days", "must be >= 0, got %d", *s.InactiveDays)
	}
	return nil
}

// Matcher evaluates a normalized, validated FilterSpec against
// recipients. Matches covers the shaping predicates (org type, state,
// numeric ranges); ActivityOK covers the activity constraints, which
// the classifier attributes as an exclusion bucket.
type Matcher struct {
	spec FilterSpec
	now  time.Time
}

// NewMatcher validates and normalizes spec. min>max ranges fail here.
func NewMatcher(spec FilterSpec, now time.Time) (*Matcher, error) {
	spec = spec.Normalized()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{spec: spec, now: now}, nil
}

// Spec returns the normalized spec the matcher was built from.
func (m *Matcher) Spec() FilterSpec { return m.spec }

// Matches reports whether r belongs to the audience shape. Unknown
// org-type or state tokens in the spec are permitted and simply match
// nothing.
func (m *Matcher) Matches(r Recipient) bool {
	if !matchSet(m.spec.OrgTypes, r.OrgType) {
		return false
	}
	if !matchSet(m.spec.States, r.State) {
		return false
	}
	if !m.spec.CurrentPoints.Contains(r.CurrentPoints) {
		return false
	}
	if !m.spec.SystemCollected.Contains(r.SystemCollected) {
		return false
	}
	if !m.spec.ManualCollected.Contains(r.ManualCollected) {
		return false
	}
	if !m.spec.MigrationPoints.Contains(r.MigrationPoints) {
		return false
	}
	if !m.spec.TotalRedeemed.Contains(r.TotalRedeemed) {
		return false
	}
	if !m.spec.TransactionCount.Contains(r.TransactionCount) {
		return false
	}
	return true
}

// ActivityOK reports whether r satisfies every activity constraint.
// The constraints AND together.
func (m *Matcher) ActivityOK(r Recipient) bool {
	if m.spec.ActiveAfter != nil {
		if r.LastActivityAt == nil || r.LastActivityAt.Before(*m.spec.ActiveAfter) {
			return false
		}
	}
	if m.spec.ActiveBefore != nil {
		if r.LastActivityAt == nil || r.LastActivityAt.After(*m.spec.ActiveBefore) {
			return false
		}
	}
	if m.spec.InactiveDays != nil {
		// A recipient with no recorded activity counts as inactive forever.
		if r.LastActivityAt != nil {
			idle := m.now.Sub(*r.LastActivityAt)
			if idle < time.Duration(*m.spec.InactiveDays)*24*time.Hour {
				return false
			}
		}
	}
	if m.spec.NeverScanned && r.SystemCollected != 0 {
		return false
	}
	if m.spec.NeverLogin && r.HasLoggedIn {
		return false
	}
	return true
}

// matchSet implements union semantics: an empty set or an "all"/"any"
// token matches everything, otherwise membership is required.
func matchSet(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, e := range set {
		switch strings.ToLower(e) {
		case "all", "any":
			return true
		}
		if e == v {
			return true
		}
	}
	return false
}
