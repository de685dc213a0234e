package audience

// Exclusion is the single attributable reason a matched recipient is
// not eligible.
type Exclusion string

const (
	// Eligible means no exclusion reason applied.
	Eligible Exclusion = ""

	ExcludedMissingPhone Exclusion = "missing_phone"
	ExcludedOptOut       Exclusion = "opt_out"
	ExcludedInvalidWA    Exclusion = "invalid_wa"
	ExcludedActivity     Exclusion = "activity"
)

// Classify assigns exactly one outcome to a matched recipient using
// fixed precedence: missing phone, then opt-out (only when the spec
// requests opt-in-only), then WhatsApp validity (only when requested),
// then activity-constraint failure. First applicable reason wins, so
// every matched recipient lands in exactly one bucket and results are
// reproducible.
func (m *Matcher) Classify(r Recipient) Exclusion {
	if r.Phone == "" {
		return ExcludedMissingPhone
	}
	if m.spec.OptInOnly && !r.OptIn {
		return ExcludedOptOut
	}
	if m.spec.ValidWhatsAppOnly && !r.ValidWhatsApp {
		return ExcludedInvalidWA
	}
	if !m.ActivityOK(r) {
		return ExcludedActivity
	}
	return Eligible
}
