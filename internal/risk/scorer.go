// Package risk analyzes campaign message text into a 0-100 risk score
// with flags, blocking errors and non-blocking warnings. Scoring is a
// pure function: identical text always yields an identical assessment.
package risk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Band thresholds. Score below BandWarningMin is safe, below
// BandBlockedMin requires operator acknowledgement, at or above it the
// launch is hard-blocked.
const (
	BandWarningMin = 50
	BandBlockedMin = 80
)

// Bands.
const (
	BandSafe    = "safe"
	BandWarning = "warning"
	BandBlocked = "blocked"
)

// Flags attached to an assessment, in detection order.
const (
	FlagExcessLinks     = "excess_links"
	FlagUnknownVariable = "unknown_variable"
	FlagOverLength      = "over_length"
	FlagExcessiveCaps   = "excessive_caps"
	FlagExcessiveEmoji  = "excessive_emoji"
	FlagSpamPhrases     = "spam_phrases"
)

// AllowedVariables is the fixed allow-list of personalization tokens
// recognized in message bodies, written as {token}.
var AllowedVariables = []string{
	"name", "first_name", "points", "shop_name", "state", "phone", "link",
}

var (
	urlPattern = regexp.MustCompile(`https?://[^\s]+`)
	varPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)
)

// Limits mirrors the delivery-safety content limits at save time.
type Limits struct {
	MaxLinks  int
	MaxLength int
}

// Weights are the per-flag score contributions. They are policy, not
// law: callers may tune them, DefaultWeights is the shipped baseline.
type Weights struct {
	ExcessLink      int // per link beyond MaxLinks
	UnknownVariable int // per unrecognized token
	OverLength      int
	ExcessiveCaps   int
	ExcessiveEmoji  int
	SpamPhrase      int // per distinct marker
	SpamPhraseCap   int // total contribution cap for markers

	CapsRatioThreshold float64
	EmojiThreshold     int
}

// DefaultWeights returns the baseline scoring weights.
func DefaultWeights() Weights {
	return Weights{
		ExcessLink:      30,
		UnknownVariable: 25,
		OverLength:      20,
		ExcessiveCaps:   10,
		ExcessiveEmoji:  10,
		SpamPhrase:      10,
		SpamPhraseCap:   30,

		CapsRatioThreshold: 0.3,
		EmojiThreshold:     6,
	}
}

// spamMarkers are case-insensitive phrases commonly flagged by the
// platform's abuse heuristics.
var spamMarkers = []string{
	"!!!", "buy now", "act now", "limited time", "100% free",
	"winner", "guaranteed", "click here", "urgent",
}

// Meta carries the raw measurements behind an assessment.
type Meta struct {
	LinkCount        int      `json:"link_count"`
	EmojiCount       int      `json:"emoji_count"`
	Length           int      `json:"length"`
	CapsRatio        float64  `json:"caps_ratio"`
	Variables        []string `json:"variables,omitempty"`
	UnknownVariables []string `json:"unknown_variables,omitempty"`
}

// Assessment is the scored result for one message draft.
type Assessment struct {
	Score    int      `json:"score"`
	Band     string   `json:"band"`
	Flags    []string `json:"flags,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Meta     Meta     `json:"meta"`

	// Valid is false when any structural error is present. Structural
	// errors are never waivable.
	Valid bool `json:"valid"`
	// RequiresAck is true in the warning band: launch needs explicit
	// operator acknowledgement.
	RequiresAck bool `json:"requires_ack"`
	// Blocked is true when the launch is refused regardless of
	// acknowledgement.
	Blocked bool `json:"blocked"`
}

// Score analyzes text with the default weights.
func Score(text string, limits Limits) *Assessment {
	return ScoreWith(text, limits, DefaultWeights())
}

// ScoreWith analyzes text against limits using the given weights.
func ScoreWith(text string, limits Limits, w Weights) *Assessment {
	a := &Assessment{Valid: true}

	a.Meta.Length = len([]rune(text))
	a.Meta.LinkCount = len(urlPattern.FindAllString(text, -1))

	for _, m := range varPattern.FindAllStringSubmatch(text, -1) {
		token := m[1]
		if isAllowedVariable(token) {
			a.Meta.Variables = append(a.Meta.Variables, token)
			// A templated link placeholder counts as a link.
			if token == "link" {
				a.Meta.LinkCount++
			}
		} else {
			a.Meta.UnknownVariables = append(a.Meta.UnknownVariables, token)
		}
	}

	a.Meta.EmojiCount = countEmoji(text)
	a.Meta.CapsRatio = capsRatio(text)

	score := 0

	if limits.MaxLinks >= 0 && a.Meta.LinkCount > limits.MaxLinks {
		excess := a.Meta.LinkCount - limits.MaxLinks
		score += excess * w.ExcessLink
		a.Flags = append(a.Flags, FlagExcessLinks)
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("message has %d links, limit is %d", a.Meta.LinkCount, limits.MaxLinks))
	}

	if len(a.Meta.UnknownVariables) > 0 {
		score += len(a.Meta.UnknownVariables) * w.UnknownVariable
		a.Flags = append(a.Flags, FlagUnknownVariable)
		a.Valid = false
		a.Errors = append(a.Errors,
			fmt.Sprintf("unrecognized variables: {%s}", strings.Join(a.Meta.UnknownVariables, "}, {")))
	}

	if limits.MaxLength > 0 && a.Meta.Length > limits.MaxLength {
		score += w.OverLength
		a.Flags = append(a.Flags, FlagOverLength)
		a.Valid = false
		a.Errors = append(a.Errors,
			fmt.Sprintf("message length %d exceeds limit %d", a.Meta.Length, limits.MaxLength))
	}

	if a.Meta.CapsRatio > w.CapsRatioThreshold {
		score += w.ExcessiveCaps
		a.Flags = append(a.Flags, FlagExcessiveCaps)
		a.Warnings = append(a.Warnings, "excessive capitalization")
	}

	if a.Meta.EmojiCount > w.EmojiThreshold {
		score += w.ExcessiveEmoji
		a.Flags = append(a.Flags, FlagExcessiveEmoji)
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("%d emoji in message", a.Meta.EmojiCount))
	}

	if markers := matchedMarkers(text); len(markers) > 0 {
		contribution := len(markers) * w.SpamPhrase
		if w.SpamPhraseCap > 0 && contribution > w.SpamPhraseCap {
			contribution = w.SpamPhraseCap
		}
		score += contribution
		a.Flags = append(a.Flags, FlagSpamPhrases)
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("spam markers: %s", strings.Join(markers, ", ")))
	}

	if score > 100 {
		score = 100
	}
	a.Score = score

	switch {
	case score >= BandBlockedMin:
		a.Band = BandBlocked
	case score >= BandWarningMin:
		a.Band = BandWarning
	default:
		a.Band = BandSafe
	}

	// Gating: the blocked band always blocks; a structural error blocks
	// regardless of score or acknowledgement.
	a.Blocked = a.Band == BandBlocked || !a.Valid
	a.RequiresAck = a.Band == BandWarning && !a.Blocked

	return a
}

func isAllowedVariable(token string) bool {
	for _, v := range AllowedVariables {
		if v == token {
			return true
		}
	}
	return false
}

// capsRatio is uppercase letters over all letters, URLs excluded so a
// shouty shortlink does not count against the message.
func capsRatio(text string) float64 {
	stripped := urlPattern.ReplaceAllString(text, "")
	letters, upper := 0, 0
	for _, r := range stripped {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func countEmoji(text string) int {
	n := 0
	for _, r := range text {
		if isEmoji(r) {
			n++
		}
	}
	return n
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	}
	return false
}

func matchedMarkers(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, m := range spamMarkers {
		if strings.Contains(lower, m) {
			out = append(out, m)
		}
	}
	return out
}
