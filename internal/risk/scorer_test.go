package risk

import (
	"reflect"
	"strings"
	"testing"
)

var testLimits = Limits{MaxLinks: 2, MaxLength: 1024}

func TestScoreIsPure(t *testing.T) {
	text := "Hello {name}, you have {points} points! http://t.co/x"

	first := Score(text, testLimits)
	for i := 0; i < 5; i++ {
		if got := Score(text, testLimits); !reflect.DeepEqual(first, got) {
			t.Fatalf("call %d produced a different assessment", i)
		}
	}
}

func TestScoreCleanMessage(t *testing.T) {
	a := Score("Hi {name}, your balance is {points} points.", testLimits)

	if a.Score != 0 {
		t.Errorf("Score = %d, want 0", a.Score)
	}
	if a.Band != BandSafe {
		t.Errorf("Band = %s, want safe", a.Band)
	}
	if !a.Valid || a.Blocked || a.RequiresAck {
		t.Errorf("clean message should be valid/unblocked, got %+v", a)
	}
	if got := a.Meta.Variables; len(got) != 2 {
		t.Errorf("Variables = %v, want [name points]", got)
	}
}

func TestScoreSpamScenario(t *testing.T) {
	a := Score("Buy NOW!!! http://a.co http://b.co {name}", Limits{MaxLinks: 1, MaxLength: 1024})

	if a.Score < 50 {
		t.Errorf("Score = %d, want >= 50", a.Score)
	}
	if !hasFlag(a, FlagExcessLinks) {
		t.Errorf("flags = %v, want excess_links present", a.Flags)
	}
	if a.Meta.LinkCount != 2 {
		t.Errorf("LinkCount = %d, want 2", a.Meta.LinkCount)
	}
	if !a.Valid {
		t.Error("no structural error here; message should remain valid")
	}
}

func TestScoreUnknownVariableBlocksRegardless(t *testing.T) {
	a := Score("Hi {nmae}", testLimits)

	if a.Valid {
		t.Error("unrecognized variable must force valid=false")
	}
	if !a.Blocked {
		t.Error("structural error must block launch regardless of score")
	}
	if len(a.Errors) == 0 {
		t.Error("expected a structural error message")
	}
	if !hasFlag(a, FlagUnknownVariable) {
		t.Errorf("flags = %v, want unknown_variable", a.Flags)
	}
	if got := a.Meta.UnknownVariables; len(got) != 1 || got[0] != "nmae" {
		t.Errorf("UnknownVariables = %v, want [nmae]", got)
	}
}

func TestScoreLinkPlaceholderCountsAsLink(t *testing.T) {
	a := Score("Claim here: {link} or http://a.co", Limits{MaxLinks: 1, MaxLength: 1024})

	if a.Meta.LinkCount != 2 {
		t.Errorf("LinkCount = %d, want 2 ({link} counts)", a.Meta.LinkCount)
	}
	if !hasFlag(a, FlagExcessLinks) {
		t.Errorf("flags = %v, want excess_links", a.Flags)
	}
}

func TestScoreExcessLinkStrictlyHigher(t *testing.T) {
	limits := Limits{MaxLinks: 2, MaxLength: 4096}
	atLimit := Score("see http://a.co and http://b.co", limits)
	overLimit := Score("see http://a.co and http://b.co and http://c.co", limits)

	if overLimit.Score <= atLimit.Score {
		t.Errorf("max_links+1 score %d should exceed max_links score %d",
			overLimit.Score, atLimit.Score)
	}
}

func TestScoreOverLengthIsStructural(t *testing.T) {
	long := strings.Repeat("a", 100)
	a := Score(long, Limits{MaxLinks: 2, MaxLength: 50})

	if a.Valid {
		t.Error("over-length message must be invalid")
	}
	if !a.Blocked {
		t.Error("structural error must block")
	}
	if !hasFlag(a, FlagOverLength) {
		t.Errorf("flags = %v, want over_length", a.Flags)
	}
	if a.Meta.Length != 100 {
		t.Errorf("Length = %d, want 100", a.Meta.Length)
	}
}

func TestScoreCapsAndEmojiAreWarningsOnly(t *testing.T) {
	a := Score("LIMITED TIME OFFER \U0001F525\U0001F525\U0001F525\U0001F525\U0001F525\U0001F525\U0001F525", testLimits)

	if !hasFlag(a, FlagExcessiveCaps) {
		t.Errorf("flags = %v, want excessive_caps", a.Flags)
	}
	if !hasFlag(a, FlagExcessiveEmoji) {
		t.Errorf("flags = %v, want excessive_emoji", a.Flags)
	}
	if !a.Valid {
		t.Error("caps/emoji are warnings, not structural errors")
	}
	if len(a.Errors) != 0 {
		t.Errorf("Errors = %v, want none", a.Errors)
	}
	if len(a.Warnings) == 0 {
		t.Error("expected warnings")
	}
}

func TestScoreBands(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		limits  Limits
		band    string
		blocked bool
		ack     bool
	}{
		{
			"safe",
			"hello {name}",
			testLimits,
			BandSafe, false, false,
		},
		{
			"warning requires ack",
			"Buy NOW!!! http://a.co http://b.co",
			Limits{MaxLinks: 1, MaxLength: 1024},
			BandWarning, false, true,
		},
		{
			"blocked band hard-blocks",
			"WINNER!!! buy now, act now, limited time http://a.co http://b.co http://c.co",
			Limits{MaxLinks: 0, MaxLength: 1024},
			BandBlocked, true, false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Score(tc.text, tc.limits)
			if a.Band != tc.band {
				t.Errorf("Band = %s (score %d), want %s", a.Band, a.Score, tc.band)
			}
			if a.Blocked != tc.blocked {
				t.Errorf("Blocked = %v, want %v", a.Blocked, tc.blocked)
			}
			if a.RequiresAck != tc.ack {
				t.Errorf("RequiresAck = %v, want %v", a.RequiresAck, tc.ack)
			}
		})
	}
}

func TestScoreCapsAt100(t *testing.T) {
	a := Score("{a} {b} {c} {d} {e} {f}", testLimits)
	if a.Score != 100 {
		t.Errorf("Score = %d, want capped at 100", a.Score)
	}
	if !a.Blocked {
		t.Error("expected blocked")
	}
}

func hasFlag(a *Assessment, flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
