package dispatch

import "testing"

func probabilityOf(t *testing.T, p ChannelPolicy, text string) float64 {
	t.Helper()
	lw, ok := p.(*lengthWeightedVoicePolicy)
	if !ok {
		t.Fatalf("unexpected policy type %T", p)
	}
	return lw.Probability(text)
}

func TestVoiceProbabilityMonotoneInLength(t *testing.T) {
	t.Parallel()

	p := NewLengthWeightedVoicePolicy(4, 0.2, 0.6, func() float64 { return 0 })

	short := probabilityOf(t, p, "short reply here")
	long := probabilityOf(t, p, "this reply is considerably longer than the short one and keeps going for a while")
	if long > short {
		t.Fatalf("probability must not grow with length: short=%v long=%v", short, long)
	}
}

func TestVoiceProbabilityClamped(t *testing.T) {
	t.Parallel()

	p := NewLengthWeightedVoicePolicy(4, 0.2, 0.6, func() float64 { return 0 })

	if got := probabilityOf(t, p, "tiny!"); got > 0.6 {
		t.Fatalf("probability above max: %v", got)
	}

	long := make([]rune, 500)
	for i := range long {
		long[i] = 'a'
	}
	if got := probabilityOf(t, p, string(long)); got != 0.2 {
		t.Fatalf("expected floor 0.2 for long text, got %v", got)
	}
}

func TestVoiceSkipsBelowMinLength(t *testing.T) {
	t.Parallel()

	p := NewLengthWeightedVoicePolicy(10, 0.2, 0.6, func() float64 { return 0 })
	if p.UseVoice("short") {
		t.Fatal("text below the minimum length must never go out as voice")
	}
}

func TestVoiceIgnoresBracketedAsides(t *testing.T) {
	t.Parallel()

	p := NewLengthWeightedVoicePolicy(10, 0.2, 0.6, func() float64 { return 0 })

	// The aside is stripped before measuring, leaving 5 runes.
	if p.UseVoice("(she pauses, looking out the window) hello") {
		t.Fatal("bracketed stage direction must not count toward spoken length")
	}

	full := probabilityOf(t, p, "hello there my good friend")
	stripped := probabilityOf(t, p, "hello there my good friend（小声嘀咕了一句）")
	if full != stripped {
		t.Fatalf("fullwidth aside changed the probability: %v vs %v", full, stripped)
	}
}

func TestUseVoiceRespectsRandomDraw(t *testing.T) {
	t.Parallel()

	always := NewLengthWeightedVoicePolicy(1, 0.5, 0.6, func() float64 { return 0 })
	if !always.UseVoice("hello there friend") {
		t.Fatal("draw below probability must select voice")
	}

	never := NewLengthWeightedVoicePolicy(1, 0.5, 0.6, func() float64 { return 0.99 })
	if never.UseVoice("hello there friend") {
		t.Fatal("draw above probability must select text")
	}
}
