package dispatch

import "regexp"

// ChannelPolicy decides whether a text segment goes out as voice instead of
// text. Policies must be cheap; the consumer calls them once per item.
type ChannelPolicy interface {
	UseVoice(text string) bool
}

// bracketedPattern matches parenthesized asides (ASCII and fullwidth).
// Stage directions like "(sighs)" should not count toward spoken length.
var bracketedPattern = regexp.MustCompile(`\([^)]*\)|（[^）]*）`)

// voiceLengthScale is the numerator of the inverse-length probability: a
// 20-rune reply lands at 0.6, a 60-rune reply at 0.2 with default bands.
const voiceLengthScale = 12.0

// lengthWeightedVoicePolicy chooses voice with probability inversely
// proportional to the bracket-stripped content length, clamped to
// [minProb, maxProb]. Content shorter than minRunes never triggers voice.
type lengthWeightedVoicePolicy struct {
	minRunes  int
	minProb   float64
	maxProb   float64
	randFloat func() float64
}

// NewLengthWeightedVoicePolicy builds the default channel-selection policy.
// randFloat must return uniform values in [0, 1).
func NewLengthWeightedVoicePolicy(minRunes int, minProb, maxProb float64, randFloat func() float64) ChannelPolicy {
	if minRunes <= 0 {
		minRunes = 4
	}
	if maxProb < minProb {
		maxProb = minProb
	}
	return &lengthWeightedVoicePolicy{
		minRunes:  minRunes,
		minProb:   minProb,
		maxProb:   maxProb,
		randFloat: randFloat,
	}
}

func (p *lengthWeightedVoicePolicy) UseVoice(text string) bool {
	prob := p.Probability(text)
	if prob <= 0 {
		return false
	}
	return p.randFloat() < prob
}

// Probability exposes the raw voice probability for a text. It is zero below
// the minimum length and monotonically non-increasing in content length.
func (p *lengthWeightedVoicePolicy) Probability(text string) float64 {
	spoken := bracketedPattern.ReplaceAllString(text, "")
	n := len([]rune(spoken))
	if n < p.minRunes {
		return 0
	}
	prob := voiceLengthScale / float64(n)
	if prob < p.minProb {
		prob = p.minProb
	}
	if prob > p.maxProb {
		prob = p.maxProb
	}
	return prob
}
