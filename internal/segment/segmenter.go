// Package segment re-segments an incremental text stream into deliverable
// chunks. The segmenter detects sentence boundaries while tracking paired
// punctuation and code-fence state, so a cut never lands inside a quote or
// a fenced block.
package segment

import (
	"strings"
	"unicode"
)

// Config tunes boundary detection.
type Config struct {
	// MinRunes is the smallest segment worth emitting on its own; shorter
	// candidates are merged with following content.
	MinRunes int
	// LatinOnly disables the CJK terminator set.
	LatinOnly bool
}

const (
	latinTerminators = ".!?;"
	cjkTerminators   = "。！？；…"

	// lookBack bounds how far the period checks scan backward. Full-buffer
	// rescans are disallowed.
	lookBack = 50
)

// pairedOpeners maps an opening punctuation mark to its expected closer.
// The straight double quote is handled separately because it closes itself.
var pairedOpeners = map[rune]rune{
	'(': ')',
	'（': '）',
	'“': '”',
	'‘': '’',
	'「': '」',
	'『': '』',
	'《': '》',
}

// Segmenter is an incremental state machine over a growing text buffer.
// Each instance is owned by exactly one in-flight stream consumption and is
// not safe for concurrent use.
type Segmenter struct {
	cfg Config

	buf        []rune
	quoteStack []rune
	fenceOpen  bool
	scanned    int
	candidates []int
}

// New creates a segmenter. Zero MinRunes disables the merge policy.
func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Feed appends a stream fragment and returns any segment that became
// deliverable. Empty fragments are no-ops. Fragment boundaries carry no
// meaning; a terminator or fence marker may arrive split across fragments.
func (s *Segmenter) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.buf = append(s.buf, []rune(fragment)...)
	s.scan()
	return s.emit()
}

// Flush returns the remaining buffer as a final segment, unconditionally,
// and resets the segmenter. ok is false when nothing is pending.
func (s *Segmenter) Flush() (string, bool) {
	rest := strings.TrimSpace(string(s.buf))
	s.buf = nil
	s.quoteStack = nil
	s.fenceOpen = false
	s.scanned = 0
	s.candidates = nil
	if rest == "" {
		return "", false
	}
	return rest, true
}

// Pending reports whether unsent buffer content remains.
func (s *Segmenter) Pending() bool {
	return strings.TrimSpace(string(s.buf)) != ""
}

// scan advances over buf[scanned:], updating quote and fence state and
// collecting boundary candidates. It stops early when the tail is ambiguous
// (a terminator run or backtick sequence that may continue in the next
// fragment) and resumes from the same position on the next call.
func (s *Segmenter) scan() {
	i := s.scanned
	for i < len(s.buf) {
		r := s.buf[i]

		if r == '`' {
			if i+3 <= len(s.buf) && s.buf[i+1] == '`' && s.buf[i+2] == '`' {
				s.fenceOpen = !s.fenceOpen
				i += 3
				continue
			}
			if i+3 > len(s.buf) {
				// Possibly a fence marker split across fragments.
				break
			}
			i++
			continue
		}
		if s.fenceOpen {
			i++
			continue
		}

		if len(s.quoteStack) > 0 && r == s.quoteStack[len(s.quoteStack)-1] {
			s.quoteStack = s.quoteStack[:len(s.quoteStack)-1]
			i++
			continue
		}
		if closer, ok := pairedOpeners[r]; ok {
			s.quoteStack = append(s.quoteStack, closer)
			i++
			continue
		}
		if r == '"' {
			s.quoteStack = append(s.quoteStack, '"')
			i++
			continue
		}
		if len(s.quoteStack) > 0 {
			// InQuote suppresses all boundary candidates.
			i++
			continue
		}

		if s.isTerminator(r) {
			j := i
			for j < len(s.buf) && s.isTerminator(s.buf[j]) {
				j++
			}
			if j == len(s.buf) {
				// The run may continue in the next fragment.
				break
			}
			if s.runIsBoundary(i, j) {
				s.candidates = append(s.candidates, j)
			}
			i = j
			continue
		}
		i++
	}
	s.scanned = i
}

func (s *Segmenter) isTerminator(r rune) bool {
	if strings.ContainsRune(latinTerminators, r) {
		return true
	}
	if s.cfg.LatinOnly {
		return false
	}
	return strings.ContainsRune(cjkTerminators, r)
}

// runIsBoundary applies the period disambiguation rules to the terminator
// run buf[start:end). Runs other than a lone period are always boundaries.
func (s *Segmenter) runIsBoundary(start, end int) bool {
	if end-start != 1 || s.buf[start] != '.' {
		return true
	}
	if s.isDecimalPoint(start) {
		return false
	}
	return s.alphaTokensBefore(start) >= 2
}

// isDecimalPoint reports whether the period at pos sits between two digits,
// skipping whitespace on either side.
func (s *Segmenter) isDecimalPoint(pos int) bool {
	before := pos - 1
	for before >= 0 && pos-before <= lookBack && unicode.IsSpace(s.buf[before]) {
		before--
	}
	after := pos + 1
	for after < len(s.buf) && after-pos <= lookBack && unicode.IsSpace(s.buf[after]) {
		after++
	}
	if before < 0 || after >= len(s.buf) {
		return false
	}
	return unicode.IsDigit(s.buf[before]) && unicode.IsDigit(s.buf[after])
}

// alphaTokensBefore counts alphabetic words immediately preceding pos within
// the look-back window. Fewer than two marks the period as a likely
// abbreviation or initial rather than a sentence end.
func (s *Segmenter) alphaTokensBefore(pos int) int {
	low := pos - lookBack
	if low < 0 {
		low = 0
	}
	tokens := 0
	inToken := false
	for i := low; i < pos; i++ {
		if unicode.IsLetter(s.buf[i]) {
			if !inToken {
				tokens++
				inToken = true
			}
			continue
		}
		inToken = false
	}
	return tokens
}

// emit cuts the buffer at the last boundary candidate when the resulting
// segment meets the minimum length, and keeps the remainder.
func (s *Segmenter) emit() []string {
	if len(s.candidates) == 0 {
		return nil
	}
	cut := s.candidates[len(s.candidates)-1]
	seg := strings.TrimSpace(string(s.buf[:cut]))
	if seg == "" {
		s.discard(cut)
		return nil
	}
	if s.cfg.MinRunes > 0 && len([]rune(seg)) < s.cfg.MinRunes {
		// Too small to send alone; merge with following content.
		return nil
	}
	s.discard(cut)
	return []string{seg}
}

// discard drops the emitted prefix and rebases the scan state.
func (s *Segmenter) discard(cut int) {
	rest := make([]rune, len(s.buf)-cut)
	copy(rest, s.buf[cut:])
	s.buf = rest
	s.scanned -= cut
	if s.scanned < 0 {
		s.scanned = 0
	}
	s.candidates = s.candidates[:0]
}
