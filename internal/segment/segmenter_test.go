package segment

import (
	"strings"
	"testing"
)

// feedAll streams fragments through a segmenter and collects everything it
// emits, including the final flush.
func feedAll(s *Segmenter, fragments []string) []string {
	var out []string
	for _, f := range fragments {
		out = append(out, s.Feed(f)...)
	}
	if rest, ok := s.Flush(); ok {
		out = append(out, rest)
	}
	return out
}

func TestSegmenterRoundTrip(t *testing.T) {
	t.Parallel()

	fragments := []string{"Hello", " world.", " This is", " a test."}
	s := New(Config{MinRunes: 6})

	segments := feedAll(s, fragments)

	want := []string{"Hello world.", "This is a test."}
	if len(segments) != len(want) {
		t.Fatalf("expected %d segments, got %d: %q", len(want), len(segments), segments)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Fatalf("segment %d: expected %q, got %q", i, want[i], segments[i])
		}
	}

	// No character of the original stream may be lost or reordered.
	joined := strings.Join(segments, " ")
	original := strings.TrimSpace(strings.Join(fragments, ""))
	if joined != original {
		t.Fatalf("round trip mismatch: %q vs %q", joined, original)
	}
}

func TestSegmenterDecimalPointNotBoundary(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	got := feedAll(s, []string{"The value of pi is 3.14 which is useful. Next sentence here."})
	if len(got) == 0 {
		t.Fatal("expected output")
	}
	for _, seg := range got {
		if strings.HasSuffix(seg, "3.") {
			t.Fatalf("split at decimal point: %q", got)
		}
	}
}

func TestSegmenterLonePeriodNeedsContext(t *testing.T) {
	t.Parallel()

	t.Run("two words suffice", func(t *testing.T) {
		t.Parallel()
		s := New(Config{})
		got := s.Feed("end of line. Next")
		if len(got) != 1 || got[0] != "end of line." {
			t.Fatalf("expected boundary after %q, got %q", "end of line.", got)
		}
	})

	t.Run("single token is ambiguous", func(t *testing.T) {
		t.Parallel()
		s := New(Config{})
		got := s.Feed("Hmm. wait")
		if len(got) != 0 {
			t.Fatalf("expected no boundary after a single leading token, got %q", got)
		}
	})
}

func TestSegmenterCodeFenceSuppressesBoundaries(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	var out []string
	out = append(out, s.Feed("Look at this. ```go\nfmt.Println(1)\n")...)
	out = append(out, s.Feed("x := 2. More code!\n``` done")...)
	if rest, ok := s.Flush(); ok {
		out = append(out, rest)
	}

	for _, seg := range out {
		opens := strings.Count(seg, "```")
		if opens == 1 {
			t.Fatalf("segment cuts through a code fence: %q", seg)
		}
	}
}

func TestSegmenterQuoteSuppressesBoundaries(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	got := s.Feed(`He said "stop. right now." and left. Then more`)
	if len(got) != 1 {
		t.Fatalf("expected one segment, got %q", got)
	}
	if !strings.Contains(got[0], `"stop. right now."`) {
		t.Fatalf("quoted terminator leaked a boundary: %q", got[0])
	}
}

func TestSegmenterCJKTerminators(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	got := s.Feed("你好世界。今天天气不错")
	if len(got) != 1 || got[0] != "你好世界。" {
		t.Fatalf("expected CJK boundary, got %q", got)
	}

	latin := New(Config{LatinOnly: true})
	got = latin.Feed("你好世界。今天天气不错")
	if len(got) != 0 {
		t.Fatalf("LatinOnly must ignore CJK terminators, got %q", got)
	}
}

func TestSegmenterTerminatorRunAcrossFragments(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	// The run may continue in the next fragment, so nothing is emitted yet.
	if got := s.Feed("Really amazing stuff!"); len(got) != 0 {
		t.Fatalf("boundary fired on ambiguous tail: %q", got)
	}
	got := s.Feed("!! And then")
	if len(got) != 1 || got[0] != "Really amazing stuff!!!" {
		t.Fatalf("expected full terminator run, got %q", got)
	}
}

func TestSegmenterMinLengthMerge(t *testing.T) {
	t.Parallel()

	s := New(Config{MinRunes: 10})
	if got := s.Feed("Oh no. "); len(got) != 0 {
		t.Fatalf("short segment must merge forward, got %q", got)
	}
	got := s.Feed("This is much longer. tail")
	if len(got) != 1 || got[0] != "Oh no. This is much longer." {
		t.Fatalf("expected merged segment, got %q", got)
	}
}

func TestSegmenterFlushUnconditional(t *testing.T) {
	t.Parallel()

	s := New(Config{MinRunes: 50})
	s.Feed("tiny")
	rest, ok := s.Flush()
	if !ok || rest != "tiny" {
		t.Fatalf("flush must ignore the minimum length, got %q ok=%v", rest, ok)
	}
	if s.Pending() {
		t.Fatal("flush must reset the buffer")
	}
	if _, ok := s.Flush(); ok {
		t.Fatal("second flush must report nothing pending")
	}
}

func TestSegmenterSplitFenceMarker(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	// Backticks arriving one at a time must still toggle the fence once.
	s.Feed("start `")
	s.Feed("`")
	s.Feed("` inside. not a boundary ")
	got := s.Feed("``` after fence. now done. x")
	for _, seg := range got {
		if strings.Contains(seg, "inside.") && !strings.Contains(seg, "after fence.") {
			t.Fatalf("boundary fired inside a fence: %q", got)
		}
	}
}
