package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/murmurbot/murmur/internal/transport"
)

// fakeSender records deliveries and can be told to fail specific texts.
type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	voices []string
	cards  []string
	fail   map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[string]error{}}
}

func (s *fakeSender) SendText(ctx context.Context, conversationID, text string) (transport.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[text]; ok {
		return transport.SendResult{}, err
	}
	s.texts = append(s.texts, text)
	return transport.SendResult{}, nil
}

func (s *fakeSender) SendVoice(ctx context.Context, conversationID string, audio []byte, format string) (transport.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append(s.voices, format)
	return transport.SendResult{}, nil
}

func (s *fakeSender) SendStructured(ctx context.Context, conversationID string, payload []byte) (transport.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, string(payload))
	return transport.SendResult{}, nil
}

func (s *fakeSender) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []string
	roles   []string
}

func (h *fakeHistory) AppendHistory(ctx context.Context, conversationID, role, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, content)
	h.roles = append(h.roles, role)
	return nil
}

func newTestQueue(sender transport.Sender, history HistoryAppender) *Queue {
	return NewQueue(nil, Config{
		Capacity:  16,
		BaseDelay: time.Millisecond,
	}, sender, nil, history)
}

func TestQueueDeliversInOrderDespiteFailure(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.fail["B"] = errors.New("transport down")
	q := newTestQueue(sender, nil)

	ctx := context.Background()
	for _, text := range []string{"A", "B", "C"} {
		if err := q.EnqueueText(ctx, "conv", text); err != nil {
			t.Fatalf("enqueue %q: %v", text, err)
		}
	}
	q.Close()
	q.Run(ctx)

	got := sender.sentTexts()
	if len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Fatalf("expected A then C despite B failing, got %q", got)
	}
}

func TestQueueCloseDrainsAndRejects(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	q := newTestQueue(sender, nil)

	ctx := context.Background()
	if err := q.EnqueueText(ctx, "conv", "pending item"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if err := q.EnqueueText(ctx, "conv", "late"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	q.Run(ctx)
	select {
	case <-q.Done():
	default:
		t.Fatal("Done must be closed after Run returns")
	}

	got := sender.sentTexts()
	if len(got) != 1 || got[0] != "pending item" {
		t.Fatalf("expected pending item delivered on close, got %q", got)
	}
}

func TestQueueAppendsHistoryAsAssistant(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	history := &fakeHistory{}
	q := newTestQueue(sender, history)

	ctx := context.Background()
	if err := q.EnqueueText(ctx, "conv", "a reply"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()
	q.Run(ctx)

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.entries) != 1 || history.entries[0] != "a reply" {
		t.Fatalf("expected one history entry, got %q", history.entries)
	}
	if history.roles[0] != "assistant" {
		t.Fatalf("expected assistant role, got %q", history.roles[0])
	}
}

func TestQueueNoticePreservesOrderWithText(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	q := newTestQueue(sender, nil)

	ctx := context.Background()
	if err := q.EnqueueText(ctx, "conv", "before the card"); err != nil {
		t.Fatalf("enqueue text: %v", err)
	}
	if err := q.EnqueueNotice(ctx, "conv", Notice{Type: "link", Body: "<appmsg/>"}); err != nil {
		t.Fatalf("enqueue notice: %v", err)
	}
	q.Close()
	q.Run(ctx)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.texts) != 1 || len(sender.cards) != 1 {
		t.Fatalf("expected one text and one card, got %q / %q", sender.texts, sender.cards)
	}
	if sender.cards[0] != "<appmsg/>" {
		t.Fatalf("unexpected card payload %q", sender.cards[0])
	}
}

func TestQueueSkipsEmptyAfterEchoPrefixStrip(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	q := NewQueue(nil, Config{
		Capacity:   4,
		BaseDelay:  time.Millisecond,
		EchoPrefix: "murmur",
	}, sender, nil, nil)

	ctx := context.Background()
	if err := q.EnqueueText(ctx, "conv", "murmur: actual reply"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.EnqueueText(ctx, "conv", "murmur:"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()
	q.Run(ctx)

	got := sender.sentTexts()
	if len(got) != 1 || got[0] != "actual reply" {
		t.Fatalf("expected stripped reply only, got %q", got)
	}
}

func TestJitteredDelayBounds(t *testing.T) {
	t.Parallel()

	base := 2 * time.Second
	low := jitteredDelay(base, func() float64 { return 0 })
	high := jitteredDelay(base, func() float64 { return 0.999999 })

	if low != time.Duration(float64(base)*0.8) {
		t.Fatalf("expected lower bound 0.8x, got %v", low)
	}
	if high >= time.Duration(float64(base)*1.2)+time.Millisecond {
		t.Fatalf("expected upper bound near 1.2x, got %v", high)
	}
	if high <= low {
		t.Fatalf("jitter range collapsed: %v..%v", low, high)
	}
}

func TestStripEchoPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, in, prefix, want string
	}{
		{"ascii colon", "bot: hi there", "bot", " hi there"},
		{"fullwidth colon", "bot：你好", "bot", "你好"},
		{"no prefix", "plain text", "bot", "plain text"},
		{"prefix without colon", "bottle of water", "bot", "bottle of water"},
		{"empty name", "bot: hi", "", "bot: hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := stripEchoPrefix(tc.in, tc.prefix); got != tc.want {
				t.Fatalf("stripEchoPrefix(%q, %q) = %q, want %q", tc.in, tc.prefix, got, tc.want)
			}
		})
	}
}
