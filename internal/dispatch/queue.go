// Package dispatch owns the single ordered delivery queue between the
// segmenter and the transport. One consumer paces sends, picks the delivery
// channel, and reports each sent unit into conversation history.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murmurbot/murmur/internal/transport"
)

// ErrQueueClosed rejects enqueues after Close. It is the only enqueue
// failure mode.
var ErrQueueClosed = errors.New("dispatch: queue closed")

// Notice is a structured side-channel payload that bypassed segmentation.
// It is delivered as a rich card instead of plain text.
type Notice struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// Item is one deliverable unit. Ownership transfers to the queue on enqueue.
type Item struct {
	ID             string
	ConversationID string
	Text           string
	Notice         *Notice
	ProducedAt     time.Time
}

// HistoryAppender records delivered content into conversation history.
type HistoryAppender interface {
	AppendHistory(ctx context.Context, conversationID, role, content string) error
}

// Config tunes pacing and channel selection.
type Config struct {
	Capacity         int
	BaseDelay        time.Duration
	BacklogThreshold int
	// EchoPrefix is the responder name-tag artifact stripped from outbound
	// text before delivery.
	EchoPrefix string

	VoiceEnabled  bool
	VoiceMinRunes int
	VoiceMinProb  float64
	VoiceMaxProb  float64
}

// Queue is the bounded, ordered delivery pipeline. Items for the same
// conversation are sent in enqueue order; there is one consumer per process.
type Queue struct {
	cfg     Config
	sender  transport.Sender
	synth   transport.VoiceSynthesizer
	history HistoryAppender
	policy  ChannelPolicy
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	items  chan Item

	done chan struct{}
}

// NewQueue builds the queue. synth and history may be nil; a nil synth
// disables voice delivery regardless of config.
func NewQueue(log *slog.Logger, cfg Config, sender transport.Sender, synth transport.VoiceSynthesizer, history HistoryAppender) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	q := &Queue{
		cfg:     cfg,
		sender:  sender,
		synth:   synth,
		history: history,
		logger:  log.With(slog.String("component", "dispatch")),
		items:   make(chan Item, cfg.Capacity),
		done:    make(chan struct{}),
	}
	q.policy = NewLengthWeightedVoicePolicy(cfg.VoiceMinRunes, cfg.VoiceMinProb, cfg.VoiceMaxProb, rand.Float64)
	return q
}

// SetChannelPolicy swaps the voice-vs-text selection policy. Must be called
// before Run.
func (q *Queue) SetChannelPolicy(policy ChannelPolicy) {
	if policy != nil {
		q.policy = policy
	}
}

// EnqueueText queues a text segment for delivery.
func (q *Queue) EnqueueText(ctx context.Context, conversationID, text string) error {
	return q.enqueue(ctx, Item{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		ProducedAt:     time.Now(),
	})
}

// EnqueueNotice queues a structured notice, preserving ordering with
// surrounding text segments.
func (q *Queue) EnqueueNotice(ctx context.Context, conversationID string, notice Notice) error {
	return q.enqueue(ctx, Item{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Notice:         &notice,
		ProducedAt:     time.Now(),
	})
}

func (q *Queue) enqueue(ctx context.Context, item Item) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth reports the current backlog.
func (q *Queue) Depth() int { return len(q.items) }

// Close stops intake. Items already enqueued are still delivered; Run
// returns once the queue is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

// Done is closed when the consumer has drained and exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Run is the single consumer loop. A failure delivering one item is logged
// and never stops the loop; Run returns only after Close and a full drain.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for item := range q.items {
		if err := q.deliver(ctx, item); err != nil {
			q.logger.Warn("delivery failed",
				slog.String("item_id", item.ID),
				slog.String("conversation_id", item.ConversationID),
				slog.Any("error", err),
			)
		}
		q.pace(ctx)
	}
}

func (q *Queue) deliver(ctx context.Context, item Item) error {
	if item.Notice != nil {
		return q.deliverNotice(ctx, item)
	}
	text := strings.TrimSpace(stripEchoPrefix(item.Text, q.cfg.EchoPrefix))
	if text == "" {
		return nil
	}
	if q.useVoice(text) {
		if err := q.sendVoice(ctx, item.ConversationID, text); err == nil {
			q.appendHistory(ctx, item.ConversationID, text)
			return nil
		} else {
			q.logger.Warn("voice delivery failed, falling back to text",
				slog.String("conversation_id", item.ConversationID),
				slog.Any("error", err),
			)
		}
	}
	if _, err := q.sender.SendText(ctx, item.ConversationID, text); err != nil {
		return err
	}
	q.appendHistory(ctx, item.ConversationID, text)
	return nil
}

func (q *Queue) deliverNotice(ctx context.Context, item Item) error {
	payload := []byte(item.Notice.Body)
	if _, err := q.sender.SendStructured(ctx, item.ConversationID, payload); err != nil {
		return err
	}
	q.appendHistory(ctx, item.ConversationID, item.Notice.Body)
	return nil
}

func (q *Queue) useVoice(text string) bool {
	if !q.cfg.VoiceEnabled || q.synth == nil {
		return false
	}
	return q.policy.UseVoice(text)
}

func (q *Queue) sendVoice(ctx context.Context, conversationID, text string) error {
	audio, format, err := q.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return errors.New("synthesizer returned no audio")
	}
	_, err = q.sender.SendVoice(ctx, conversationID, audio, format)
	return err
}

func (q *Queue) appendHistory(ctx context.Context, conversationID, content string) {
	if q.history == nil {
		return
	}
	if err := q.history.AppendHistory(ctx, conversationID, "assistant", content); err != nil {
		q.logger.Warn("history append failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
}

// pace sleeps the jittered send interval. Under backlog the delay shrinks to
// drain faster; it never grows.
func (q *Queue) pace(ctx context.Context) {
	delay := jitteredDelay(q.cfg.BaseDelay, rand.Float64)
	if q.cfg.BacklogThreshold > 0 && len(q.items) > q.cfg.BacklogThreshold {
		delay /= 2
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// jitteredDelay scales base by a uniform factor in [0.8, 1.2].
func jitteredDelay(base time.Duration, randFloat func() float64) time.Duration {
	factor := 0.8 + 0.4*randFloat()
	return time.Duration(float64(base) * factor)
}

// stripEchoPrefix removes the responder's own name-tag artifact that some
// backends echo at the start of a reply ("name:" or "name：").
func stripEchoPrefix(text, name string) string {
	if name == "" {
		return text
	}
	trimmed := strings.TrimSpace(text)
	rest, found := strings.CutPrefix(trimmed, name)
	if !found {
		return text
	}
	rest = strings.TrimLeft(rest, " \t")
	for _, sep := range []string{":", "："} {
		if after, ok := strings.CutPrefix(rest, sep); ok {
			return after
		}
	}
	return text
}
