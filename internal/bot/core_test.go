package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/murmurbot/murmur/internal/envelope"
	"github.com/murmurbot/murmur/internal/policy"
)

type recordingHandler struct {
	msgs []envelope.Message
	err  error
}

func (h *recordingHandler) Handle(ctx context.Context, msg envelope.Message) error {
	h.msgs = append(h.msgs, msg)
	return h.err
}

func textEnvelope(from, content string) envelope.RawEnvelope {
	return envelope.RawEnvelope{
		MsgID:         1,
		Discriminator: envelope.DiscriminatorText,
		FromUser:      from,
		ToUser:        "bot-id",
		Content:       content,
	}
}

func newTestCore(gate *policy.Gate, registry *Registry) *Core {
	normalizer := envelope.NewNormalizer(nil, "bot-id", nil)
	return NewCore(nil, normalizer, gate, registry)
}

func TestCoreDispatchesByKind(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	registry := NewRegistry()
	registry.MustRegister(envelope.KindText, handler)

	core := newTestCore(policy.NewGate(policy.ModeNone, nil, nil, policy.WithIgnoreWarmup()), registry)
	if err := core.Process(context.Background(), textEnvelope("alice", "hi there")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handler.msgs) != 1 || handler.msgs[0].Text != "hi there" {
		t.Fatalf("expected handler invocation, got %+v", handler.msgs)
	}
}

func TestCorePolicyRejectionIsSilent(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	registry := NewRegistry()
	registry.MustRegister(envelope.KindText, handler)

	gate := policy.NewGate(policy.ModeBlacklist, nil, []string{"alice"}, policy.WithIgnoreWarmup())
	core := newTestCore(gate, registry)
	if err := core.Process(context.Background(), textEnvelope("alice", "spam")); err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if len(handler.msgs) != 0 {
		t.Fatal("rejected message reached a handler")
	}
}

func TestCoreWarmupSuppressesHandlers(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	registry := NewRegistry()
	registry.MustRegister(envelope.KindText, handler)

	gate := policy.NewGate(policy.ModeNone, nil, nil, policy.WithWarmup(time.Hour))
	core := newTestCore(gate, registry)
	if err := core.Process(context.Background(), textEnvelope("alice", "too early")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handler.msgs) != 0 {
		t.Fatal("warm-up window must suppress handler dispatch")
	}

	// No reply happened, so the conversation is not marked engaged.
	if _, ok := gate.IdleFor("alice", time.Now()); ok {
		t.Fatal("suppressed message must not mark the conversation engaged")
	}
}

func TestCoreHandlerErrorIsIsolated(t *testing.T) {
	t.Parallel()

	failing := &recordingHandler{err: errors.New("handler broke")}
	second := &recordingHandler{}
	registry := NewRegistry()
	registry.MustRegister(envelope.KindText, failing)
	registry.MustRegister(envelope.KindText, second)

	core := newTestCore(policy.NewGate(policy.ModeNone, nil, nil, policy.WithIgnoreWarmup()), registry)
	if err := core.Process(context.Background(), textEnvelope("alice", "hello")); err != nil {
		t.Fatalf("handler error must not fail the envelope: %v", err)
	}
	if len(second.msgs) != 1 {
		t.Fatal("second handler must run despite the first failing")
	}
}

func TestCoreSkippedKindsAreNoOps(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	core := newTestCore(policy.NewGate(policy.ModeNone, nil, nil, policy.WithIgnoreWarmup()), registry)

	err := core.Process(context.Background(), envelope.RawEnvelope{
		MsgID:         2,
		Discriminator: envelope.DiscriminatorStatus,
		FromUser:      "alice",
		ToUser:        "bot-id",
	})
	if err != nil {
		t.Fatalf("skipped kind must be a no-op: %v", err)
	}
}
