// Package bot connects the normalization pipeline to message handlers and
// the reply stream. The Core receives raw envelopes from the intake server,
// normalizes them, applies the policy gate, and fans out to the registry.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/murmurbot/murmur/internal/envelope"
	"github.com/murmurbot/murmur/internal/policy"
)

// Core is the per-envelope processing pipeline. It is safe for concurrent
// use; the intake server may call Process from several readers.
type Core struct {
	normalizer *envelope.Normalizer
	gate       *policy.Gate
	registry   *Registry
	logger     *slog.Logger
}

func NewCore(log *slog.Logger, normalizer *envelope.Normalizer, gate *policy.Gate, registry *Registry) *Core {
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		normalizer: normalizer,
		gate:       gate,
		registry:   registry,
		logger:     log.With(slog.String("component", "bot")),
	}
}

// Process runs one raw envelope through the full pipeline. Errors are
// confined to this envelope; the caller's read loop continues regardless.
func (c *Core) Process(ctx context.Context, raw envelope.RawEnvelope) error {
	msg, err := c.normalizer.Normalize(ctx, raw)
	if err != nil {
		return err
	}
	if msg == nil {
		// Deliberately skipped kind.
		return nil
	}

	if !c.gate.ShouldAccept(msg.ConversationID, msg.SenderID) {
		c.logger.Debug("message rejected by policy",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("sender_id", msg.SenderID),
		)
		return nil
	}

	if c.gate.SuppressEmission(time.Now()) {
		// Warm-up window: the message is logged but no handler fires.
		c.logger.Debug("emission suppressed during warm-up",
			slog.Int64("msg_id", msg.ID),
			slog.String("conversation_id", msg.ConversationID),
		)
		return nil
	}

	handlers := c.registry.HandlersFor(msg.Kind)
	if len(handlers) == 0 {
		c.logger.Debug("no handler for kind",
			slog.String("kind", msg.Kind.String()),
			slog.Int64("msg_id", msg.ID),
		)
		return nil
	}
	for _, h := range handlers {
		if err := h.Handle(ctx, *msg); err != nil {
			c.logger.Error("handler failed",
				slog.String("kind", msg.Kind.String()),
				slog.Int64("msg_id", msg.ID),
				slog.String("conversation_id", msg.ConversationID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
