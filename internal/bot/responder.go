package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/murmurbot/murmur/internal/dispatch"
	"github.com/murmurbot/murmur/internal/envelope"
	"github.com/murmurbot/murmur/internal/inference"
	"github.com/murmurbot/murmur/internal/segment"
	"github.com/murmurbot/murmur/internal/transport"
)

// ChunkSource streams a reply for a chat request. The chunk channel closes
// at end of stream; a terminal error, if any, follows on the error channel.
type ChunkSource interface {
	StreamChat(ctx context.Context, req inference.ChatRequest) (<-chan inference.StreamChunk, <-chan error)
}

// Responder turns a prompt into paced outbound segments. Each Respond call
// owns a fresh segmenter, so concurrent conversations never share state.
type Responder struct {
	source ChunkSource
	queue  *dispatch.Queue
	segCfg segment.Config
	names  transport.NicknameResolver
	logger *slog.Logger
}

// NewResponder builds a responder. names is optional; without it the
// sender id doubles as the nickname.
func NewResponder(log *slog.Logger, source ChunkSource, queue *dispatch.Queue, segCfg segment.Config, names transport.NicknameResolver) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		source: source,
		queue:  queue,
		segCfg: segCfg,
		names:  names,
		logger: log.With(slog.String("component", "responder")),
	}
}

// Respond streams a reply for msg with the given prompt text, cutting the
// stream into sentences and enqueueing each as it completes. Notice chunks
// bypass segmentation and go out as structured cards in stream order.
// Segments reach the queue in stream order; the tail is flushed
// unconditionally when the stream ends, errors, or the context is canceled.
func (r *Responder) Respond(ctx context.Context, msg envelope.Message, prompt string) error {
	req := inference.ChatRequest{
		ChatID:   msg.ConversationID,
		MsgID:    msg.ID,
		Content:  prompt,
		Nickname: r.nickname(ctx, msg.SenderID),
	}

	// An early return must release the stream producer, not leave it
	// blocked on the chunk channel.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, errs := r.source.StreamChat(streamCtx, req)
	seg := segment.New(r.segCfg)

	for chunk := range chunks {
		if chunk.IsNotice() {
			// Pending text precedes the card so stream order holds.
			if rest, ok := seg.Flush(); ok {
				if err := r.enqueue(ctx, msg.ConversationID, rest); err != nil {
					return err
				}
			}
			notice := dispatch.Notice{Type: chunk.ChunkType, Body: chunk.Delta.Content}
			if err := r.queue.EnqueueNotice(ctx, msg.ConversationID, notice); err != nil {
				return fmt.Errorf("enqueue notice: %w", err)
			}
			continue
		}
		text := chunk.Text()
		if text == "" {
			continue
		}
		for _, piece := range seg.Feed(text) {
			if err := r.enqueue(ctx, msg.ConversationID, piece); err != nil {
				return err
			}
		}
	}

	streamErr := <-errs

	// Whatever remains goes out even after a broken stream, so a partial
	// reply is delivered rather than silently dropped.
	if rest, ok := seg.Flush(); ok {
		if err := r.enqueue(ctx, msg.ConversationID, rest); err != nil {
			return err
		}
	}

	if streamErr != nil {
		return fmt.Errorf("reply stream: %w", streamErr)
	}
	return nil
}

func (r *Responder) enqueue(ctx context.Context, conversationID, text string) error {
	if err := r.queue.EnqueueText(ctx, conversationID, text); err != nil {
		return fmt.Errorf("enqueue segment: %w", err)
	}
	return nil
}

func (r *Responder) nickname(ctx context.Context, senderID string) string {
	if r.names == nil {
		return senderID
	}
	name, err := r.names.Nickname(ctx, senderID)
	if err != nil || name == "" {
		r.logger.Debug("nickname lookup failed",
			slog.String("sender_id", senderID),
			slog.Any("error", err),
		)
		return senderID
	}
	return name
}
