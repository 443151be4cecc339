package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/murmurbot/murmur/internal/dispatch"
	"github.com/murmurbot/murmur/internal/envelope"
	"github.com/murmurbot/murmur/internal/policy"
)

// ChatHandler answers text and quote messages by streaming a reply through
// the responder. In groups it reacts when the bot is mentioned, or when the
// conversation is still engaged from a recent reply.
type ChatHandler struct {
	botID     string
	nickname  string
	gate      *policy.Gate
	responder *Responder
	logger    *slog.Logger
}

func NewChatHandler(log *slog.Logger, botID, nickname string, gate *policy.Gate, responder *Responder) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{
		botID:     botID,
		nickname:  nickname,
		gate:      gate,
		responder: responder,
		logger:    log.With(slog.String("component", "chat_handler")),
	}
}

func (h *ChatHandler) Handle(ctx context.Context, msg envelope.Message) error {
	if msg.SenderID == h.botID {
		// Never answer our own messages.
		return nil
	}
	if msg.IsGroup && !msg.Mentioned(h.botID) && !h.engaged(msg) {
		return nil
	}

	prompt := h.prompt(msg)
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	if h.gate != nil {
		h.gate.Touch(msg.ConversationID, msg.ReceivedAt)
	}
	return h.responder.Respond(ctx, msg, prompt)
}

func (h *ChatHandler) engaged(msg envelope.Message) bool {
	return h.gate != nil && h.gate.Engaged(msg.ConversationID, msg.ReceivedAt)
}

// prompt builds the model input. Quotes inline the referenced content so the
// model sees what the user is replying to; group mentions of the bot's own
// name are stripped.
func (h *ChatHandler) prompt(msg envelope.Message) string {
	text := msg.Text
	if h.nickname != "" {
		text = strings.ReplaceAll(text, "@"+h.nickname, "")
	}
	text = strings.TrimSpace(text)

	if msg.Kind == envelope.KindQuote && msg.Quote != nil {
		quoted := strings.TrimSpace(msg.Quote.QuotedContent)
		if quoted != "" {
			return fmt.Sprintf("%s\n\n(引用: %s)", text, quoted)
		}
	}
	return text
}

// Vision describes visual media through the inference backend.
type Vision interface {
	ParseImages(ctx context.Context, urls []string) (string, error)
	ParseVideo(ctx context.Context, videoURL string) (string, error)
}

// ImageHandler describes inbound images and records the description into
// conversation history as user context. It never produces a direct reply.
type ImageHandler struct {
	vision  Vision
	history dispatch.HistoryAppender
	logger  *slog.Logger
}

func NewImageHandler(log *slog.Logger, vision Vision, history dispatch.HistoryAppender) *ImageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ImageHandler{
		vision:  vision,
		history: history,
		logger:  log.With(slog.String("component", "image_handler")),
	}
}

func (h *ImageHandler) Handle(ctx context.Context, msg envelope.Message) error {
	if msg.Media == nil || msg.Media.URL == "" {
		return nil
	}
	desc, err := h.vision.ParseImages(ctx, []string{msg.Media.URL})
	if err != nil {
		return fmt.Errorf("describe image: %w", err)
	}
	if desc == "" || h.history == nil {
		return nil
	}
	return h.history.AppendHistory(ctx, msg.ConversationID, "user", "[图片] "+desc)
}

// PatHandler reacts to pats directed at the bot by answering in character.
// Pats aimed at other members are ignored.
type PatHandler struct {
	botID     string
	responder *Responder
}

func NewPatHandler(botID string, responder *Responder) *PatHandler {
	return &PatHandler{botID: botID, responder: responder}
}

func (h *PatHandler) Handle(ctx context.Context, msg envelope.Message) error {
	if msg.Pat == nil || msg.Pat.PattedUser != h.botID {
		return nil
	}
	return h.responder.Respond(ctx, msg, msg.Text)
}
