package envelope

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// LogSink receives every successfully normalized message, exactly once,
// before any handler sees it. Implementations must be write-once per
// (message id, conversation id).
type LogSink interface {
	Append(ctx context.Context, msg Message) error
}

// Normalizer converts raw envelopes into typed messages. It is safe for
// concurrent use; distinct envelopes may be normalized in parallel.
type Normalizer struct {
	botID  string
	sink   LogSink
	logger *slog.Logger
}

// NewNormalizer builds a normalizer for the given bot identity. The sink is
// optional; a nil sink disables the message log.
func NewNormalizer(log *slog.Logger, botID string, sink LogSink) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		botID:  botID,
		sink:   sink,
		logger: log.With(slog.String("component", "normalizer")),
	}
}

// Normalize turns one raw envelope into a Message. A nil message with a nil
// error means the envelope kind is deliberately skipped (transport status
// sync, file uploads in progress). A *DecodeError drops only this message;
// the caller's loop continues with the next envelope.
func (n *Normalizer) Normalize(ctx context.Context, raw RawEnvelope) (*Message, error) {
	switch raw.Discriminator {
	case DiscriminatorText:
		return n.normalizeText(ctx, raw)
	case DiscriminatorImage:
		return n.normalizeImage(ctx, raw)
	case DiscriminatorVoice:
		return n.normalizeVoice(ctx, raw)
	case DiscriminatorVideo:
		return n.normalizeVideo(ctx, raw)
	case DiscriminatorApp:
		return n.normalizeApp(ctx, raw)
	case DiscriminatorSystem:
		return n.normalizeSystem(ctx, raw)
	case DiscriminatorFriendRequest:
		return n.normalizeFriendRequest(ctx, raw)
	case DiscriminatorStatus:
		return nil, nil
	default:
		n.logger.Warn("unknown discriminator",
			slog.Int("discriminator", raw.Discriminator),
			slog.Int64("msg_id", raw.MsgID),
		)
		msg := n.baseMessage(raw, raw.Content, ":")
		msg.Kind = KindUnknown
		msg.Text = raw.Content
		n.appendLog(ctx, msg)
		return &msg, nil
	}
}

// baseMessage resolves the conversation, sender, and group flag for an
// envelope, applying self-sent correction so ConversationID always denotes
// the chat, never the bot. sep is the sender separator for the content:
// ":\n" for text, ":" for media and markup kinds.
func (n *Normalizer) baseMessage(raw RawEnvelope, content, sep string) Message {
	from, to := raw.FromUser, raw.ToUser
	if from == n.botID && strings.HasSuffix(to, GroupSuffix) {
		// The bot authored this group message, so from/to arrive swapped.
		from, to = to, from
	}
	msg := Message{
		ID:         raw.MsgID,
		ReceivedAt: receivedAt(raw),
	}
	if strings.HasSuffix(from, GroupSuffix) {
		msg.IsGroup = true
		msg.ConversationID = from
		if prefix, rest, found := strings.Cut(content, sep); found {
			msg.SenderID = prefix
			msg.Text = rest
		} else {
			// No separator: the bot itself authored the message.
			msg.SenderID = n.botID
			msg.Text = content
		}
		return msg
	}
	msg.SenderID = from
	msg.Text = content
	msg.ConversationID = from
	if from == n.botID {
		msg.ConversationID = to
	}
	return msg
}

func receivedAt(raw RawEnvelope) time.Time {
	if raw.CreateTime > 0 {
		return time.Unix(raw.CreateTime, 0)
	}
	return time.Now()
}

// cleanFragment strips the line noise the transport injects into nested
// markup payloads.
func cleanFragment(content string) string {
	content = strings.ReplaceAll(content, "\n", "")
	return strings.ReplaceAll(content, "\t", "")
}

func (n *Normalizer) normalizeText(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := n.baseMessage(raw, raw.Content, ":\n")
	msg.Kind = KindText
	mentions, err := decodeMentions(raw.MsgSource)
	if err != nil {
		n.logDecodeFailure(raw, err)
		return nil, err
	}
	msg.Mentions = mentions
	n.appendLog(ctx, msg)
	return &msg, nil
}

func (n *Normalizer) normalizeImage(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := n.baseMessage(raw, cleanFragment(raw.Content), ":")
	msg.Kind = KindImage
	media, err := decodeImage(msg.Text)
	if err != nil {
		n.logDecodeFailure(raw, err)
		return nil, err
	}
	msg.Media = media
	n.appendLog(ctx, msg)
	return &msg, nil
}

func (n *Normalizer) normalizeVoice(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := n.baseMessage(raw, cleanFragment(raw.Content), ":")
	msg.Kind = KindVoice
	if msg.IsGroup || raw.ImgBuf == "" {
		media, err := decodeVoice(msg.Text)
		if err != nil {
			n.logDecodeFailure(raw, err)
			return nil, err
		}
		msg.Media = media
	} else {
		msg.Media = &MediaRef{InlineBase64: raw.ImgBuf}
	}
	n.appendLog(ctx, msg)
	return &msg, nil
}

func (n *Normalizer) normalizeVideo(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := n.baseMessage(raw, raw.Content, ":")
	msg.Kind = KindVideo
	n.appendLog(ctx, msg)
	return &msg, nil
}

func (n *Normalizer) normalizeApp(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := n.baseMessage(raw, cleanFragment(raw.Content), ":")
	result, err := decodeApp(msg.Text)
	if err != nil {
		n.logDecodeFailure(raw, err)
		return nil, err
	}
	if result.Skip {
		return nil, nil
	}
	msg.Kind = result.Kind
	msg.Text = result.Text
	msg.Quote = result.Quote
	msg.Link = result.Link
	msg.File = result.File
	n.appendLog(ctx, msg)
	return &msg, nil
}

func (n *Normalizer) normalizeSystem(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := n.baseMessage(raw, raw.Content, ":")
	sysType, pat, err := decodeSystem(msg.Text)
	if err != nil {
		n.logDecodeFailure(raw, err)
		return nil, err
	}
	if sysType == "ClientCheckGetExtInfo" {
		return nil, nil
	}
	if pat != nil {
		msg.Kind = KindPat
		msg.Pat = pat
		msg.Text = pat.Display()
	} else {
		msg.Kind = KindSystem
		msg.System = &SystemPayload{Type: sysType, Raw: msg.Text}
	}
	n.appendLog(ctx, msg)
	return &msg, nil
}

func (n *Normalizer) normalizeFriendRequest(ctx context.Context, raw RawEnvelope) (*Message, error) {
	msg := Message{
		ID:             raw.MsgID,
		ConversationID: raw.FromUser,
		SenderID:       raw.FromUser,
		Kind:           KindSystem,
		Text:           raw.Content,
		System:         &SystemPayload{Type: "friend_request", Raw: raw.Content},
		ReceivedAt:     receivedAt(raw),
	}
	n.appendLog(ctx, msg)
	return &msg, nil
}

// appendLog records the message in the append-only log. A sink failure is
// logged but never drops the message from the pipeline.
func (n *Normalizer) appendLog(ctx context.Context, msg Message) {
	if n.sink == nil {
		return
	}
	if err := n.sink.Append(ctx, msg); err != nil {
		n.logger.Warn("message log append failed",
			slog.Int64("msg_id", msg.ID),
			slog.String("conversation_id", msg.ConversationID),
			slog.Any("error", err),
		)
	}
}

func (n *Normalizer) logDecodeFailure(raw RawEnvelope, err error) {
	n.logger.Error("nested markup decode failed",
		slog.Int64("msg_id", raw.MsgID),
		slog.Int("discriminator", raw.Discriminator),
		slog.String("from", raw.FromUser),
		slog.Any("error", err),
	)
}
