// Package envelope turns raw transport envelopes into typed messages.
// It owns the discriminator dispatch, group/private disambiguation,
// self-sent correction, and the nested markup decoders.
package envelope

import (
	"fmt"
	"time"
)

// GroupSuffix marks a conversation identifier as a group chat.
const GroupSuffix = "@chatroom"

// Transport discriminator values. These are assigned by the transport and
// identify the coarse message kind of a raw envelope.
const (
	DiscriminatorText          = 1
	DiscriminatorImage         = 3
	DiscriminatorVoice         = 34
	DiscriminatorFriendRequest = 37
	DiscriminatorVideo         = 43
	DiscriminatorApp           = 49
	DiscriminatorStatus        = 51
	DiscriminatorSystem        = 10002
)

// Inner type tags of app (discriminator 49) messages, read from the nested
// markup rather than the outer envelope.
const (
	appTypeLink          = 4
	appTypeLinkAlt       = 5
	appTypeFile          = 6
	appTypeQuote         = 57
	appTypeFileUploading = 74
)

// RawEnvelope is the opaque transport payload. The core reads it and never
// mutates it.
type RawEnvelope struct {
	MsgID         int64  `json:"msg_id"`
	Discriminator int    `json:"msg_type"`
	FromUser      string `json:"from_user"`
	ToUser        string `json:"to_user"`
	Content       string `json:"content"`
	MsgSource     string `json:"msg_source,omitempty"`
	CreateTime    int64  `json:"create_time,omitempty"`
	// ImgBuf carries inline base64 media for short voice clips.
	ImgBuf string `json:"img_buf,omitempty"`
}

// Kind classifies a normalized message.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindVoice   Kind = "voice"
	KindVideo   Kind = "video"
	KindFile    Kind = "file"
	KindQuote   Kind = "quote"
	KindLink    Kind = "link"
	KindSystem  Kind = "system"
	KindPat     Kind = "pat"
	KindUnknown Kind = "unknown"
)

func (k Kind) String() string { return string(k) }

// Message is the normalized unit produced by the pipeline. ConversationID
// always denotes the chat (group id or human peer), never the bot itself,
// even for messages the bot authored.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	IsGroup        bool
	Kind           Kind
	// Text holds the plain content for text-like kinds and the readable
	// summary for link messages.
	Text       string
	Quote      *QuotePayload
	Link       *LinkPayload
	File       *FilePayload
	Pat        *PatPayload
	System     *SystemPayload
	Media      *MediaRef
	Mentions   []string
	ReceivedAt time.Time
}

// Mentioned reports whether id appears in the explicit mention list.
func (m Message) Mentioned(id string) bool {
	for _, at := range m.Mentions {
		if at == id {
			return true
		}
	}
	return false
}

// MediaRef is a downloadable media handle extracted from nested markup.
// The actual bytes are fetched by the transport collaborator.
type MediaRef struct {
	AesKey string
	URL    string
	Length int64
	MD5    string
	// InlineBase64 carries media delivered inside the envelope itself,
	// bypassing the download step.
	InlineBase64 string
}

// QuotePayload is built once at normalization time and immutable afterward.
// Nested quoted content of kind link/image/quote is decoded with the same
// per-kind rules as top-level messages.
type QuotePayload struct {
	QuotedMessageID int64
	QuotedKind      Kind
	QuotedSenderID  string
	QuotedNickname  string
	QuotedContent   string
	CurrentText     string
	Link            *LinkPayload
	Media           *MediaRef
	Quote           *QuotePayload
}

// LinkPayload describes a shared link card. AppName may be inferred from the
// URL when the source field is blank (see inferAppName).
type LinkPayload struct {
	Title       string
	Description string
	URL         string
	AppID       string
	AppName     string
	Thumbnail   *Thumbnail
}

// Thumbnail is the optional preview image attached to a link card.
type Thumbnail struct {
	URL    string
	MD5    string
	Length int64
	Width  int
	Height int
	AesKey string
}

// FilePayload describes a file attachment announcement.
type FilePayload struct {
	Name     string
	Ext      string
	AttachID string
}

// PatPayload is the "pat" system notice.
type PatPayload struct {
	FromUser   string
	PattedUser string
	Suffix     string
}

// Display renders the pat notice the way it is stored in the message log.
func (p PatPayload) Display() string {
	return fmt.Sprintf("%s patted %s %s", p.FromUser, p.PattedUser, p.Suffix)
}

// SystemPayload keeps the inner type tag and raw fragment of system notices
// the core does not decode further.
type SystemPayload struct {
	Type string
	Raw  string
}

// DecodeError reports malformed nested markup inside a single message. It
// fails only that message's decode; the normalizer loop continues.
type DecodeError struct {
	Reason   string
	Fragment string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(fragment, reason string, err error) *DecodeError {
	const maxFragment = 256
	if len(fragment) > maxFragment {
		fragment = fragment[:maxFragment]
	}
	return &DecodeError{Reason: reason, Fragment: fragment, Err: err}
}
