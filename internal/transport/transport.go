// Package transport declares the interfaces the message core consumes from
// the physical transport/session client. Login, QR auth, and the wire bytes
// live behind these interfaces and are out of this module's scope.
package transport

import "context"

// SendResult is what the transport reports back for a delivered message.
type SendResult struct {
	ClientMsgID int64
	ServerTime  int64
	NewMsgID    int64
}

// Sender delivers outbound payloads to a conversation.
type Sender interface {
	SendText(ctx context.Context, conversationID, text string) (SendResult, error)
	SendVoice(ctx context.Context, conversationID string, audio []byte, format string) (SendResult, error)
	// SendStructured delivers a rich card payload, e.g. a link or notice.
	SendStructured(ctx context.Context, conversationID string, payload []byte) (SendResult, error)
}

// MediaDownloader resolves media handles extracted during normalization.
type MediaDownloader interface {
	DownloadImage(ctx context.Context, aesKey, url string) ([]byte, error)
	DownloadVoice(ctx context.Context, msgID int64, url string, length int64) ([]byte, error)
	DownloadVideo(ctx context.Context, msgID int64) ([]byte, error)
	DownloadAttachment(ctx context.Context, attachID string) ([]byte, error)
}

// NicknameResolver looks up the display name for a user id.
type NicknameResolver interface {
	Nickname(ctx context.Context, userID string) (string, error)
}

// VoiceSynthesizer turns reply text into audio. An empty result is not an
// error; callers fall back to text delivery.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}
