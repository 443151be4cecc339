package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to the session sidecar's REST API. The sidecar owns login
// state and the wire protocol; this client only relays payloads.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "transport")),
	}
}

// apiResponse is the sidecar's uniform reply envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("transport request %s failed: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	if !envelope.Success {
		return fmt.Errorf("transport request %s rejected: %s", endpoint, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data from %s: %w", endpoint, err)
		}
	}
	return nil
}

type sendReply struct {
	ClientMsgID int64 `json:"client_msg_id"`
	ServerTime  int64 `json:"create_time"`
	NewMsgID    int64 `json:"new_msg_id"`
}

func (r sendReply) result() SendResult {
	return SendResult{ClientMsgID: r.ClientMsgID, ServerTime: r.ServerTime, NewMsgID: r.NewMsgID}
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) (SendResult, error) {
	payload := map[string]any{
		"to_user": conversationID,
		"content": text,
	}
	var reply sendReply
	if err := c.post(ctx, "/api/v1/message/text", payload, &reply); err != nil {
		return SendResult{}, err
	}
	return reply.result(), nil
}

func (c *Client) SendVoice(ctx context.Context, conversationID string, audio []byte, format string) (SendResult, error) {
	payload := map[string]any{
		"to_user": conversationID,
		"voice":   base64.StdEncoding.EncodeToString(audio),
		"format":  format,
	}
	var reply sendReply
	if err := c.post(ctx, "/api/v1/message/voice", payload, &reply); err != nil {
		return SendResult{}, err
	}
	return reply.result(), nil
}

func (c *Client) SendStructured(ctx context.Context, conversationID string, payload []byte) (SendResult, error) {
	body := map[string]any{
		"to_user": conversationID,
		"xml":     string(payload),
	}
	var reply sendReply
	if err := c.post(ctx, "/api/v1/message/app", body, &reply); err != nil {
		return SendResult{}, err
	}
	return reply.result(), nil
}

func (c *Client) DownloadImage(ctx context.Context, aesKey, url string) ([]byte, error) {
	payload := map[string]any{"aes_key": aesKey, "url": url}
	return c.download(ctx, "/api/v1/media/image", payload)
}

func (c *Client) DownloadVoice(ctx context.Context, msgID int64, url string, length int64) ([]byte, error) {
	payload := map[string]any{"msg_id": msgID, "url": url, "length": length}
	return c.download(ctx, "/api/v1/media/voice", payload)
}

func (c *Client) DownloadVideo(ctx context.Context, msgID int64) ([]byte, error) {
	payload := map[string]any{"msg_id": msgID}
	return c.download(ctx, "/api/v1/media/video", payload)
}

func (c *Client) DownloadAttachment(ctx context.Context, attachID string) ([]byte, error) {
	payload := map[string]any{"attach_id": attachID}
	return c.download(ctx, "/api/v1/media/attachment", payload)
}

func (c *Client) download(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	var reply struct {
		Base64 string `json:"base64"`
	}
	if err := c.post(ctx, endpoint, payload, &reply); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(reply.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return data, nil
}

func (c *Client) Nickname(ctx context.Context, userID string) (string, error) {
	payload := map[string]any{"user": userID}
	var reply struct {
		Nickname string `json:"nickname"`
	}
	if err := c.post(ctx, "/api/v1/contact/nickname", payload, &reply); err != nil {
		return "", err
	}
	return reply.Nickname, nil
}
