package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to the character inference backend over HTTP. All chat
// endpoints live under /api/v1.
type Client struct {
	baseURL  string
	chatRole string
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(baseURL, chatRole string, timeout time.Duration, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		chatRole: chatRole,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With(slog.String("component", "inference")),
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("inference request %s failed: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	resp, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

// Chat requests a complete reply in one round trip.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.Role == "" {
		req.Role = c.chatRole
	}
	req.Stream = false

	var out ChatResponse
	if err := c.postJSON(ctx, "/api/v1/chat", req, &out); err != nil {
		return "", err
	}
	return out.Content(), nil
}

// StreamChat requests a reply as a stream of line-delimited JSON chunks.
// The chunk channel closes when the stream ends; a single error, if any,
// arrives on the error channel after that.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 16)
	errs := make(chan error, 1)

	if req.Role == "" {
		req.Role = c.chatRole
	}
	req.Stream = true

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := c.post(ctx, "/api/v1/chat", req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		// Large buffer for long single-line chunks.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk StreamChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				c.logger.Warn("skipping malformed stream chunk", slog.String("error", err.Error()))
				continue
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return chunks, errs
}

// AppendHistory records a turn in the backend's conversation history.
// The dispatch queue calls this for every delivered reply.
func (c *Client) AppendHistory(ctx context.Context, conversationID, role, content string) error {
	req := HistoryRequest{
		ChatID:   conversationID,
		Content:  content,
		ChatRole: c.chatRole,
		Role:     role,
	}
	var out map[string]any
	return c.postJSON(ctx, "/api/v1/chat/update_hist", req, &out)
}

// ParseImages asks the vision endpoint to describe images and returns the
// combined description.
func (c *Client) ParseImages(ctx context.Context, urls []string) (string, error) {
	req := ImageRequest{
		ImageURLs: urls,
		Detail:    "low",
		MaxImages: 1,
		MaxSizeMB: 5,
		ChatRole:  c.chatRole,
	}
	var out AnalysisResponse
	if err := c.postJSON(ctx, "/api/v1/chat/parse_img", req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("image analysis failed: %s", out.Error)
	}
	return out.Result, nil
}

// ParseVideo asks the vision endpoint to summarize a video.
func (c *Client) ParseVideo(ctx context.Context, videoURL string) (string, error) {
	req := VideoRequest{
		VideoURL:       videoURL,
		Detail:         true,
		FramesPerGroup: 5,
	}
	var out AnalysisResponse
	if err := c.postJSON(ctx, "/api/v1/chat/parse_vid", req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("video analysis failed: %s", out.Error)
	}
	return out.Result, nil
}

// TranscribeAudio transcribes a voice recording stored at mediaPath on the
// backend's filesystem.
func (c *Client) TranscribeAudio(ctx context.Context, mediaPath, language string) (string, error) {
	if language == "" {
		language = "zh"
	}
	req := TranscribeRequest{MediaPath: mediaPath, Language: language}
	var out AnalysisResponse
	if err := c.postJSON(ctx, "/api/v1/aud/trans", req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("transcription failed: %s", out.Error)
	}
	return out.Result, nil
}
