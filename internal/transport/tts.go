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

// TTSClient synthesizes reply text into audio through the speech service.
// It implements VoiceSynthesizer.
type TTSClient struct {
	baseURL string
	voice   string
	http    *http.Client
	logger  *slog.Logger
}

func NewTTSClient(baseURL, voice string, timeout time.Duration, logger *slog.Logger) *TTSClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TTSClient{
		baseURL: baseURL,
		voice:   voice,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "tts")),
	}
}

// Synthesize renders text as audio. The returned format is the container
// the service produced, currently always mp3.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	payload := map[string]any{
		"text":  text,
		"voice": c.voice,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tts", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("tts request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var reply struct {
		Audio  string `json:"audio"`
		Format string `json:"format"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, "", fmt.Errorf("decode tts response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(reply.Audio)
	if err != nil {
		return nil, "", fmt.Errorf("decode tts audio: %w", err)
	}
	format := reply.Format
	if format == "" {
		format = "mp3"
	}
	return audio, format, nil
}
