package inference

// ChatRequest carries one user turn to the inference backend.
type ChatRequest struct {
	ChatID      string   `json:"chat_id"`
	MsgID       int64    `json:"msg_id"`
	Content     string   `json:"msg_content"`
	Nickname    string   `json:"nick_name"`
	Role        string   `json:"chat_role,omitempty"`
	CiteMsgID   *int64   `json:"cite_msg_id,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream"`
}

// ChatResponse is the non-streaming completion envelope.
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Content returns the first choice's text, or "" when the backend
// answered without one.
func (r ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StreamChunk is one line of a streaming completion. ChunkType
// distinguishes spoken content from reasoning traces and from structured
// side-channel notices.
type StreamChunk struct {
	ChunkType string `json:"chunk_type,omitempty"`
	Delta     struct {
		Content          string `json:"content"`
		ReasoningContent string `json:"reasoning_content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

const (
	chunkTypeContent   = "content"
	chunkTypeReasoning = "reasoning"
)

// Text is the displayable fragment of a chunk. Reasoning and notice
// chunks return "".
func (c StreamChunk) Text() string {
	if c.ChunkType == "" || c.ChunkType == chunkTypeContent {
		return c.Delta.Content
	}
	return ""
}

// IsNotice reports whether the chunk is a structured side-channel event,
// e.g. a script-completion card, rather than reply text.
func (c StreamChunk) IsNotice() bool {
	switch c.ChunkType {
	case "", chunkTypeContent, chunkTypeReasoning:
		return false
	default:
		return true
	}
}

// HistoryRequest appends a turn to the backend's conversation history
// without requesting a completion.
type HistoryRequest struct {
	ChatID    string `json:"chat_id"`
	MsgID     int64  `json:"msg_id,omitempty"`
	Content   string `json:"msg_content"`
	Nickname  string `json:"nick_name,omitempty"`
	ChatRole  string `json:"chat_role,omitempty"`
	Role      string `json:"role"`
	CiteMsgID *int64 `json:"cite_msg_id,omitempty"`
}

// ImageRequest asks the vision endpoint to describe one or more images.
type ImageRequest struct {
	ImageURLs []string `json:"image_urls"`
	Detail    string   `json:"detail,omitempty"`
	MaxImages int      `json:"max_images,omitempty"`
	MaxSizeMB int      `json:"max_size_mb,omitempty"`
	ChatRole  string   `json:"chat_role,omitempty"`
}

// VideoRequest asks the vision endpoint to summarize a video.
type VideoRequest struct {
	VideoURL       string `json:"video_url"`
	Detail         bool   `json:"detail"`
	FramesPerGroup int    `json:"frame_num_per_group,omitempty"`
}

// TranscribeRequest asks the audio endpoint to transcribe a recording.
type TranscribeRequest struct {
	MediaPath string `json:"media_path"`
	Language  string `json:"language,omitempty"`
}

// AnalysisResponse is the shared reply shape of the vision and audio
// endpoints.
type AnalysisResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}
