package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint (useful for local models like
	// Ollama). Defaults to https://api.openai.com/v1.
	BaseURL string
	// Model is the chat model. Defaults to gpt-4o-mini.
	Model string
	// TranscriptionModel is the audio model. Defaults to whisper-1.
	TranscriptionModel string
	// MaxTokens bounds each completion when > 0.
	MaxTokens int
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// openAIProvider implements Provider using the OpenAI API surface.
type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the OpenAI API) ---

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
	StreamOpt *oaiStream   `json:"stream_options,omitempty"`
}

type oaiStream struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or content-part array
}

type oaiContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *oaiImagePart `json:"image_url,omitempty"`
}

type oaiImagePart struct {
	URL string `json:"url"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage oaiUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

func (p *openAIProvider) Ask(ctx context.Context, message, system string, history []Message) (*Reply, error) {
	resp, err := p.complete(ctx, oaiRequest{
		Model:     p.cfg.Model,
		Messages:  buildMessages(message, system, history),
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *openAIProvider) AskWithVision(ctx context.Context, message, imageBase64 string) (*Reply, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return nil, fmt.Errorf("vision requires a non-empty image")
	}
	if message == "" {
		message = "Describe this image."
	}
	msg := oaiMessage{
		Role: string(RoleUser),
		Content: []oaiContentPart{
			{Type: "text", Text: message},
			{Type: "image_url", ImageURL: &oaiImagePart{URL: "data:image/png;base64," + imageBase64}},
		},
	}
	return p.complete(ctx, oaiRequest{
		Model:     p.cfg.Model,
		Messages:  []oaiMessage{msg},
		MaxTokens: p.cfg.MaxTokens,
	})
}

func (p *openAIProvider) complete(ctx context.Context, body oaiRequest) (*Reply, error) {
	respBody, _, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if oaiResp.Error != nil {
		return nil, fmt.Errorf("openai error %s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &Reply{
		Text:   oaiResp.Choices[0].Message.Content,
		Tokens: oaiResp.Usage.TotalTokens,
	}, nil
}

// AskStream reads the SSE response line by line, forwarding delta content to
// onChunk and collecting the terminal usage record.
func (p *openAIProvider) AskStream(ctx context.Context, message, system string, history []Message, onChunk ChunkFunc) (*Reply, error) {
	body := oaiRequest{
		Model:     p.cfg.Model,
		Messages:  buildMessages(message, system, history),
		MaxTokens: p.cfg.MaxTokens,
		Stream:    true,
		StreamOpt: &oaiStream{IncludeUsage: true},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stream request failed: %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	reply := &Reply{}
	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var event oaiStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
			text.WriteString(event.Choices[0].Delta.Content)
			if onChunk != nil {
				onChunk(event.Choices[0].Delta.Content)
			}
		}
		if event.Usage != nil {
			reply.Tokens = event.Usage.TotalTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	reply.Text = text.String()
	return reply, nil
}

// Transcribe posts audio as multipart form data to the transcription
// endpoint.
func (p *openAIProvider) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("transcription requires audio bytes")
	}
	if filename == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.WriteField("model", p.cfg.TranscriptionModel); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription failed: %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return parsed.Text, nil
}

func (p *openAIProvider) post(ctx context.Context, path string, body any) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func buildMessages(message, system string, history []Message) []oaiMessage {
	msgs := make([]oaiMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, oaiMessage{Role: string(RoleSystem), Content: system})
	}
	for _, h := range history {
		msgs = append(msgs, oaiMessage{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, oaiMessage{Role: string(RoleUser), Content: message})
	return msgs
}
