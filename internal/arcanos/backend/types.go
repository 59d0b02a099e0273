package backend

import "net/http"

// ChatMessage is one entry in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the typed response of /api/ask.
type ChatResult struct {
	Text   string
	Tokens int
	Cost   float64
	Model  string
}

// VisionResult is the typed response of /api/vision.
type VisionResult struct {
	Text   string
	Tokens int
	Cost   float64
	Model  string
}

// TranscriptionResult is the typed response of /api/transcribe.
type TranscriptionResult struct {
	Text  string
	Model string
}

// VisionRequest is the input to Vision.
type VisionRequest struct {
	ImageBase64 string
	Prompt      string
	Temperature float64
	Model       string
	MaxTokens   int
	Metadata    map[string]any
}

// HTTPResponse is the raw result of MakeRequest, used by the scheduler loops
// which need status codes and headers without the typed error mapping.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
