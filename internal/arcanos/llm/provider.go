// Package llm defines the local model provider interface used for
// locally-routed conversation turns, vision analysis, and transcription.
//
// Streaming callers receive zero or more text chunks followed by exactly one
// usage record in the returned Reply; usage is never embedded in the text.
package llm

import "context"

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reply is the outcome of one model call.
type Reply struct {
	Text   string
	Tokens int
	Cost   float64
}

// ChunkFunc receives streamed text fragments in order.
type ChunkFunc func(text string)

// Provider is the local model backend.
type Provider interface {
	// Ask sends one user message with an optional system prompt and prior
	// history and returns the full reply.
	Ask(ctx context.Context, message, system string, history []Message) (*Reply, error)
	// AskStream behaves like Ask but delivers the reply incrementally
	// through onChunk. The returned Reply carries the final usage record
	// and the assembled text.
	AskStream(ctx context.Context, message, system string, history []Message, onChunk ChunkFunc) (*Reply, error)
	// AskWithVision analyzes a base64-encoded image alongside a prompt.
	AskWithVision(ctx context.Context, message, imageBase64 string) (*Reply, error)
	// Transcribe converts audio bytes to text.
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
