// Package ai implements the retrieval-augmented responder: embedding-based
// knowledge retrieval, conversation history assembly, and chat completion
// against an OpenAI-compatible API, guarded by a daily token budget.
package ai

import "context"

// Message is one turn of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a chat completion result.
type Completion struct {
	// Text is the generated assistant message.
	Text string

	// TotalTokens is the provider-reported usage for the call (prompt plus
	// completion), used to charge the daily budget.
	TotalTokens int
}

// Provider is a chat completion and embedding backend.
type Provider interface {
	// Embed generates a vector embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Complete generates a chat completion.
	Complete(ctx context.Context, model string, messages []Message, temperature float64) (*Completion, error)
}
