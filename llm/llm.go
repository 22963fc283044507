// Package llm defines the chat-completion client used by the agent nodes and
// an OpenAI-compatible implementation of it.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned when the provider answers with no choices.
	ErrEmptyResponse = errors.New("no response")
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions collects per-call parameters.
type CallOptions struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// CallOption configures a single Invoke call.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) CallOption {
	return func(o *CallOptions) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithJSONMode constrains the completion to a single JSON object. Used by
// nodes whose output is parsed, such as routing and chart planning.
func WithJSONMode() CallOption {
	return func(o *CallOptions) { o.JSONMode = true }
}

// Client is a chat-completion backend.
type Client interface {
	// Invoke sends the messages and returns the assistant's reply text.
	Invoke(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// Embedder produces vector embeddings for texts.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}
