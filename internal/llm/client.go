// Package llm provides chat-completion clients for the providers the
// bridge can use to write quotes and inbox summaries.
package llm

import (
	"context"
	"time"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a single non-streaming completion request.
	Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-request sampling parameters. Zero values leave the
// provider default in place, except MaxTokens for Anthropic which
// requires an explicit limit.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
}

// System and User are convenience constructors for the two roles the
// bridge prompts use.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User returns a user-role message.
func User(content string) Message { return Message{Role: "user", Content: content} }
