// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import "time"

// =============================================================================
// MESSAGES
// =============================================================================

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one role-tagged piece of conversation text. Values are created
// by the caller and never mutated by the clients.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool-result message.
func NewToolMessage(content string) Message {
	return Message{Role: RoleTool, Content: content}
}

// =============================================================================
// DOMAIN RESULTS
// =============================================================================

// ChatResponse is the complete answer to a non-streaming chat request.
type ChatResponse struct {
	Content    string
	Model      string
	DoneReason string

	// Usage metadata reported by the server.
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration
}

// TokensPerSecond calculates the generation speed from the usage metadata.
func (r *ChatResponse) TokensPerSecond() float64 {
	if r.EvalDuration == 0 {
		return 0
	}
	return float64(r.CompletionTokens) / r.EvalDuration.Seconds()
}

// StreamChunk is one incremental fragment of a streamed chat response.
type StreamChunk struct {
	Content string
	Done    bool
	Model   string

	// Populated on the final chunk only.
	DoneReason       string
	PromptTokens     int
	CompletionTokens int

	// Err is set instead of content when the channel adapter delivers a
	// failure. Recv-based consumers receive errors directly.
	Err error
}

// Vector is one embedding: an ordered sequence of floating-point numbers.
type Vector []float64

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatOptions carries model parameters for inference. Temperature is always
// serialized: 0 is a meaningful value, not an absent one.
type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatRequest is the request body for the /api/chat endpoint.
type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

// chatResponse is one /api/chat reply object: the whole body for a
// non-streaming call, one NDJSON line for a streaming one.
type chatResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"` // nanoseconds
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"` // nanoseconds
}

// embedRequest is the request body for the /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the reply from /api/embed: one vector per input, in
// input order.
type embedResponse struct {
	Model      string   `json:"model"`
	Embeddings []Vector `json:"embeddings"`
}

// serverError is the error body Ollama returns alongside non-2xx statuses.
type serverError struct {
	Error string `json:"error"`
}
