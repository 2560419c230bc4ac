// Package anthropic defines the public messages-API wire types shared by the
// proxy edge and the provider adapters. Fields that the public API allows as
// string-or-object-or-list are normalized into canonical block lists while
// unmarshaling, so downstream translation never sees the raw variants.
package anthropic

import "encoding/json"

// Content block type constants.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Request is the body of POST /v1/messages.
type Request struct {
	Model         string            `json:"model,omitempty"`
	Messages      []Message         `json:"messages"`
	System        SystemPrompt      `json:"system,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	Thinking      json.RawMessage   `json:"thinking,omitempty"`
	ToolChoice    json.RawMessage   `json:"tool_choice,omitempty"`
	Tools         []json.RawMessage `json:"tools,omitempty"`
	TopK          *int              `json:"top_k,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Response is the unary body of POST /v1/messages.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Usage carries token accounting as reported by a provider.
type Usage struct {
	InputTokens              int64  `json:"input_tokens"`
	OutputTokens             int64  `json:"output_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}
