package anthropic

import (
	"bytes"
	"encoding/json"
)

// Content normalizes the string | block | list-of-blocks variants the public
// API accepts for message content into a flat block list.
type Content struct {
	Blocks []ContentBlock
}

// UnmarshalJSON accepts a bare string, a single block object, or an array of
// blocks. Anything else is stringified into a single text block, matching the
// permissive intake of the public API.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		c.Blocks = nil
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		c.Blocks = []ContentBlock{{Type: BlockText, Text: s}}
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		c.Blocks = blocks
	case '{':
		var block ContentBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return err
		}
		c.Blocks = []ContentBlock{block}
	default:
		c.Blocks = []ContentBlock{{Type: BlockText, Text: string(data)}}
	}
	return nil
}

// MarshalJSON always emits the canonical array form.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// ContentBlock is one canonical block of message content. Unknown block
// shapes degrade to text blocks carrying their raw JSON, so no input is
// rejected at parse time.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *Content        `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// UnmarshalJSON accepts a bare string or a block object.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = ContentBlock{Type: BlockText, Text: s}
		return nil
	}

	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		*b = ContentBlock{Type: BlockText, Text: string(data)}
		return nil
	}

	switch a.Type {
	case BlockText, BlockToolUse, BlockToolResult:
		*b = ContentBlock(a)
	case "":
		if a.Text != "" {
			*b = ContentBlock{Type: BlockText, Text: a.Text}
			return nil
		}
		*b = ContentBlock{Type: BlockText, Text: string(data)}
	default:
		*b = ContentBlock{Type: BlockText, Text: string(data)}
	}
	return nil
}

// SystemPrompt normalizes the string | block | list variants of the `system`
// field into a list of plain text blocks.
type SystemPrompt struct {
	Blocks []TextBlock
}

// TextBlock is a system prompt segment.
type TextBlock struct {
	Text string `json:"text"`
}

// UnmarshalJSON accepts a bare string, a text block object, or a list of
// either; anything unrecognized is stringified.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		s.Blocks = nil
		return nil
	}

	switch data[0] {
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s.Blocks = []TextBlock{{Text: str}}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		blocks := make([]TextBlock, 0, len(items))
		for _, item := range items {
			blocks = append(blocks, normalizeSystemBlock(item))
		}
		s.Blocks = blocks
	case '{':
		s.Blocks = []TextBlock{normalizeSystemBlock(data)}
	default:
		s.Blocks = []TextBlock{{Text: string(data)}}
	}
	return nil
}

// MarshalJSON always emits the canonical array form.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Blocks)
}

// IsEmpty reports whether the prompt carries no blocks.
func (s SystemPrompt) IsEmpty() bool {
	return len(s.Blocks) == 0
}

func normalizeSystemBlock(data []byte) TextBlock {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err == nil {
			return TextBlock{Text: str}
		}
	}

	var probe struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Text != nil {
		return TextBlock{Text: *probe.Text}
	}
	return TextBlock{Text: string(data)}
}
