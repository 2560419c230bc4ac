package providers

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/planbridge/planbridge/internal/anthropic"
)

// defaultMaxTokens fills in maxTokens when the client omitted it; the
// Converse API rejects requests without one.
const defaultMaxTokens = 4096

// requestMetadata limits imposed by the Converse API.
const (
	metadataMaxEntries  = 16
	metadataMaxKeyLen   = 256
	metadataMaxValueLen = 256
)

var emptyJSONObject = json.RawMessage(`{}`)

// converseRequest is the Converse API request body. Thinking configuration
// has no Converse equivalent and is dropped.
type converseRequest struct {
	Messages        []converseMessage   `json:"messages"`
	System          []converseTextBlock `json:"system,omitempty"`
	InferenceConfig *inferenceConfig    `json:"inferenceConfig,omitempty"`
	ToolConfig      *toolConfig         `json:"toolConfig,omitempty"`
	RequestMetadata map[string]string   `json:"requestMetadata,omitempty"`
}

type converseMessage struct {
	Role    string          `json:"role"`
	Content []converseBlock `json:"content"`
}

// converseBlock is the tagged-union content block of the Converse API.
// Exactly one field is set per block.
type converseBlock struct {
	Text       *string             `json:"text,omitempty"`
	ToolUse    *converseToolUse    `json:"toolUse,omitempty"`
	ToolResult *converseToolResult `json:"toolResult,omitempty"`
}

type converseTextBlock struct {
	Text string `json:"text"`
}

type converseToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

type converseToolResult struct {
	ToolUseID string          `json:"toolUseId"`
	Content   []converseBlock `json:"content"`
	Status    string          `json:"status"`
}

type inferenceConfig struct {
	MaxTokens     int      `json:"maxTokens"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	TopK          *int     `json:"topK,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type toolConfig struct {
	Tools      []json.RawMessage `json:"tools"`
	ToolChoice json.RawMessage   `json:"toolChoice,omitempty"`
}

type converseToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema toolInputSchema `json:"inputSchema"`
}

type toolInputSchema struct {
	JSON json.RawMessage `json:"json"`
}

// buildConverseRequest translates a messages-API request into the Converse
// request body.
func buildConverseRequest(req *anthropic.Request) ([]byte, error) {
	out := converseRequest{
		Messages: lo.Map(req.Messages, func(msg anthropic.Message, _ int) converseMessage {
			return converseMessage{
				Role:    msg.Role,
				Content: translateBlocks(msg.Content.Blocks),
			}
		}),
		InferenceConfig: buildInferenceConfig(req),
		ToolConfig:      buildToolConfig(req.Tools, req.ToolChoice),
		RequestMetadata: buildRequestMetadata(req.Metadata),
	}
	if len(req.System.Blocks) > 0 {
		out.System = lo.Map(req.System.Blocks, func(block anthropic.TextBlock, _ int) converseTextBlock {
			return converseTextBlock{Text: block.Text}
		})
	}
	return json.Marshal(out)
}

func translateBlocks(blocks []anthropic.ContentBlock) []converseBlock {
	return lo.Map(blocks, func(block anthropic.ContentBlock, _ int) converseBlock {
		return translateBlock(block)
	})
}

func translateBlock(block anthropic.ContentBlock) converseBlock {
	switch block.Type {
	case anthropic.BlockToolUse:
		return converseBlock{ToolUse: &converseToolUse{
			ToolUseID: block.ID,
			Name:      block.Name,
			Input:     rawOrEmptyObject(block.Input),
		}}
	case anthropic.BlockToolResult:
		result := &converseToolResult{
			ToolUseID: block.ToolUseID,
			Content:   []converseBlock{},
			Status:    toolResultStatus(block.IsError),
		}
		if block.Content != nil {
			result.Content = translateBlocks(block.Content.Blocks)
		}
		return converseBlock{ToolResult: result}
	default:
		text := block.Text
		return converseBlock{Text: &text}
	}
}

func toolResultStatus(isError bool) string {
	if isError {
		return "error"
	}
	return "success"
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return emptyJSONObject
	}
	return raw
}

func buildInferenceConfig(req *anthropic.Request) *inferenceConfig {
	cfg := &inferenceConfig{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	return cfg
}

// buildToolConfig translates tool definitions. Native toolSpec entries pass
// through untouched; OpenAI-style function tools and messages-API tools are
// rewritten into toolSpec form.
func buildToolConfig(tools []json.RawMessage, choice json.RawMessage) *toolConfig {
	if len(tools) == 0 {
		return nil
	}
	cfg := &toolConfig{Tools: make([]json.RawMessage, 0, len(tools))}
	for _, tool := range tools {
		cfg.Tools = append(cfg.Tools, translateTool(tool))
	}
	cfg.ToolChoice = normalizeToolChoice(choice)
	return cfg
}

func translateTool(tool json.RawMessage) json.RawMessage {
	parsed := gjson.ParseBytes(tool)
	if spec := parsed.Get("toolSpec"); spec.Exists() {
		// Rebuilt rather than passed through so sibling keys are shed.
		out, err := sjson.SetRawBytes([]byte(`{}`), "toolSpec", []byte(spec.Raw))
		if err != nil {
			return tool
		}
		return out
	}

	spec := converseToolSpec{}
	if parsed.Get("type").String() == "function" && parsed.Get("function").Exists() {
		fn := parsed.Get("function")
		spec.Name = fn.Get("name").String()
		if spec.Name == "" {
			spec.Name = parsed.Get("name").String()
		}
		spec.Description = fn.Get("description").String()
		spec.InputSchema = toolInputSchema{JSON: rawResult(fn.Get("parameters"))}
	} else {
		spec.Name = parsed.Get("name").String()
		spec.Description = parsed.Get("description").String()
		spec.InputSchema = toolInputSchema{JSON: rawResult(parsed.Get("input_schema"))}
	}

	out, err := json.Marshal(struct {
		ToolSpec converseToolSpec `json:"toolSpec"`
	}{spec})
	if err != nil {
		return tool
	}
	return out
}

func rawResult(res gjson.Result) json.RawMessage {
	if !res.Exists() || res.Raw == "" {
		return emptyJSONObject
	}
	return json.RawMessage(res.Raw)
}

// normalizeToolChoice maps the messages-API and OpenAI tool_choice forms
// onto the Converse union. Unrecognized forms are dropped rather than
// rejected.
func normalizeToolChoice(choice json.RawMessage) json.RawMessage {
	if len(choice) == 0 {
		return nil
	}
	parsed := gjson.ParseBytes(choice)

	name := ""
	switch {
	case parsed.Type == gjson.String:
		switch parsed.String() {
		case "auto":
			return json.RawMessage(`{"auto":{}}`)
		case "any", "required":
			return json.RawMessage(`{"any":{}}`)
		}
		return nil
	case parsed.IsObject():
		switch parsed.Get("type").String() {
		case "auto":
			return json.RawMessage(`{"auto":{}}`)
		case "any", "required":
			return json.RawMessage(`{"any":{}}`)
		case "tool":
			name = parsed.Get("name").String()
		}
		if name == "" {
			for _, key := range []string{"tool", "function"} {
				if inner := parsed.Get(key); inner.IsObject() {
					if n := inner.Get("name").String(); n != "" {
						name = n
						break
					}
				}
			}
		}
	}
	if name == "" {
		return nil
	}
	out, err := json.Marshal(map[string]map[string]string{"tool": {"name": name}})
	if err != nil {
		return nil
	}
	return out
}

// buildRequestMetadata keeps only string-to-string entries within the
// Converse size limits, capped at sixteen entries. Keys are applied in
// sorted order so the surviving subset is deterministic.
func buildRequestMetadata(metadata map[string]any) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	cleaned := make(map[string]string)
	for _, key := range keys {
		if len(cleaned) >= metadataMaxEntries {
			break
		}
		value, ok := metadata[key].(string)
		if !ok {
			continue
		}
		if len(key) < 1 || len(key) > metadataMaxKeyLen || len(value) > metadataMaxValueLen {
			continue
		}
		cleaned[key] = value
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// converseResponse is the unary Converse API response body.
type converseResponse struct {
	ID     string `json:"id"`
	Output struct {
		Message struct {
			Content []converseOutBlock `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string         `json:"stopReason"`
	Usage      *converseUsage `json:"usage"`
}

// converseOutBlock mirrors converseBlock for decoding; pointer fields
// distinguish absent from empty.
type converseOutBlock struct {
	Text    *string `json:"text"`
	ToolUse *struct {
		ToolUseID string          `json:"toolUseId"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
	} `json:"toolUse"`
	ToolResult *struct {
		ToolUseID string `json:"toolUseId"`
		Content   []struct {
			Text *string `json:"text"`
		} `json:"content"`
		Status string `json:"status"`
	} `json:"toolResult"`
}

type converseUsage struct {
	InputTokens              int64  `json:"inputTokens"`
	OutputTokens             int64  `json:"outputTokens"`
	CacheReadInputTokens     *int64 `json:"cacheReadInputTokens"`
	CacheCreationInputTokens *int64 `json:"cacheCreationInputTokens"`
}

func (u *converseUsage) toAnthropic() *anthropic.Usage {
	if u == nil {
		return &anthropic.Usage{}
	}
	return &anthropic.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
	}
}

// parseConverseResponse translates a unary Converse response into the
// messages-API response shape. The model echoed back is the one the client
// asked for, not the Converse model identifier.
func parseConverseResponse(body []byte, model string) (*anthropic.Response, *anthropic.Usage, error) {
	var parsed converseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decoding converse response: %w", err)
	}

	id := parsed.ID
	if id == "" {
		id = synthesizeMessageID(body)
	}

	usage := parsed.Usage.toAnthropic()
	resp := &anthropic.Response{
		ID:      id,
		Type:    "message",
		Role:    "assistant",
		Content: normalizeOutputContent(parsed.Output.Message.Content),
		Model:   model,
		Usage:   usage,
	}
	if parsed.StopReason != "" {
		resp.StopReason = &parsed.StopReason
	}
	return resp, usage, nil
}

func normalizeOutputContent(blocks []converseOutBlock) []anthropic.ContentBlock {
	out := make([]anthropic.ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		switch {
		case block.Text != nil:
			out = append(out, anthropic.ContentBlock{Type: anthropic.BlockText, Text: *block.Text})
		case block.ToolUse != nil:
			out = append(out, anthropic.ContentBlock{
				Type:  anthropic.BlockToolUse,
				ID:    block.ToolUse.ToolUseID,
				Name:  block.ToolUse.Name,
				Input: rawOrEmptyObject(block.ToolUse.Input),
			})
		case block.ToolResult != nil:
			nested := make([]anthropic.ContentBlock, 0, len(block.ToolResult.Content))
			for _, item := range block.ToolResult.Content {
				if item.Text != nil {
					nested = append(nested, anthropic.ContentBlock{Type: anthropic.BlockText, Text: *item.Text})
				}
			}
			out = append(out, anthropic.ContentBlock{
				Type:      anthropic.BlockToolResult,
				ToolUseID: block.ToolResult.ToolUseID,
				Content:   &anthropic.Content{Blocks: nested},
				IsError:   block.ToolResult.Status == "error",
			})
		}
	}
	return out
}

// synthesizeMessageID derives a stable message id from the response body,
// for Converse responses that carry no id of their own.
func synthesizeMessageID(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("msg_%x", sum[:8])
}
