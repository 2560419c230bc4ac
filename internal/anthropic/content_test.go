package anthropic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbridge/planbridge/internal/anthropic"
)

func TestContentUnmarshalString(t *testing.T) {
	t.Parallel()

	var c anthropic.Content
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &c))

	require.Len(t, c.Blocks, 1)
	assert.Equal(t, anthropic.BlockText, c.Blocks[0].Type)
	assert.Equal(t, "hello", c.Blocks[0].Text)
}

func TestContentUnmarshalBlockList(t *testing.T) {
	t.Parallel()

	raw := `[
		{"type":"text","text":"look at this"},
		{"type":"tool_use","id":"tu_1","name":"get_weather","input":{"city":"Seoul"}},
		{"type":"tool_result","tool_use_id":"tu_1","content":"sunny","is_error":false}
	]`

	var c anthropic.Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c.Blocks, 3)

	assert.Equal(t, anthropic.BlockText, c.Blocks[0].Type)
	assert.Equal(t, anthropic.BlockToolUse, c.Blocks[1].Type)
	assert.Equal(t, "tu_1", c.Blocks[1].ID)
	assert.Equal(t, "get_weather", c.Blocks[1].Name)
	assert.JSONEq(t, `{"city":"Seoul"}`, string(c.Blocks[1].Input))

	result := c.Blocks[2]
	assert.Equal(t, anthropic.BlockToolResult, result.Type)
	assert.Equal(t, "tu_1", result.ToolUseID)
	require.NotNil(t, result.Content)
	require.Len(t, result.Content.Blocks, 1)
	assert.Equal(t, "sunny", result.Content.Blocks[0].Text)
}

func TestContentUnmarshalSingleBlock(t *testing.T) {
	t.Parallel()

	var c anthropic.Content
	require.NoError(t, json.Unmarshal([]byte(`{"type":"text","text":"solo"}`), &c))

	require.Len(t, c.Blocks, 1)
	assert.Equal(t, "solo", c.Blocks[0].Text)
}

func TestContentUnknownBlockDegradesToText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `[{"type":"image","source":{"data":"..."}}]`},
		{"no type no text", `[{"mystery":42}]`},
		{"bare number", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var c anthropic.Content
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &c))
			require.Len(t, c.Blocks, 1)
			assert.Equal(t, anthropic.BlockText, c.Blocks[0].Type)
			assert.NotEmpty(t, c.Blocks[0].Text)
		})
	}
}

func TestContentUntypedTextBlock(t *testing.T) {
	t.Parallel()

	var c anthropic.Content
	require.NoError(t, json.Unmarshal([]byte(`[{"text":"typeless"}]`), &c))

	require.Len(t, c.Blocks, 1)
	assert.Equal(t, anthropic.BlockText, c.Blocks[0].Type)
	assert.Equal(t, "typeless", c.Blocks[0].Text)
}

func TestContentMarshalCanonical(t *testing.T) {
	t.Parallel()

	var c anthropic.Content
	require.NoError(t, json.Unmarshal([]byte(`"hi"`), &c))

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"text","text":"hi"}]`, string(out))
}

func TestSystemPromptVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"string", `"be brief"`, []string{"be brief"}},
		{"block", `{"type":"text","text":"be kind"}`, []string{"be kind"}},
		{"list", `[{"type":"text","text":"a"},"b"]`, []string{"a", "b"}},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var s anthropic.SystemPrompt
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &s))
			require.Len(t, s.Blocks, len(tt.want))
			for i, text := range tt.want {
				assert.Equal(t, text, s.Blocks[i].Text)
			}
		})
	}
}

func TestRequestDecode(t *testing.T) {
	t.Parallel()

	raw := `{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1024,
		"system": "stay focused",
		"messages": [{"role":"user","content":"ping"}],
		"temperature": 0.5,
		"top_k": 40,
		"stream": true,
		"stop_sequences": ["END"],
		"metadata": {"team":"infra"},
		"tools": [{"name":"lookup","input_schema":{"type":"object"}}],
		"tool_choice": "auto"
	}`

	var req anthropic.Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	assert.Equal(t, "claude-sonnet-4-5", req.Model)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.True(t, req.Stream)
	require.NotNil(t, req.Temperature)
	assert.InEpsilon(t, 0.5, *req.Temperature, 1e-9)
	require.NotNil(t, req.TopK)
	assert.Equal(t, 40, *req.TopK)
	assert.Equal(t, []string{"END"}, req.StopSequences)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "ping", req.Messages[0].Content.Blocks[0].Text)
	assert.False(t, req.System.IsEmpty())
	require.Len(t, req.Tools, 1)
	assert.JSONEq(t, `"auto"`, string(req.ToolChoice))
}

func TestUsageTotal(t *testing.T) {
	t.Parallel()

	u := anthropic.Usage{InputTokens: 10, OutputTokens: 20}
	assert.Equal(t, int64(30), u.Total())
}
