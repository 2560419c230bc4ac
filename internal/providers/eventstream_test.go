package providers

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidwall/gjson"
)

type frame struct {
	messageType   string
	eventType     string
	exceptionType string
	payload       string
}

func encodeFrames(t *testing.T, frames []frame) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	enc := eventstream.NewEncoder()
	for _, f := range frames {
		msg := eventstream.Message{Payload: []byte(f.payload)}
		msg.Headers.Set(headerMessageType, eventstream.StringValue(f.messageType))
		if f.eventType != "" {
			msg.Headers.Set(headerEventType, eventstream.StringValue(f.eventType))
		}
		if f.exceptionType != "" {
			msg.Headers.Set(headerExceptionType, eventstream.StringValue(f.exceptionType))
		}
		require.NoError(t, enc.Encode(buf, msg))
	}
	return buf
}

func event(messageType, eventType, payload string) frame {
	return frame{messageType: messageType, eventType: eventType, payload: payload}
}

// readSSE drains the stream and returns the decoded `data:` payloads.
func readSSE(t *testing.T, r io.Reader) []gjson.Result {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)

	var out []gjson.Result
	for _, chunk := range strings.Split(string(raw), "\n\n") {
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "chunk %q lacks data prefix", chunk)
		payload := strings.TrimPrefix(chunk, "data: ")
		require.True(t, json.Valid([]byte(payload)))
		out = append(out, gjson.Parse(payload))
	}
	return out
}

func eventTypes(results []gjson.Result) []string {
	types := make([]string, 0, len(results))
	for _, r := range results {
		types = append(types, r.Get("type").String())
	}
	return types
}

func newTestStream(t *testing.T, frames []frame) *converseStream {
	t.Helper()
	body := io.NopCloser(encodeFrames(t, frames))
	return newConverseStream(body, "claude-sonnet-4", "msg_test", zerolog.Nop())
}

func TestConverseStreamFullConversation(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"Hel"}}`),
		event(messageTypeEvent, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"lo"}}`),
		event(messageTypeEvent, "contentBlockStop", `{"contentBlockIndex":0}`),
		event(messageTypeEvent, "messageStop", `{"stopReason":"end_turn"}`),
		event(messageTypeEvent, "metadata", `{"usage":{"inputTokens":3,"outputTokens":7,"cacheReadInputTokens":2}}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{
		"message_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventTypes(events))

	start := events[0]
	assert.Equal(t, "msg_test", start.Get("message.id").String())
	assert.Equal(t, "message", start.Get("message.type").String())
	assert.Equal(t, "assistant", start.Get("message.role").String())
	assert.Equal(t, "claude-sonnet-4", start.Get("message.model").String())
	assert.True(t, start.Get("message.content").IsArray())
	assert.Empty(t, start.Get("message.content").Array())
	assert.Equal(t, int64(0), start.Get("message.usage.input_tokens").Int())
	assert.True(t, start.Get("message.stop_reason").Type == gjson.Null)

	assert.Equal(t, "text_delta", events[1].Get("delta.type").String())
	assert.Equal(t, "Hel", events[1].Get("delta.text").String())
	assert.Equal(t, int64(0), events[1].Get("index").Int())

	delta := events[4]
	assert.Equal(t, "end_turn", delta.Get("delta.stop_reason").String())
	assert.True(t, delta.Get("delta.stop_sequence").Type == gjson.Null)
	assert.Equal(t, int64(7), delta.Get("usage.output_tokens").Int())
	assert.Equal(t, int64(2), delta.Get("usage.cache_read_input_tokens").Int())
	assert.True(t, delta.Get("usage.cache_creation_input_tokens").Type == gjson.Null)

	usage := stream.FinalUsage()
	require.NotNil(t, usage)
	assert.Equal(t, int64(3), usage.InputTokens)
	assert.Equal(t, int64(7), usage.OutputTokens)
}

func TestConverseStreamMetadataBeforeMessageStop(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "metadata", `{"usage":{"inputTokens":1,"outputTokens":2}}`),
		event(messageTypeEvent, "messageStop", `{"stopReason":"max_tokens"}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{"message_start", "message_delta", "message_stop"}, eventTypes(events))
	assert.Equal(t, "max_tokens", events[1].Get("delta.stop_reason").String())
	assert.Equal(t, int64(2), events[1].Get("usage.output_tokens").Int())
}

func TestConverseStreamRepeatedMessageStartSuppressed(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{"message_start", "message_stop"}, eventTypes(events))
}

func TestConverseStreamContentBlockStart(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "contentBlockStart", `{"contentBlockIndex":0,"start":{"text":""}}`),
		event(messageTypeEvent, "contentBlockStart", `{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"tu_1","name":"calc"}}}`),
		event(messageTypeEvent, "contentBlockStart", `{"contentBlockIndex":2,"start":{"mystery":{}}}`),
		event(messageTypeEvent, "contentBlockDelta", `{"contentBlockIndex":1,"delta":{"toolUse":{"input":"{\"x\":"}}}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_start",
		"content_block_delta",
		"message_stop",
	}, eventTypes(events))

	text := events[1]
	assert.Equal(t, "text", text.Get("content_block.type").String())
	assert.Equal(t, "", text.Get("content_block.text").String())

	tool := events[2]
	assert.Equal(t, int64(1), tool.Get("index").Int())
	assert.Equal(t, "tool_use", tool.Get("content_block.type").String())
	assert.Equal(t, "tu_1", tool.Get("content_block.id").String())
	assert.Equal(t, "calc", tool.Get("content_block.name").String())
	assert.True(t, tool.Get("content_block.input").IsObject())

	partial := events[3]
	assert.Equal(t, "input_json_delta", partial.Get("delta.type").String())
	assert.Equal(t, `{"x":`, partial.Get("delta.partial_json").String())
}

func TestConverseStreamEndWithoutStopFrames(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"partial"}}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{"message_start", "content_block_delta", "message_stop"}, eventTypes(events))
	assert.Nil(t, stream.FinalUsage())
}

func TestConverseStreamStopWithoutMetadata(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "messageStop", `{"stopReason":"end_turn"}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{"message_start", "message_delta", "message_stop"}, eventTypes(events))
	assert.Equal(t, "end_turn", events[1].Get("delta.stop_reason").String())
	assert.Equal(t, int64(0), events[1].Get("usage.output_tokens").Int())
	assert.Nil(t, stream.FinalUsage())
}

func TestConverseStreamException(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		{messageType: messageTypeException, exceptionType: "throttlingException", payload: `{"message":"Too many requests"}`},
		event(messageTypeEvent, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"never seen"}}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{"message_start", "error"}, eventTypes(events))
	assert.Equal(t, "rate_limit_error", events[1].Get("error.type").String())
	assert.Equal(t, "Too many requests", events[1].Get("error.message").String())
	assert.Nil(t, stream.FinalUsage())
}

func TestConverseStreamCorruptFrames(t *testing.T) {
	body := io.NopCloser(strings.NewReader("definitely not an event stream"))
	stream := newConverseStream(body, "m", "msg_x", zerolog.Nop())

	events := readSSE(t, stream)
	require.Equal(t, []string{"error"}, eventTypes(events))
	assert.Equal(t, "api_error", events[0].Get("error.type").String())
}

func TestConverseStreamIgnoresUnknownEvents(t *testing.T) {
	stream := newTestStream(t, []frame{
		event(messageTypeEvent, "ping", `{}`),
		event(messageTypeEvent, "messageStart", `{"role":"assistant"}`),
		event(messageTypeEvent, "somethingNew", `{"x":1}`),
	})

	events := readSSE(t, stream)
	require.Equal(t, []string{"message_start", "message_stop"}, eventTypes(events))
}
