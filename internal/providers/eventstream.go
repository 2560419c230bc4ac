package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/rs/zerolog"

	"github.com/planbridge/planbridge/internal/anthropic"
)

// Event-stream frame header names.
const (
	headerMessageType   = ":message-type"
	headerEventType     = ":event-type"
	headerExceptionType = ":exception-type"
	headerErrorCode     = ":error-code"
	headerErrorMessage  = ":error-message"
)

// Frame :message-type values.
const (
	messageTypeEvent     = "event"
	messageTypeException = "exception"
	messageTypeError     = "error"
)

// converseStream turns the binary Converse event stream into messages-API
// server-sent events. It is an io.ReadCloser: Read decodes upstream frames
// on demand and hands back `data: <json>\n\n` chunks.
//
// The translation is a small state machine. message_start is emitted once,
// on the first messageStart frame. stopReason and usage arrive in separate
// frames (messageStop, then metadata, in either order); the closing
// message_delta and message_stop are emitted once both are known, or at end
// of stream. Unmapped frame variants are dropped, never raised.
type converseStream struct {
	body       io.ReadCloser
	decoder    *eventstream.Decoder
	payloadBuf []byte
	logger     zerolog.Logger

	model     string
	messageID string

	buf  bytes.Buffer
	done bool

	started    bool
	stopped    bool
	stopReason *string
	usage      *converseUsage
	usageEmpty bool

	finalUsage *anthropic.Usage
}

func newConverseStream(body io.ReadCloser, model, messageID string, logger zerolog.Logger) *converseStream {
	return &converseStream{
		body:       body,
		decoder:    eventstream.NewDecoder(),
		payloadBuf: make([]byte, 0, 64<<10),
		logger:     logger,
		model:      model,
		messageID:  messageID,
	}
}

func (s *converseStream) Read(p []byte) (int, error) {
	for s.buf.Len() == 0 && !s.done {
		s.pump()
	}
	if s.buf.Len() > 0 {
		return s.buf.Read(p)
	}
	return 0, io.EOF
}

func (s *converseStream) Close() error {
	return s.body.Close()
}

// FinalUsage returns the token usage reported by the metadata frame, or nil
// if the stream ended without one. Valid once Read has returned io.EOF.
func (s *converseStream) FinalUsage() *anthropic.Usage {
	return s.finalUsage
}

// pump decodes one upstream frame and appends any resulting events to the
// output buffer.
func (s *converseStream) pump() {
	msg, err := s.decoder.Decode(s.body, s.payloadBuf)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Warn().Err(err).Msg("event stream decode failed")
			s.emitError(KindNetworkError, "stream interrupted")
			s.done = true
			return
		}
		s.finish()
		s.done = true
		return
	}

	messageType := msg.Headers.Get(headerMessageType)
	if messageType == nil {
		return
	}
	switch messageType.String() {
	case messageTypeEvent:
		eventType := msg.Headers.Get(headerEventType)
		if eventType == nil {
			return
		}
		s.handleEvent(eventType.String(), msg.Payload)
	case messageTypeException:
		name := ""
		if h := msg.Headers.Get(headerExceptionType); h != nil {
			name = h.String()
		}
		s.handleException(name, msg.Payload)
	case messageTypeError:
		code, message := "", ""
		if h := msg.Headers.Get(headerErrorCode); h != nil {
			code = h.String()
		}
		if h := msg.Headers.Get(headerErrorMessage); h != nil {
			message = h.String()
		}
		s.logger.Warn().Str("error_code", code).Msg("event stream error frame")
		if message == "" {
			message = "stream interrupted"
		}
		s.emitError(KindBedrockUnavailable, message)
		s.done = true
	}
}

func (s *converseStream) handleEvent(eventType string, payload []byte) {
	switch eventType {
	case "messageStart":
		if s.started {
			return
		}
		s.started = true
		s.emit(sseMessageStart{
			Type: "message_start",
			Message: sseMessage{
				ID:      s.messageID,
				Type:    "message",
				Role:    "assistant",
				Content: []any{},
				Model:   s.model,
				Usage:   sseStartUsage{},
			},
		})

	case "contentBlockStart":
		var ev struct {
			ContentBlockIndex int `json:"contentBlockIndex"`
			Start             struct {
				Text    *string `json:"text"`
				ToolUse *struct {
					ToolUseID string `json:"toolUseId"`
					Name      string `json:"name"`
				} `json:"toolUse"`
			} `json:"start"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		switch {
		case ev.Start.Text != nil:
			s.emit(sseBlockStart{
				Type:         "content_block_start",
				Index:        ev.ContentBlockIndex,
				ContentBlock: sseTextBlock{Type: "text"},
			})
		case ev.Start.ToolUse != nil:
			s.emit(sseBlockStart{
				Type:  "content_block_start",
				Index: ev.ContentBlockIndex,
				ContentBlock: sseToolUseBlock{
					Type:  "tool_use",
					ID:    ev.Start.ToolUse.ToolUseID,
					Name:  ev.Start.ToolUse.Name,
					Input: emptyJSONObject,
				},
			})
		}

	case "contentBlockDelta":
		var ev struct {
			ContentBlockIndex int `json:"contentBlockIndex"`
			Delta             struct {
				Text    *string `json:"text"`
				ToolUse *struct {
					Input string `json:"input"`
				} `json:"toolUse"`
			} `json:"delta"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		switch {
		case ev.Delta.Text != nil:
			s.emit(sseBlockDelta{
				Type:  "content_block_delta",
				Index: ev.ContentBlockIndex,
				Delta: sseTextDelta{Type: "text_delta", Text: *ev.Delta.Text},
			})
		case ev.Delta.ToolUse != nil:
			s.emit(sseBlockDelta{
				Type:  "content_block_delta",
				Index: ev.ContentBlockIndex,
				Delta: sseInputJSONDelta{Type: "input_json_delta", PartialJSON: ev.Delta.ToolUse.Input},
			})
		}

	case "contentBlockStop":
		var ev struct {
			ContentBlockIndex int `json:"contentBlockIndex"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		s.emit(sseBlockStop{Type: "content_block_stop", Index: ev.ContentBlockIndex})

	case "messageStop":
		var ev struct {
			StopReason *string `json:"stopReason"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		s.stopReason = ev.StopReason
		if s.usage != nil {
			s.flushMessageDelta()
			s.emit(sseMessageStop{Type: "message_stop"})
			s.stopped = true
		}

	case "metadata":
		var ev struct {
			Usage json.RawMessage `json:"usage"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		usage := &converseUsage{}
		s.usageEmpty = true
		if fields := decodeObjectFields(ev.Usage); len(fields) > 0 {
			s.usageEmpty = false
			if err := json.Unmarshal(ev.Usage, usage); err != nil {
				return
			}
		}
		s.usage = usage
		if !s.usageEmpty {
			s.finalUsage = usage.toAnthropic()
		}
		if s.stopReason != nil {
			s.flushMessageDelta()
			s.emit(sseMessageStop{Type: "message_stop"})
			s.stopped = true
		}
	}
}

func (s *converseStream) handleException(name string, payload []byte) {
	kind := classifyBedrockException(name)
	message := upstreamExceptionMessage(payload)
	s.logger.Warn().Str("exception", name).Str("kind", string(kind)).Msg("event stream exception")
	s.emitError(kind, message)
	s.done = true
}

// finish runs the end-of-stream emissions: a trailing message_delta when
// stopReason or usage is still pending, and message_stop when a started
// message was never closed.
func (s *converseStream) finish() {
	s.flushMessageDelta()
	if s.started && !s.stopped {
		s.emit(sseMessageStop{Type: "message_stop"})
	}
}

func (s *converseStream) flushMessageDelta() {
	if s.stopReason == nil && (s.usage == nil || s.usageEmpty) {
		return
	}
	usage := s.usage
	if usage == nil {
		usage = &converseUsage{}
	}
	s.emit(sseMessageDelta{
		Type:  "message_delta",
		Delta: sseDelta{StopReason: s.stopReason},
		Usage: sseDeltaUsage{
			OutputTokens:             usage.OutputTokens,
			CacheReadInputTokens:     usage.CacheReadInputTokens,
			CacheCreationInputTokens: usage.CacheCreationInputTokens,
		},
	})
	s.stopReason = nil
	s.usage = nil
	s.usageEmpty = false
}

func (s *converseStream) emit(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.buf.WriteString("data: ")
	s.buf.Write(data)
	s.buf.WriteString("\n\n")
}

func (s *converseStream) emitError(kind ErrorKind, message string) {
	s.emit(sseError{
		Type:  "error",
		Error: sseErrorBody{Type: kind.PublicType(), Message: message},
	})
}

func decodeObjectFields(raw json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// Wire shapes of the emitted server-sent events.

type sseMessageStart struct {
	Type    string     `json:"type"`
	Message sseMessage `json:"message"`
}

type sseMessage struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Content      []any         `json:"content"`
	Model        string        `json:"model"`
	StopReason   *string       `json:"stop_reason"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        sseStartUsage `json:"usage"`
}

type sseStartUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type sseBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

type sseTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sseToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type sseBlockDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

type sseTextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sseInputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type sseBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type sseMessageDelta struct {
	Type  string        `json:"type"`
	Delta sseDelta      `json:"delta"`
	Usage sseDeltaUsage `json:"usage"`
}

type sseDelta struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type sseDeltaUsage struct {
	OutputTokens             int64  `json:"output_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens"`
}

type sseMessageStop struct {
	Type string `json:"type"`
}

type sseError struct {
	Type  string       `json:"type"`
	Error sseErrorBody `json:"error"`
}

type sseErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
