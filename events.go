package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/bt-bridge/realtime-voice/functions"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types
const (
	ServerEventTypeError                              ServerEventType = "error"
	ServerEventTypeSessionCreated                     ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                     ServerEventType = "session.updated"
	ServerEventTypeConversationItemCreated            ServerEventType = "conversation.item.created"
	ServerEventTypeResponseCreated                    ServerEventType = "response.created"
	ServerEventTypeResponseDone                       ServerEventType = "response.done"
	ServerEventTypeResponseOutputItemAdded            ServerEventType = "response.output_item.added"
	ServerEventTypeResponseOutputItemDone             ServerEventType = "response.output_item.done"
	ServerEventTypeResponseContentPartAdded           ServerEventType = "response.content_part.added"
	ServerEventTypeResponseContentPartDone            ServerEventType = "response.content_part.done"
	ServerEventTypeResponseTextDelta                  ServerEventType = "response.text.delta"
	ServerEventTypeResponseTextDone                   ServerEventType = "response.text.done"
	ServerEventTypeResponseAudioTranscriptDelta       ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone        ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseAudioDelta                 ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                  ServerEventType = "response.audio.done"
	ServerEventTypeResponseFunctionCallArgumentsDelta ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseFunctionCallArgumentsDone  ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeRateLimitsUpdated                  ServerEventType = "rate_limits.updated"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
)

// Conversation item and content types
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCallOutput = "function_call_output"
	ContentTypeInputAudio      = "input_audio"
	RoleUser                   = "user"
	RoleSystem                 = "system"
	ToolChoiceAuto             = "auto"
)

var DefaultModalities = []string{"text", "audio"}

// ClientEvent is anything the session sends.
type ClientEvent interface {
	EventType() EventType
}

type InputAudioContent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type MessageItem struct {
	Type    string              `json:"type"`
	Role    string              `json:"role"`
	Content []InputAudioContent `json:"content"`
}

type FunctionCallOutputItem struct {
	Type   string `json:"type"`
	Role   string `json:"role"`
	CallId string `json:"call_id,omitempty"`
	Output any    `json:"output"`
}

type ConversationItemCreateEvent struct {
	Type ClientEventType `json:"type"`
	Item any             `json:"item"`
}

func (e *ConversationItemCreateEvent) EventType() EventType {
	return EventType(e.Type)
}

type ResponseConfig struct {
	Modalities   []string               `json:"modalities"`
	Instructions string                 `json:"instructions"`
	Tools        []functions.Descriptor `json:"tools"`
	ToolChoice   string                 `json:"tool_choice"`
}

// ResponseCreateEvent with a nil Response is the bare continuation request.
type ResponseCreateEvent struct {
	Type     ClientEventType `json:"type"`
	Response *ResponseConfig `json:"response,omitempty"`
}

func (e *ResponseCreateEvent) EventType() EventType {
	return EventType(e.Type)
}

// NewAudioTurnEvent wraps a base64 PCM16 blob as one user message.
func NewAudioTurnEvent(audio string) *ConversationItemCreateEvent {
	return &ConversationItemCreateEvent{
		Type: ClientEventTypeConversationItemCreate,
		Item: &MessageItem{
			Type: ItemTypeMessage,
			Role: RoleUser,
			Content: []InputAudioContent{
				{Type: ContentTypeInputAudio, Audio: audio},
			},
		},
	}
}

// NewFunctionCallOutputEvent reports a tool result. Non-finite floats
// have no JSON number form and are sent as strings ("NaN", "+Inf").
func NewFunctionCallOutputEvent(callId string, output any) *ConversationItemCreateEvent {
	return &ConversationItemCreateEvent{
		Type: ClientEventTypeConversationItemCreate,
		Item: &FunctionCallOutputItem{
			Type:   ItemTypeFunctionCallOutput,
			Role:   RoleSystem,
			CallId: callId,
			Output: jsonSafe(output),
		},
	}
}

func jsonSafe(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
	}
	return v
}

func NewResponseCreateEvent(cfg *ResponseConfig) *ResponseCreateEvent {
	if cfg != nil && cfg.Tools == nil {
		cfg.Tools = []functions.Descriptor{}
	}
	return &ResponseCreateEvent{
		Type:     ClientEventTypeResponseCreate,
		Response: cfg,
	}
}

// ServerEvent is one inbound message. Param is nil for types the
// session does not consume.
type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

func (e *ServerEvent) EventType() EventType {
	return EventType(e.Type)
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	resp := map[string]any{}
	if e.Param != nil {
		for k, v := range e.Param.Json() {
			resp[k] = v
		}
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeResponseAudioDelta:
		e.Param = new(ServerEventParamResponseAudioDelta)
	case ServerEventTypeResponseAudioDone:
		e.Param = new(ServerEventParamResponseAudioDone)
	case ServerEventTypeResponseFunctionCallArgumentsDone:
		e.Param = new(ServerEventParamResponseFunctionCallArgumentsDone)
	default:
		e.Param = nil
		return nil
	}
	return e.Param.New(raw)
}

// ParseServerEvent decodes one inbound frame.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	event := new(ServerEvent)
	if err := event.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrMalformedProtocol, err)
	}
	return event, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// error
type ServerEventParamError struct {
	Type    string
	Code    string
	Message string
	EventId string
	Param   any
}

func (p *ServerEventParamError) New(m map[string]any) error {
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		return errors.New("missing error")
	}
	if v, ok := errObj["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing error.message")
	}
	// The rest is informational and often absent.
	p.Type, _ = errObj["type"].(string)
	p.Code, _ = errObj["code"].(string)
	p.EventId, _ = errObj["event_id"].(string)
	p.Param = errObj["param"]
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":     p.Type,
			"code":     p.Code,
			"message":  p.Message,
			"event_id": p.EventId,
			"param":    p.Param,
		},
	}
}

// response.audio.delta
type ServerEventParamResponseAudioDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

func (p *ServerEventParamResponseAudioDelta) New(m map[string]any) error {
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	p.ResponseId, _ = m["response_id"].(string)
	p.ItemId, _ = m["item_id"].(string)
	p.OutputIndex, _ = asInt(m["output_index"])
	p.ContentIndex, _ = asInt(m["content_index"])
	return nil
}

func (p *ServerEventParamResponseAudioDelta) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

// response.audio.done
type ServerEventParamResponseAudioDone struct {
	ResponseId string
	ItemId     string
}

func (p *ServerEventParamResponseAudioDone) New(m map[string]any) error {
	p.ResponseId, _ = m["response_id"].(string)
	p.ItemId, _ = m["item_id"].(string)
	return nil
}

func (p *ServerEventParamResponseAudioDone) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
	}
}

// response.function_call_arguments.done
type ServerEventParamResponseFunctionCallArgumentsDone struct {
	ResponseId string
	ItemId     string
	CallId     string
	Name       string
	Arguments  string
}

func (p *ServerEventParamResponseFunctionCallArgumentsDone) New(m map[string]any) error {
	if v, ok := m["name"].(string); ok && v != "" {
		p.Name = v
	} else {
		return errors.New("missing name")
	}
	if v, ok := m["arguments"].(string); ok {
		p.Arguments = v
	} else {
		return errors.New("missing arguments")
	}
	p.ResponseId, _ = m["response_id"].(string)
	p.ItemId, _ = m["item_id"].(string)
	p.CallId, _ = m["call_id"].(string)
	return nil
}

func (p *ServerEventParamResponseFunctionCallArgumentsDone) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"call_id":     p.CallId,
		"name":        p.Name,
		"arguments":   p.Arguments,
	}
}
