package realtime

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/bt-bridge/realtime-voice/functions"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asMap re-reads marshalled output so tests do not depend on key order.
func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestParseServerEvent(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		typ   ServerEventType
		param EventParam
	}{
		{
			name:  "audio delta without ids",
			data:  `{"type":"response.audio.delta","delta":"AA=="}`,
			typ:   ServerEventTypeResponseAudioDelta,
			param: &ServerEventParamResponseAudioDelta{Delta: "AA=="},
		},
		{
			name: "audio delta with ids",
			data: `{"type":"response.audio.delta","event_id":"ev_1","response_id":"resp_1","item_id":"item_1","output_index":0,"content_index":2,"delta":"BB=="}`,
			typ:  ServerEventTypeResponseAudioDelta,
			param: &ServerEventParamResponseAudioDelta{
				ResponseId:   "resp_1",
				ItemId:       "item_1",
				ContentIndex: 2,
				Delta:        "BB==",
			},
		},
		{
			name:  "audio done",
			data:  `{"type":"response.audio.done"}`,
			typ:   ServerEventTypeResponseAudioDone,
			param: &ServerEventParamResponseAudioDone{},
		},
		{
			name: "function call arguments done",
			data: `{"type":"response.function_call_arguments.done","call_id":"call_9","name":"calculate_sum","arguments":"{\"a\":4,\"b\":6}"}`,
			typ:  ServerEventTypeResponseFunctionCallArgumentsDone,
			param: &ServerEventParamResponseFunctionCallArgumentsDone{
				CallId:    "call_9",
				Name:      "calculate_sum",
				Arguments: `{"a":4,"b":6}`,
			},
		},
		{
			name:  "error",
			data:  `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`,
			typ:   ServerEventTypeError,
			param: &ServerEventParamError{Type: "invalid_request_error", Code: "bad", Message: "nope"},
		},
		{
			name: "unconsumed type",
			data: `{"type":"response.audio_transcript.delta","delta":"hello"}`,
			typ:  ServerEventTypeResponseAudioTranscriptDelta,
		},
		{
			name: "unknown type",
			data: `{"type":"something.new","whatever":[1,2,3]}`,
			typ:  ServerEventType("something.new"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseServerEvent([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.typ, event.Type)
			if tt.param == nil {
				assert.Nil(t, event.Param)
				return
			}
			assert.Equal(t, tt.param, event.Param)
		})
	}
}

func TestParseServerEventMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{"type":`},
		{name: "not an object", data: `[1,2]`},
		{name: "null", data: `null`},
		{name: "missing type", data: `{"delta":"AA=="}`},
		{name: "non-string type", data: `{"type":7}`},
		{name: "delta missing", data: `{"type":"response.audio.delta"}`},
		{name: "delta not a string", data: `{"type":"response.audio.delta","delta":12}`},
		{name: "call name missing", data: `{"type":"response.function_call_arguments.done","arguments":"{}"}`},
		{name: "call arguments missing", data: `{"type":"response.function_call_arguments.done","name":"calculate_sum"}`},
		{name: "error body missing", data: `{"type":"error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServerEvent([]byte(tt.data))
			assert.ErrorIs(t, err, shared.ErrMalformedProtocol)
		})
	}
}

func TestServerEventRoundTrip(t *testing.T) {
	in := &ServerEvent{
		EventId: "ev_2",
		Type:    ServerEventTypeResponseFunctionCallArgumentsDone,
		Param: &ServerEventParamResponseFunctionCallArgumentsDone{
			CallId:    "call_1",
			Name:      functions.SumToolName,
			Arguments: `{"a":1,"b":2}`,
		},
	}
	data, err := in.MarshalJSON()
	require.NoError(t, err)
	out, err := ParseServerEvent(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = (&ServerEvent{}).MarshalJSON()
	assert.Error(t, err)
}

func TestAudioTurnEventShape(t *testing.T) {
	got := asMap(t, NewAudioTurnEvent("AAEC"))
	assert.Equal(t, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_audio", "audio": "AAEC"},
			},
		},
	}, got)
}

func TestFunctionCallOutputEventShape(t *testing.T) {
	t.Run("with call id", func(t *testing.T) {
		got := asMap(t, NewFunctionCallOutputEvent("call_1", 10.0))
		assert.Equal(t, map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"role":    "system",
				"call_id": "call_1",
				"output":  10.0,
			},
		}, got)
	})
	t.Run("zero output is kept", func(t *testing.T) {
		item := asMap(t, NewFunctionCallOutputEvent("", 0.0))["item"].(map[string]any)
		assert.Equal(t, 0.0, item["output"])
		assert.NotContains(t, item, "call_id")
	})
	t.Run("non-finite output", func(t *testing.T) {
		tests := map[string]float64{
			"NaN":  math.NaN(),
			"+Inf": math.Inf(1),
			"-Inf": math.Inf(-1),
		}
		for want, v := range tests {
			item := asMap(t, NewFunctionCallOutputEvent("", v))["item"].(map[string]any)
			assert.Equal(t, want, item["output"])
		}
	})
}

func TestResponseCreateEventShape(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "response.create"}, asMap(t, NewResponseCreateEvent(nil)))

	got := asMap(t, NewResponseCreateEvent(&ResponseConfig{
		Modalities:   DefaultModalities,
		Instructions: "Please assist the user.",
		Tools:        []functions.Descriptor{functions.SumDescriptor},
		ToolChoice:   ToolChoiceAuto,
	}))
	resp := got["response"].(map[string]any)
	assert.Equal(t, []any{"text", "audio"}, resp["modalities"])
	assert.Equal(t, "Please assist the user.", resp["instructions"])
	assert.Equal(t, "auto", resp["tool_choice"])
	tools := resp["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "function", tool["type"])
	assert.Equal(t, "calculate_sum", tool["name"])
	params := tool["parameters"].(map[string]any)
	assert.ElementsMatch(t, []any{"a", "b"}, params["required"])

	empty := asMap(t, NewResponseCreateEvent(&ResponseConfig{Modalities: DefaultModalities}))
	assert.Equal(t, []any{}, empty["response"].(map[string]any)["tools"])
}
