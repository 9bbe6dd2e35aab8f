package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseServerEventAudioDelta(t *testing.T) {
	raw := []byte(`{"type":"response.audio.delta","item_id":"item_1","delta":"AAAA"}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Kind() != KindAudioDelta {
		t.Fatalf("Kind() = %v, want KindAudioDelta", evt.Kind())
	}
	if evt.Delta != "AAAA" {
		t.Fatalf("Delta = %q, want %q", evt.Delta, "AAAA")
	}
}

func TestParseServerEventAliasesCollapse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"session created", `{"type":"session.created"}`, KindSessionReady},
		{"session updated", `{"type":"session.updated"}`, KindSessionReady},
		{"output audio delta", `{"type":"response.output_audio.delta","delta":"xx"}`, KindAudioDelta},
		{"speech started", `{"type":"input_audio_buffer.speech_started"}`, KindSpeechStarted},
		{"transcript done", `{"type":"response.audio_transcript.done","transcript":"hi"}`, KindTranscriptDone},
		{"output transcript done", `{"type":"response.output_audio_transcript.done","transcript":"hi"}`, KindTranscriptDone},
		{"input transcription", `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hey"}`, KindInputTranscriptDone},
		{"response done", `{"type":"response.done","response":{"output":[]}}`, KindResponseDone},
		{"error", `{"type":"error","error":{"message":"boom"}}`, KindError},
		{"session error", `{"type":"session.error","error":{"message":"boom"}}`, KindError},
		{"rate limits ignored", `{"type":"rate_limits.updated"}`, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := ParseServerEvent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseServerEvent() error = %v", err)
			}
			if evt.Kind() != tc.want {
				t.Fatalf("Kind() = %v, want %v", evt.Kind(), tc.want)
			}
		})
	}
}

func TestParseServerEventFunctionCallAnnouncement(t *testing.T) {
	raw := []byte(`{"type":"conversation.item.created","previous_item_id":"item_0","item":{"type":"function_call","call_id":"c1","name":"get_billing_info"}}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Kind() != KindFunctionCallAnnounced {
		t.Fatalf("Kind() = %v, want KindFunctionCallAnnounced", evt.Kind())
	}
	if evt.Item.CallID != "c1" || evt.Item.Name != "get_billing_info" {
		t.Fatalf("item = %+v, want call_id c1 / name get_billing_info", evt.Item)
	}
	if evt.PreviousItemID != "item_0" {
		t.Fatalf("PreviousItemID = %q, want %q", evt.PreviousItemID, "item_0")
	}
}

func TestParseServerEventNonFunctionItemIsIgnored(t *testing.T) {
	raw := []byte(`{"type":"conversation.item.created","item":{"type":"message","role":"assistant"}}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Kind() != KindUnknown {
		t.Fatalf("Kind() = %v, want KindUnknown for message items", evt.Kind())
	}
}

func TestParseServerEventMalformed(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{"type":`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("ParseServerEvent(truncated) error = %v, want ErrInvalidEvent", err)
	}
	if _, err := ParseServerEvent([]byte(`{"delta":"xx"}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("ParseServerEvent(no type) error = %v, want ErrInvalidEvent", err)
	}
}

func TestClientEventEncode(t *testing.T) {
	evt := SessionUpdate(SessionConfig{
		Model:             "gpt-realtime",
		Voice:             "verse",
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		ToolChoice:        "auto",
	})
	data, err := evt.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip unmarshal: %v", err)
	}
	if decoded["type"] != string(TypeSessionUpdate) {
		t.Fatalf("type = %v, want %s", decoded["type"], TypeSessionUpdate)
	}
	session, ok := decoded["session"].(map[string]any)
	if !ok {
		t.Fatalf("session payload missing: %v", decoded)
	}
	if session["voice"] != "verse" || session["model"] != "gpt-realtime" {
		t.Fatalf("session = %v, want voice verse / model gpt-realtime", session)
	}
	if _, present := decoded["audio"]; present {
		t.Fatalf("audio field should be omitted from session.update")
	}
}

func TestFunctionCallOutputEncode(t *testing.T) {
	data, err := FunctionCallOutput("c1", `{"status":"ok"}`).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var evt ClientEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Item == nil || evt.Item.Type != ItemTypeFunctionCallOutput {
		t.Fatalf("item = %+v, want function_call_output", evt.Item)
	}
	if evt.Item.CallID != "c1" || evt.Item.Output != `{"status":"ok"}` {
		t.Fatalf("item = %+v, want call_id c1 and output payload", evt.Item)
	}
}

func TestEncodeRejectsEmptyType(t *testing.T) {
	if _, err := (ClientEvent{}).Encode(); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Encode(empty) error = %v, want ErrInvalidEvent", err)
	}
}
