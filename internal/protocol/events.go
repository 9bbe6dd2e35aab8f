package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies realtime wire payload variants. The names follow the
// realtime API event vocabulary; all three transports converge on them.
type EventType string

const (
	// Outbound (client -> service).
	TypeSessionUpdate          EventType = "session.update"
	TypeInputAudioAppend       EventType = "input_audio_buffer.append"
	TypeConversationItemCreate EventType = "conversation.item.create"
	TypeResponseCreate         EventType = "response.create"

	// Inbound (service -> client).
	TypeSessionCreated          EventType = "session.created"
	TypeSessionUpdated          EventType = "session.updated"
	TypeAudioDelta              EventType = "response.audio.delta"
	TypeOutputAudioDelta        EventType = "response.output_audio.delta"
	TypeSpeechStarted           EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped           EventType = "input_audio_buffer.speech_stopped"
	TypeItemCreated             EventType = "conversation.item.created"
	TypeItemAdded               EventType = "conversation.item.added"
	TypeArgumentsDone           EventType = "response.function_call_arguments.done"
	TypeAudioTranscriptDone     EventType = "response.audio_transcript.done"
	TypeOutputTranscriptDone    EventType = "response.output_audio_transcript.done"
	TypeInputTranscriptDone     EventType = "conversation.item.input_audio_transcription.completed"
	TypeResponseDone            EventType = "response.done"
	TypeError                   EventType = "error"
	TypeSessionError            EventType = "session.error"
)

var ErrInvalidEvent = errors.New("invalid protocol event")

// Item is a conversation item: a message, a function call, or a function
// call output. Unused fields stay empty depending on Type.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Content   []ItemContent `json:"content,omitempty"`
}

type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Tool mirrors the realtime function-tool schema; the definition payload is
// passed through opaque so the engine never interprets parameter schemas.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// SessionConfig is the payload of an outbound session.update.
type SessionConfig struct {
	Model             string   `json:"model,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Modalities        []string `json:"modalities,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
	ToolChoice        string   `json:"tool_choice,omitempty"`
}

// ClientEvent is an outbound control message. Exactly one of the optional
// payload fields is populated depending on Type.
type ClientEvent struct {
	Type    EventType      `json:"type"`
	EventID string         `json:"event_id,omitempty"`
	Session *SessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
	Item    *Item          `json:"item,omitempty"`
}

func SessionUpdate(cfg SessionConfig) ClientEvent {
	return ClientEvent{Type: TypeSessionUpdate, Session: &cfg}
}

func AudioAppend(audioBase64 string) ClientEvent {
	return ClientEvent{Type: TypeInputAudioAppend, Audio: audioBase64}
}

func UserText(text string) ClientEvent {
	return ClientEvent{Type: TypeConversationItemCreate, Item: &Item{
		Type:    ItemTypeMessage,
		Role:    "user",
		Content: []ItemContent{{Type: "input_text", Text: text}},
	}}
}

func FunctionCallOutput(callID, output string) ClientEvent {
	return ClientEvent{Type: TypeConversationItemCreate, Item: &Item{
		Type:   ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: output,
	}}
}

func ResponseCreate() ClientEvent {
	return ClientEvent{Type: TypeResponseCreate}
}

func (e ClientEvent) Encode() ([]byte, error) {
	if e.Type == "" {
		return nil, ErrInvalidEvent
	}
	return json.Marshal(e)
}

// Response is the payload carried by response.done, including the full
// output item list (which may contain function calls).
type Response struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Output []Item `json:"output,omitempty"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerEvent is one decoded inbound message. Fields beyond Type are filled
// only when the wire payload carries them.
type ServerEvent struct {
	Type           EventType    `json:"type"`
	EventID        string       `json:"event_id,omitempty"`
	ItemID         string       `json:"item_id,omitempty"`
	PreviousItemID string       `json:"previous_item_id,omitempty"`
	ResponseID     string       `json:"response_id,omitempty"`
	CallID         string       `json:"call_id,omitempty"`
	Name           string       `json:"name,omitempty"`
	Arguments      string       `json:"arguments,omitempty"`
	Delta          string       `json:"delta,omitempty"`
	Transcript     string       `json:"transcript,omitempty"`
	Item           *Item        `json:"item,omitempty"`
	Response       *Response    `json:"response,omitempty"`
	Error          *ErrorDetail `json:"error,omitempty"`
}

// ParseServerEvent decodes one inbound wire message. A payload without a
// type is malformed; callers drop it and keep the session alive.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return ServerEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if evt.Type == "" {
		return ServerEvent{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return evt, nil
}

// Kind collapses wire-level event aliases into the engine's uniform
// vocabulary. Transports differ in which alias they emit; the session loop
// switches on Kind only.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionReady
	KindAudioDelta
	KindSpeechStarted
	KindTranscriptDone
	KindInputTranscriptDone
	KindFunctionCallAnnounced
	KindFunctionCallArguments
	KindResponseDone
	KindError
)

func (e ServerEvent) Kind() Kind {
	switch e.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		return KindSessionReady
	case TypeAudioDelta, TypeOutputAudioDelta:
		return KindAudioDelta
	case TypeSpeechStarted:
		return KindSpeechStarted
	case TypeAudioTranscriptDone, TypeOutputTranscriptDone:
		return KindTranscriptDone
	case TypeInputTranscriptDone:
		return KindInputTranscriptDone
	case TypeItemCreated, TypeItemAdded:
		if e.Item != nil && e.Item.Type == ItemTypeFunctionCall {
			return KindFunctionCallAnnounced
		}
		return KindUnknown
	case TypeArgumentsDone:
		return KindFunctionCallArguments
	case TypeResponseDone:
		return KindResponseDone
	case TypeError, TypeSessionError:
		return KindError
	default:
		return KindUnknown
	}
}
