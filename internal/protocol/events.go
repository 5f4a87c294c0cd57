// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_protocol

import (
	internal_tool "github.com/rapidaai/tripvoice/internal/tool"
)

// Client → server event types.
const (
	EventTypeSessionUpdate          = "session.update"
	EventTypeConversationItemCreate = "conversation.item.create"
	EventTypeResponseCreate         = "response.create"
)

// Server → client event types. Anything not listed here is ignored for
// forward compatibility.
const (
	EventTypeError          = "error"
	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeInputSpeechStarted          = "input_audio_buffer.speech_started"
	EventTypeInputTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"

	EventTypeResponseTextDelta            = "response.text.delta"
	EventTypeResponseTextDone             = "response.text.done"
	EventTypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventTypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
	EventTypeResponseOutputItemAdded      = "response.output_item.added"
	EventTypeResponseOutputItemDone       = "response.output_item.done"
	EventTypeResponseDone                 = "response.done"

	EventTypeFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	EventTypeFunctionCallArgumentsDone  = "response.function_call_arguments.done"
)

// ServerEvent is the inbound envelope: a superset of the fields the handled
// event types carry, discriminated by Type. Fields irrelevant to a given type
// simply stay zero.
type ServerEvent struct {
	Type       string            `json:"type"`
	EventID    string            `json:"event_id,omitempty"`
	ItemID     string            `json:"item_id,omitempty"`
	Delta      string            `json:"delta,omitempty"`
	Text       string            `json:"text,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Arguments  string            `json:"arguments,omitempty"`
	Item       *ConversationItem `json:"item,omitempty"`
	Response   *Response         `json:"response,omitempty"`
	Error      *ErrorDetail      `json:"error,omitempty"`
}

// ConversationItem is the protocol's conversation element: a message, a
// function call, or a function call output.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Role      string        `json:"role,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

// ContentPart is one piece of a message item's content.
type ContentPart struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Response is the model's response object carried by response.* events.
type Response struct {
	ID     string             `json:"id,omitempty"`
	Status string             `json:"status,omitempty"`
	Output []ConversationItem `json:"output,omitempty"`
}

// ErrorDetail carries an explicit error event from the remote side.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// SessionUpdateEvent is the initial tool/session configuration, sent once
// immediately after the control channel opens.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the negotiable session shape: behavioural instructions,
// modalities, voice, and the tool definitions the model may call.
type SessionConfig struct {
	Modalities              []string                   `json:"modalities,omitempty"`
	Instructions            string                     `json:"instructions,omitempty"`
	Voice                   string                     `json:"voice,omitempty"`
	Tools                   []internal_tool.Definition `json:"tools,omitempty"`
	ToolChoice              string                     `json:"tool_choice,omitempty"`
	InputAudioTranscription *TranscriptionConfig       `json:"input_audio_transcription,omitempty"`
}

// TranscriptionConfig enables server-side transcription of user speech.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// ConversationItemCreateEvent submits a tool result keyed by call_id.
type ConversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// NewFunctionCallOutput builds the tool-result submission for a call.
// Output must be the JSON-stringified handler result.
func NewFunctionCallOutput(callID, output string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		Type: EventTypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreateEvent prompts the model to continue after a tool result.
type ResponseCreateEvent struct {
	Type string `json:"type"`
}

// NewResponseCreate builds a response-continuation trigger.
func NewResponseCreate() ResponseCreateEvent {
	return ResponseCreateEvent{Type: EventTypeResponseCreate}
}
