// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	internal_tool "github.com/rapidaai/tripvoice/internal/tool"
	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/rapidaai/tripvoice/pkg/utils"
)

// ToolCallStatus is the lifecycle of a model-issued function call.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"   // created, arguments still streaming
	ToolCallExecuting ToolCallStatus = "executing" // arguments parsed, handler running
	ToolCallCompleted ToolCallStatus = "completed" // handler resolved, result sent
	ToolCallFailed    ToolCallStatus = "failed"    // handler failed, error result sent
)

// ToolCallRecord tracks one in-flight function call. CallID is the join key
// between the call and its eventual result submission.
type ToolCallRecord struct {
	CallID    string
	Name      string
	Arguments string
	Status    ToolCallStatus

	resultSent bool
}

// Sender is the outbound half of the control channel.
type Sender interface {
	Send(event interface{}) error
}

// Hooks are the machine's outward notifications. All hooks are invoked
// outside the machine's lock; nil hooks are skipped.
type Hooks struct {
	// OnTranscript receives a fresh transcript snapshot after every mutation.
	OnTranscript func([]ConversationTurn)
	// OnNotice receives non-fatal remote errors (surfaced as transient UI notices).
	OnNotice func(*ErrorDetail)
	// OnFatal receives remote errors that make the session unusable; the
	// owner is expected to drive the session toward closing.
	OnFatal func(*ErrorDetail)
}

// fatalErrorCodes are remote error codes after which the channel/session is
// unusable. Everything else is a transient notice.
var fatalErrorCodes = map[string]struct{}{
	"session_expired":   {},
	"session_not_found": {},
}

// Machine consumes inbound control-channel events, assembles the transcript,
// tracks in-flight tool calls, and emits the outbound protocol events (tool
// configuration, tool results, response-continuation triggers).
//
// HandleRaw is driven by the transport's message callback, which delivers
// events strictly in arrival order; the machine never reorders. Tool handlers
// run on their own goroutines so the event flow is never blocked by tool I/O.
type Machine struct {
	mu       sync.Mutex
	logger   commons.Logger
	registry *internal_tool.Registry
	sender   Sender
	hooks    Hooks

	transcript *transcript
	calls      map[string]*ToolCallRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewMachine creates a machine bound to a tool registry and an outbound sender.
func NewMachine(logger commons.Logger, registry *internal_tool.Registry, sender Sender, hooks Hooks) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		logger:     logger,
		registry:   registry,
		sender:     sender,
		hooks:      hooks,
		transcript: newTranscript(time.Now),
		calls:      make(map[string]*ToolCallRecord),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SendSessionConfiguration emits the initial session.update carrying the
// behavioural instructions and the registry's tool definitions. Sent once,
// immediately after the control channel opens.
func (m *Machine) SendSessionConfiguration(cfg SessionConfig) error {
	if len(cfg.Tools) == 0 {
		cfg.Tools = m.registry.Definitions()
	}
	if cfg.ToolChoice == "" {
		cfg.ToolChoice = "auto"
	}
	if cfg.InputAudioTranscription == nil {
		cfg.InputAudioTranscription = &TranscriptionConfig{Model: "whisper-1"}
	}
	return m.sender.Send(SessionUpdateEvent{Type: EventTypeSessionUpdate, Session: cfg})
}

// HandleRaw parses and dispatches one inbound control-channel message.
// Unparseable payloads are logged and dropped; the session continues.
func (m *Machine) HandleRaw(data []byte) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		m.logger.Warnw("dropping malformed control-channel event",
			"error", err, "payload", utils.Truncate(string(data), 256))
		return
	}
	m.Handle(ev)
}

// Handle dispatches one decoded inbound event.
func (m *Machine) Handle(ev ServerEvent) {
	var (
		snapshot []ConversationTurn
		dispatch *toolDispatch
		notice   *ErrorDetail
		fatal    *ErrorDetail
	)

	m.mu.Lock()
	switch ev.Type {
	case EventTypeSessionCreated, EventTypeSessionUpdated:
		m.logger.Debugw("session configuration acknowledged", "event", ev.Type)

	case EventTypeInputSpeechStarted:
		m.transcript.openUserTurn(ev.ItemID)
		snapshot = m.transcript.snapshot()

	case EventTypeInputTranscriptionDelta:
		m.transcript.appendUser(ev.ItemID, ev.Delta)
		snapshot = m.transcript.snapshot()

	case EventTypeInputTranscriptionCompleted:
		m.transcript.finalizeUser(ev.Transcript)
		snapshot = m.transcript.snapshot()

	case EventTypeResponseTextDelta, EventTypeResponseAudioTranscriptDelta:
		m.transcript.appendAssistant(ev.Delta)
		snapshot = m.transcript.snapshot()

	case EventTypeResponseTextDone, EventTypeResponseAudioTranscriptDone:
		// The turn stays open until the output item / response completes.

	case EventTypeResponseOutputItemAdded:
		if ev.Item != nil && ev.Item.Type == "function_call" {
			m.ensureCallLocked(ev.Item.CallID, ev.Item.Name)
		}

	case EventTypeResponseOutputItemDone:
		if ev.Item == nil || ev.Item.Type != "function_call" {
			m.transcript.finalizeAssistant()
			snapshot = m.transcript.snapshot()
		}

	case EventTypeResponseDone:
		m.transcript.finalizeAssistant()
		snapshot = m.transcript.snapshot()

	case EventTypeFunctionCallArgumentsDelta:
		rec := m.ensureCallLocked(ev.CallID, ev.Name)
		rec.Arguments += ev.Delta

	case EventTypeFunctionCallArgumentsDone:
		dispatch = m.beginExecutionLocked(ev)

	case EventTypeError:
		detail := ev.Error
		if detail == nil {
			detail = &ErrorDetail{Message: "remote error with no detail"}
		}
		if _, isFatal := fatalErrorCodes[detail.Code]; isFatal {
			fatal = detail
		} else {
			notice = detail
		}

	default:
		m.logger.Debugw("ignoring unrecognized event type", "event", ev.Type)
	}
	m.mu.Unlock()

	if snapshot != nil && m.hooks.OnTranscript != nil {
		m.hooks.OnTranscript(snapshot)
	}
	if notice != nil {
		m.logger.Warnw("remote protocol error", "code", notice.Code, "message", notice.Message)
		if m.hooks.OnNotice != nil {
			m.hooks.OnNotice(notice)
		}
	}
	if fatal != nil {
		m.logger.Errorw("remote session error, closing", "code", fatal.Code, "message", fatal.Message)
		if m.hooks.OnFatal != nil {
			m.hooks.OnFatal(fatal)
		}
	}
	if dispatch != nil {
		m.wg.Add(1)
		go m.runToolCall(dispatch)
	}
}

// ensureCallLocked returns the record for callID, synthesizing one when no
// prior started event was seen (the channel may have dropped it; arguments
// are then whatever arrives from here on).
func (m *Machine) ensureCallLocked(callID, name string) *ToolCallRecord {
	if rec, ok := m.calls[callID]; ok {
		if rec.Name == "" && name != "" {
			rec.Name = name
		}
		return rec
	}
	rec := &ToolCallRecord{CallID: callID, Name: name, Status: ToolCallPending}
	m.calls[callID] = rec
	return rec
}

type toolDispatch struct {
	callID string
	name   string
	params utils.Option
}

// beginExecutionLocked finalizes a call's argument buffer and prepares the
// handler dispatch. Duplicate arguments-done events for the same call are
// ignored; a call executes at most once.
func (m *Machine) beginExecutionLocked(ev ServerEvent) *toolDispatch {
	rec := m.ensureCallLocked(ev.CallID, ev.Name)
	if rec.Status != ToolCallPending {
		m.logger.Warnw("duplicate arguments-done for call, ignoring", "callId", ev.CallID)
		return nil
	}

	buffer := rec.Arguments
	if buffer == "" && ev.Arguments != "" {
		buffer = ev.Arguments
		rec.Arguments = ev.Arguments
	}

	params := utils.Option{}
	if buffer != "" {
		if err := json.Unmarshal([]byte(buffer), &params); err != nil {
			// Unparseable arguments degrade to an empty object; the handler
			// is expected to respond with a "missing parameter" result.
			m.logger.Warnw("unparseable tool arguments, treating as empty",
				"callId", rec.CallID, "tool", rec.Name, "error", err)
			params = utils.Option{}
		}
	}

	rec.Status = ToolCallExecuting
	return &toolDispatch{callID: rec.CallID, name: rec.Name, params: params}
}

// runToolCall executes one tool handler off the event loop and submits its
// result. Handler errors and panics become structured error payloads sent
// back to the model; they are never fatal to the session.
func (m *Machine) runToolCall(d *toolDispatch) {
	defer m.wg.Done()

	result, status := m.executeTool(d)
	m.submitResult(d.callID, result, status)
}

func (m *Machine) executeTool(d *toolDispatch) (result interface{}, status ToolCallStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("tool handler panicked", "tool", d.name, "panic", r)
			result = errorResult("The requested action failed unexpectedly. Please try again.")
			status = ToolCallFailed
		}
	}()

	out, err := m.registry.Invoke(m.ctx, d.name, d.params)
	if err != nil {
		m.logger.Warnw("tool invocation failed", "tool", d.name, "error", err)
		return errorResult("The requested action is not available right now."), ToolCallFailed
	}
	return out, ToolCallCompleted
}

// errorResult is the user-safe fallback payload sent to the model in place of
// a real tool result, so it can speak a graceful failure instead of stalling.
func errorResult(message string) map[string]interface{} {
	return map[string]interface{}{
		"error":   true,
		"message": message,
	}
}

// submitResult sends the function_call_output for callID followed by a
// response-continuation trigger. Exactly one submission happens per callID.
func (m *Machine) submitResult(callID string, result interface{}, status ToolCallStatus) {
	m.mu.Lock()
	rec, ok := m.calls[callID]
	if !ok || rec.resultSent {
		m.mu.Unlock()
		return
	}
	rec.resultSent = true
	rec.Status = status
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}

	output, err := json.Marshal(result)
	if err != nil {
		m.logger.Errorw("tool result not serializable, sending fallback", "callId", callID, "error", err)
		output = []byte(utils.MustJSON(errorResult("The action produced an unreadable result.")))
	}

	if err := m.sender.Send(NewFunctionCallOutput(callID, string(output))); err != nil {
		m.logger.Warnw("failed to send tool result", "callId", callID, "error", err)
		return
	}
	if err := m.sender.Send(NewResponseCreate()); err != nil {
		m.logger.Warnw("failed to send response continuation", "callId", callID, "error", err)
	}
}

// Transcript returns a snapshot of the conversation so far.
func (m *Machine) Transcript() []ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript.snapshot()
}

// CallRecord returns a copy of the record for callID.
func (m *Machine) CallRecord(callID string) (ToolCallRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	if !ok {
		return ToolCallRecord{}, false
	}
	return *rec, true
}

// Close stops accepting tool results and cancels in-flight handler contexts.
// The transcript remains readable after close.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

// WaitToolCalls blocks until all in-flight tool handlers have finished.
// Used by tests and by graceful shutdown paths.
func (m *Machine) WaitToolCalls() {
	m.wg.Wait()
}
