// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/tripvoice/config"
	internal_audio_capture "github.com/rapidaai/tripvoice/internal/audio/capture"
	internal_audio_level "github.com/rapidaai/tripvoice/internal/audio/level"
	internal_protocol "github.com/rapidaai/tripvoice/internal/protocol"
	internal_signaling "github.com/rapidaai/tripvoice/internal/signaling"
	internal_token "github.com/rapidaai/tripvoice/internal/token"
	internal_tool "github.com/rapidaai/tripvoice/internal/tool"
	internal_transport "github.com/rapidaai/tripvoice/internal/transport"
	"github.com/rapidaai/tripvoice/pkg/commons"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseNegotiating Phase = "negotiating"
	PhaseActive      Phase = "active"
	PhaseClosing     Phase = "closing"
	PhaseError       Phase = "error"
)

// Callbacks are the orchestrator's push-model notifications. All callbacks
// are invoked from orchestrator or component goroutines, never while the
// orchestrator's lock is held. Nil callbacks are skipped.
type Callbacks struct {
	OnTranscript func(turns []internal_protocol.ConversationTurn)
	OnVolume     func(level float64)
	OnPhase      func(phase Phase)
	// OnNotice receives non-fatal mid-session problems worth surfacing to the
	// user (remote protocol errors, transient transport hiccups).
	OnNotice func(err error)
}

// Options wires the orchestrator's collaborators. Signaling, Minter, and
// NewTransport have production defaults applied by NewOrchestrator; tests
// inject fakes.
type Options struct {
	Logger   commons.Logger
	Registry *internal_tool.Registry
	Session  config.SessionConfig

	Signaling    internal_signaling.Client
	Minter       internal_token.Minter
	NewTransport func() (internal_transport.Transport, error)

	Callbacks Callbacks
}

// Orchestrator is the public-facing session controller: it mints an ephemeral
// token, runs the SDP negotiation, wires the transport into the protocol
// machine and the level meter, and exposes the live transcript, volume, and
// phase to the caller. At most one session is active per orchestrator.
type Orchestrator struct {
	logger    commons.Logger
	registry  *internal_tool.Registry
	session   config.SessionConfig
	signaling internal_signaling.Client
	minter    internal_token.Minter
	callbacks Callbacks

	newTransport func() (internal_transport.Transport, error)
	now          func() time.Time

	mu sync.Mutex
	// generation invalidates async continuations from superseded sessions: it
	// is bumped by every Start and Stop, and every deferred step re-checks it
	// before touching shared state.
	generation uint64
	phase      Phase

	transport internal_transport.Transport
	machine   *internal_protocol.Machine
	meter     *internal_audio_level.Meter

	// transcript is the latest snapshot pushed by the protocol machine. It is
	// retained after Stop so the conversation stays visible after hang-up.
	transcript []internal_protocol.ConversationTurn
}

// NewOrchestrator builds an orchestrator with production defaults for any
// collaborator not supplied in opts.
func NewOrchestrator(appConfig *config.AppConfig, opts Options) (*Orchestrator, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("orchestrator requires a logger")
	}
	if opts.Registry == nil {
		opts.Registry = internal_tool.NewRegistry(opts.Logger)
	}
	if opts.Signaling == nil {
		opts.Signaling = internal_signaling.NewClient(opts.Logger, appConfig.RealtimeURL)
	}
	if opts.Minter == nil {
		opts.Minter = internal_token.NewMinter(opts.Logger, appConfig.SessionsURL, appConfig.ProviderKey)
	}
	if opts.NewTransport == nil {
		logger := opts.Logger
		opts.NewTransport = func() (internal_transport.Transport, error) {
			mic := internal_audio_capture.NewMicrophone(logger)
			return internal_transport.NewTransport(logger, mic)
		}
	}
	session := opts.Session
	if session.Model == "" {
		session = appConfig.Session
	}
	return &Orchestrator{
		logger:       opts.Logger,
		registry:     opts.Registry,
		session:      session,
		signaling:    opts.Signaling,
		minter:       opts.Minter,
		callbacks:    opts.Callbacks,
		newTransport: opts.NewTransport,
		now:          time.Now,
		phase:        PhaseIdle,
	}, nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start brings up a session: token mint, transport open, SDP negotiation,
// handshake completion. A Start while a session is negotiating, active, or
// closing is a no-op. Any failure runs full cleanup and leaves the phase at
// error with Start retryable.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.phase == PhaseNegotiating || o.phase == PhaseActive || o.phase == PhaseClosing {
		o.mu.Unlock()
		o.logger.Debugw("start ignored, session already in progress", "phase", o.phase)
		return nil
	}
	o.generation++
	gen := o.generation
	o.phase = PhaseNegotiating
	o.transcript = nil
	o.mu.Unlock()
	o.emitPhase(PhaseNegotiating)

	instructions, err := RenderInstructions(o.session.Instructions, o.session.Voice, o.session.Language, o.now())
	if err != nil {
		return o.failStart(gen, err)
	}

	grant, err := o.minter.Mint(ctx, internal_token.MintOptions{
		Model:        o.session.Model,
		Voice:        o.session.Voice,
		Instructions: instructions,
		ToolChoice:   o.session.ToolChoice,
	})
	if err != nil {
		return o.failStart(gen, fmt.Errorf("failed to mint session token: %w", err))
	}

	transport, err := o.newTransport()
	if err != nil {
		return o.failStart(gen, err)
	}

	machine := internal_protocol.NewMachine(o.logger, o.registry, transport, internal_protocol.Hooks{
		OnTranscript: func(turns []internal_protocol.ConversationTurn) { o.pushTranscript(gen, turns) },
		OnNotice: func(detail *internal_protocol.ErrorDetail) {
			o.notify(fmt.Errorf("remote error %s: %s", detail.Code, detail.Message))
		},
		OnFatal: func(detail *internal_protocol.ErrorDetail) {
			o.fail(gen, fmt.Errorf("session terminated by remote: %s", detail.Message))
		},
	})
	meter := internal_audio_level.NewMeter(o.logger)

	// Publish the session components before any blocking step so a Stop
	// during negotiation can tear them down.
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		machine.Close()
		_ = transport.Close()
		return nil
	}
	o.transport = transport
	o.machine = machine
	o.meter = meter
	o.mu.Unlock()

	transport.OnMessage(machine.HandleRaw)
	transport.OnRemoteAudio(meter.Push)
	transport.OnError(func(err error) { o.fail(gen, err) })
	transport.OnOpen(func() { o.activate(gen, instructions) })

	offer, err := transport.Open(ctx)
	if err != nil {
		return o.failStart(gen, err)
	}

	answer, err := o.signaling.Negotiate(ctx, offer, grant.Token, internal_signaling.ModelParams{Model: grant.Model})
	if err != nil {
		return o.failStart(gen, err)
	}

	// A Stop may have superseded this start while negotiation was in flight;
	// the stale answer is discarded and cleanup has already happened.
	o.mu.Lock()
	stale := o.generation != gen
	o.mu.Unlock()
	if stale {
		o.logger.Infow("discarding negotiation answer for superseded session")
		return nil
	}

	if err := transport.CompleteHandshake(answer); err != nil {
		return o.failStart(gen, err)
	}
	return nil
}

// activate runs when the control channel opens: sends the initial session
// configuration (instructions + registered tools) and starts volume metering.
func (o *Orchestrator) activate(gen uint64, instructions string) {
	o.mu.Lock()
	if o.generation != gen || o.phase != PhaseNegotiating {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseActive
	machine := o.machine
	meter := o.meter
	o.mu.Unlock()

	if err := machine.SendSessionConfiguration(internal_protocol.SessionConfig{
		Modalities:   []string{"audio", "text"},
		Instructions: instructions,
		Voice:        o.session.Voice,
		ToolChoice:   o.session.ToolChoice,
	}); err != nil {
		o.fail(gen, fmt.Errorf("failed to send session configuration: %w", err))
		return
	}

	meter.Start(func(level float64) {
		if o.callbacks.OnVolume != nil {
			o.callbacks.OnVolume(level)
		}
	})
	o.logger.Infow("session active", "model", o.session.Model, "voice", o.session.Voice)
	o.emitPhase(PhaseActive)
}

// Stop tears the session down: transport closed, microphone released, meter
// zeroed synchronously, phase back to idle. Idempotent, and also clears a
// faulted session back to idle so a fresh Start can follow. The transcript
// is kept for display after hang-up.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.transport == nil && o.phase == PhaseIdle {
		o.mu.Unlock()
		return
	}
	o.generation++
	transport := o.transport
	machine := o.machine
	meter := o.meter
	o.transport = nil
	o.machine = nil
	o.meter = nil
	o.phase = PhaseClosing
	o.mu.Unlock()
	o.emitPhase(PhaseClosing)

	o.teardown(transport, machine, meter)

	o.mu.Lock()
	o.phase = PhaseIdle
	o.mu.Unlock()
	o.emitPhase(PhaseIdle)
}

// fail handles an async fatal fault (transport failure, remote session
// termination) for the given generation: full cleanup, phase error.
func (o *Orchestrator) fail(gen uint64, cause error) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.generation++
	transport := o.transport
	machine := o.machine
	meter := o.meter
	o.transport = nil
	o.machine = nil
	o.meter = nil
	o.phase = PhaseError
	o.mu.Unlock()

	o.logger.Errorw("session failed", "error", cause)
	o.teardown(transport, machine, meter)
	o.notify(cause)
	o.emitPhase(PhaseError)
}

// failStart is fail for synchronous Start steps; it returns the cause so
// Start propagates it to the caller. A start superseded by Stop is not an
// error: cleanup already ran and nil is returned.
func (o *Orchestrator) failStart(gen uint64, cause error) error {
	o.mu.Lock()
	superseded := o.generation != gen
	o.mu.Unlock()
	o.fail(gen, cause)
	if superseded {
		return nil
	}
	return cause
}

func (o *Orchestrator) teardown(transport internal_transport.Transport, machine *internal_protocol.Machine, meter *internal_audio_level.Meter) {
	if meter != nil {
		meter.Stop()
	}
	if machine != nil {
		machine.Close()
	}
	if transport != nil {
		_ = transport.Close()
	}
}

// ============================================================================
// Exposed state
// ============================================================================

// RegisterFunction registers (or overwrites) a tool handler. May be called
// before or during a session; mid-session registrations apply to subsequent
// calls only.
func (o *Orchestrator) RegisterFunction(def internal_tool.Definition, handler internal_tool.Handler) {
	o.registry.Register(def, handler)
}

// Transcript returns the latest conversation snapshot. It remains available
// after the session ends.
func (o *Orchestrator) Transcript() []internal_protocol.ConversationTurn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]internal_protocol.ConversationTurn, len(o.transcript))
	copy(out, o.transcript)
	return out
}

// Volume returns the current output level in [0,1]; 0 whenever no session is
// active.
func (o *Orchestrator) Volume() float64 {
	o.mu.Lock()
	meter := o.meter
	phase := o.phase
	o.mu.Unlock()
	if phase != PhaseActive || meter == nil {
		return 0
	}
	return meter.Level()
}

// Phase returns the current session phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// IsSessionActive reports whether a session is currently active.
func (o *Orchestrator) IsSessionActive() bool {
	return o.Phase() == PhaseActive
}

// ============================================================================
// Notification plumbing
// ============================================================================

func (o *Orchestrator) pushTranscript(gen uint64, turns []internal_protocol.ConversationTurn) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.transcript = turns
	o.mu.Unlock()
	if o.callbacks.OnTranscript != nil {
		o.callbacks.OnTranscript(turns)
	}
}

func (o *Orchestrator) emitPhase(phase Phase) {
	if o.callbacks.OnPhase != nil {
		o.callbacks.OnPhase(phase)
	}
}

func (o *Orchestrator) notify(err error) {
	if o.callbacks.OnNotice != nil {
		o.callbacks.OnNotice(err)
	}
}
