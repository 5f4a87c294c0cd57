// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	internal_audio "github.com/rapidaai/tripvoice/internal/audio"
	internal_audio_resampler "github.com/rapidaai/tripvoice/internal/audio/resampler"
	transport_internal "github.com/rapidaai/tripvoice/internal/transport/internal"
	"github.com/rapidaai/tripvoice/pkg/commons"
)

// State is the transport's connection lifecycle.
type State string

const (
	StateNew        State = "new"        // created, Open not yet called
	StateConnecting State = "connecting" // offer produced, waiting for handshake + ICE
	StateConnected  State = "connected"  // control channel open, media flowing
	StateClosed     State = "closed"     // torn down, terminal
)

// ErrChannelNotOpen is returned by Send when the control channel is not yet
// (or no longer) usable.
var ErrChannelNotOpen = errors.New("control channel not open")

// TransportError wraps failures of the peer connection or control channel
// that happen outside a direct method call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MicSource provides microphone PCM frames (16kHz mono s16le). Satisfied by
// the capture package's Microphone.
type MicSource interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
}

// Transport owns the peer connection, the outbound microphone track, and the
// control channel used for protocol events. Callbacks must be registered
// before Open; they are invoked from transport goroutines.
type Transport interface {
	// Open acquires the microphone, builds the peer connection with an opus
	// track and the control channel, and returns the complete local offer SDP
	// (ICE gathering finished, no trickle).
	Open(ctx context.Context) (offerSDP string, err error)

	// CompleteHandshake applies the remote answer SDP and lets the
	// connection proceed to connected.
	CompleteHandshake(answerSDP string) error

	// Send JSON-serializes event and writes it to the control channel.
	// Returns ErrChannelNotOpen before the channel is open or after close.
	Send(event interface{}) error

	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnRemoteAudio(fn func(pcm []byte))
	OnError(fn func(err error))

	State() State

	// Close tears down the peer connection and releases the microphone.
	// Idempotent.
	Close() error
}

type webrtcTransport struct {
	mu sync.Mutex

	logger commons.Logger
	config *transport_internal.Config
	mic    MicSource

	resampler internal_audio_resampler.Resampler
	encoder   *transport_internal.OpusCodec

	pc          *pionwebrtc.PeerConnection
	localTrack  *pionwebrtc.TrackLocalStaticSample
	controlChan *pionwebrtc.DataChannel

	state  State
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// micBuffer accumulates upsampled 48kHz PCM until complete 20ms Opus
	// frames can be cut and written to the local track.
	micBuffer     bytes.Buffer
	micBufferLock sync.Mutex

	onOpen        func()
	onMessage     func(data []byte)
	onRemoteAudio func(pcm []byte)
	onError       func(err error)
}

// NewTransport creates a transport bound to a microphone source. The
// transport owns its own context so teardown is never short-circuited by the
// caller's context being cancelled first.
func NewTransport(logger commons.Logger, mic MicSource) (Transport, error) {
	return newTransport(logger, mic, transport_internal.DefaultConfig())
}

func newTransport(logger commons.Logger, mic MicSource, config *transport_internal.Config) (Transport, error) {
	resampler, err := internal_audio_resampler.GetResampler(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	encoder, err := transport_internal.NewOpusCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to create opus codec: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &webrtcTransport{
		logger:    logger,
		config:    config,
		mic:       mic,
		resampler: resampler,
		encoder:   encoder,
		state:     StateNew,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (t *webrtcTransport) OnOpen(fn func())                  { t.onOpen = fn }
func (t *webrtcTransport) OnMessage(fn func(data []byte))    { t.onMessage = fn }
func (t *webrtcTransport) OnRemoteAudio(fn func(pcm []byte)) { t.onRemoteAudio = fn }
func (t *webrtcTransport) OnError(fn func(err error))        { t.onError = fn }

func (t *webrtcTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ============================================================================
// Open: peer connection, control channel, local offer
// ============================================================================

func (t *webrtcTransport) Open(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.state != StateNew {
		state := t.state
		t.mu.Unlock()
		return "", fmt.Errorf("transport open: invalid state %q", state)
	}
	t.state = StateConnecting
	t.mu.Unlock()

	if err := t.createPeerConnection(); err != nil {
		t.teardown()
		return "", err
	}

	// Acquire the microphone only after the peer connection is viable, so a
	// negotiation failure never leaves the device held.
	if err := t.mic.Start(t.handleMicFrame); err != nil {
		t.teardown()
		return "", err
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		t.teardown()
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	// The signaling endpoint expects a complete SDP, so wait for ICE
	// gathering instead of trickling candidates.
	gatherComplete := pionwebrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		t.teardown()
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		t.teardown()
		return "", ctx.Err()
	}

	local := t.pc.LocalDescription()
	if local == nil {
		t.teardown()
		return "", errors.New("no local description after ICE gathering")
	}
	return local.SDP, nil
}

func (t *webrtcTransport) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:    pionwebrtc.MimeTypeOpus,
			ClockRate:   transport_internal.OpusSampleRate,
			Channels:    transport_internal.OpusChannels,
			SDPFmtpLine: transport_internal.OpusSDPFmtpLine,
		},
		PayloadType: transport_internal.OpusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("failed to register Opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(
		pionwebrtc.WithMediaEngine(mediaEngine),
		pionwebrtc.WithInterceptorRegistry(registry),
	)

	iceServers := make([]pionwebrtc.ICEServer, len(t.config.ICEServers))
	for i, srv := range t.config.ICEServers {
		iceServers[i] = pionwebrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		}
	}

	pcConfig := pionwebrtc.Configuration{ICEServers: iceServers}
	if t.config.ICETransportPolicy == "relay" {
		pcConfig.ICETransportPolicy = pionwebrtc.ICETransportPolicyRelay
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	t.mu.Lock()
	t.pc = pc
	t.mu.Unlock()

	if err := t.createControlChannel(); err != nil {
		return err
	}
	if err := t.createLocalTrack(); err != nil {
		return err
	}
	t.setupPeerEventHandlers()
	return nil
}

func (t *webrtcTransport) createControlChannel() error {
	dc, err := t.pc.CreateDataChannel(transport_internal.ControlChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("failed to create control channel: %w", err)
	}

	dc.OnOpen(func() {
		t.mu.Lock()
		if t.state == StateConnecting {
			t.state = StateConnected
		}
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		t.logger.Infow("control channel open", "label", dc.Label())
		if t.onOpen != nil {
			t.onOpen()
		}
	})

	dc.OnMessage(func(msg pionwebrtc.DataChannelMessage) {
		if t.onMessage != nil {
			t.onMessage(msg.Data)
		}
	})

	dc.OnClose(func() {
		t.mu.Lock()
		wasConnected := t.state == StateConnected && !t.closed
		t.mu.Unlock()
		if wasConnected {
			t.reportError(&TransportError{Op: "control channel", Err: errors.New("closed by remote")})
		}
	})

	t.mu.Lock()
	t.controlChan = dc
	t.mu.Unlock()
	return nil
}

func (t *webrtcTransport) createLocalTrack() error {
	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: transport_internal.OpusSampleRate,
			Channels:  transport_internal.OpusChannels,
		},
		"audio",
		"tripvoice-mic",
	)
	if err != nil {
		return fmt.Errorf("failed to create local audio track: %w", err)
	}

	if _, err := t.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	t.mu.Lock()
	t.localTrack = track
	t.mu.Unlock()
	return nil
}

func (t *webrtcTransport) setupPeerEventHandlers() {
	t.pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		t.logger.Infow("peer connection state changed", "state", state)
		switch state {
		case pionwebrtc.PeerConnectionStateFailed:
			t.reportError(&TransportError{Op: "peer connection", Err: errors.New("connection failed")})
		case pionwebrtc.PeerConnectionStateDisconnected:
			t.logger.Warnw("peer disconnected, ICE may still recover")
		}
	})

	t.pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		t.logger.Infow("remote audio track received", "codec", track.Codec().MimeType)
		t.wg.Add(1)
		go t.readRemoteAudio(track)
	})
}

// ============================================================================
// Handshake and control channel
// ============================================================================

func (t *webrtcTransport) CompleteHandshake(answerSDP string) error {
	t.mu.Lock()
	pc := t.pc
	state := t.state
	t.mu.Unlock()

	if pc == nil || state != StateConnecting {
		return fmt.Errorf("complete handshake: invalid state %q", state)
	}
	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return &TransportError{Op: "set remote description", Err: err}
	}
	return nil
}

func (t *webrtcTransport) Send(event interface{}) error {
	t.mu.Lock()
	dc := t.controlChan
	closed := t.closed
	t.mu.Unlock()

	if closed || dc == nil || dc.ReadyState() != pionwebrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := dc.SendText(string(payload)); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// ============================================================================
// Outbound audio: mic 16kHz -> resample 48kHz -> opus -> track
// ============================================================================

// handleMicFrame runs on the capture callback. It upsamples to the track
// rate, accumulates into complete 20ms frames, and writes each frame as one
// opus sample.
func (t *webrtcTransport) handleMicFrame(pcm []byte) {
	up, err := t.resampler.Resample(pcm, internal_audio.CaptureConfig, internal_audio.WebRTCConfig)
	if err != nil {
		t.logger.Debugw("mic resample failed", "error", err)
		return
	}

	t.micBufferLock.Lock()
	t.micBuffer.Write(up)
	for t.micBuffer.Len() >= transport_internal.OpusFrameBytes {
		frame := make([]byte, transport_internal.OpusFrameBytes)
		t.micBuffer.Read(frame)
		t.micBufferLock.Unlock()
		t.writeAudioFrame(frame)
		t.micBufferLock.Lock()
	}
	t.micBufferLock.Unlock()
}

func (t *webrtcTransport) writeAudioFrame(pcmFrame []byte) {
	t.mu.Lock()
	track := t.localTrack
	t.mu.Unlock()
	if track == nil {
		return
	}

	encoded, err := t.encoder.Encode(pcmFrame)
	if err != nil {
		t.logger.Debugw("opus encode failed", "error", err)
		return
	}
	if err := track.WriteSample(media.Sample{
		Data:     encoded,
		Duration: transport_internal.OpusFrameDuration * time.Millisecond,
	}); err != nil {
		t.logger.Debugw("failed to write sample to track", "error", err)
	}
}

// ============================================================================
// Inbound audio: track -> opus decode -> 48kHz PCM -> callback
// ============================================================================

// readRemoteAudio reads RTP from the remote track, decodes Opus, and hands
// 48kHz mono PCM to the OnRemoteAudio callback (used for output level
// metering). A dedicated decoder is created per track since the codec
// instance is not concurrency-safe.
func (t *webrtcTransport) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	defer t.wg.Done()

	if track.Codec().MimeType != pionwebrtc.MimeTypeOpus {
		t.logger.Errorw("unsupported remote codec, only Opus is supported", "codec", track.Codec().MimeType)
		return
	}

	decoder, err := transport_internal.NewOpusCodec()
	if err != nil {
		t.logger.Errorw("failed to create opus decoder", "error", err)
		return
	}

	buf := make([]byte, transport_internal.RTPBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= transport_internal.MaxConsecutiveErrors {
				t.logger.Errorw("too many consecutive track read errors, stopping", "lastError", err)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("failed to unmarshal RTP packet", "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm, err := decoder.Decode(pkt.Payload)
		if err != nil {
			t.logger.Debugw("opus decode failed", "error", err, "payloadSize", len(pkt.Payload))
			continue
		}

		if t.onRemoteAudio != nil {
			t.onRemoteAudio(pcm)
		}
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// reportError delivers an asynchronous transport failure at most effectively
// once per cause; after close nothing is reported.
func (t *webrtcTransport) reportError(err error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.logger.Errorw("transport failure", "error", err)
	if t.onError != nil {
		t.onError(err)
	}
}

// teardown releases everything without marking the transport closed by the
// caller; used on Open failures so errors are returned, not reported.
func (t *webrtcTransport) teardown() {
	t.mu.Lock()
	t.closed = true
	t.state = StateClosed
	pc := t.pc
	t.pc = nil
	t.localTrack = nil
	t.controlChan = nil
	t.mu.Unlock()

	_ = t.mic.Stop()
	if pc != nil {
		_ = pc.Close()
	}
	t.cancel()
	t.wg.Wait()
}

func (t *webrtcTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.teardown()
	return nil
}
