// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport_internal "github.com/rapidaai/tripvoice/internal/transport/internal"
	"github.com/rapidaai/tripvoice/pkg/commons"
)

// ============================================================================
// Test fixtures
// ============================================================================

type fakeMic struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	onFrame  func(pcm []byte)
}

func (m *fakeMic) Start(onFrame func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	m.onFrame = onFrame
	return nil
}

func (m *fakeMic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *fakeMic) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// newTestTransport builds a transport with no ICE servers so candidate
// gathering finishes on host candidates alone.
func newTestTransport(t *testing.T, mic *fakeMic) Transport {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	tr, err := newTransport(logger, mic, &transport_internal.Config{})
	require.NoError(t, err)
	return tr
}

// ============================================================================
// Open / offer
// ============================================================================

func TestTransport_OpenProducesOfferWithAudioAndControlChannel(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := tr.Open(ctx)
	require.NoError(t, err)

	assert.True(t, strings.Contains(offer, "m=audio"), "offer should carry an audio section")
	assert.True(t, strings.Contains(offer, "m=application"), "offer should carry the data channel section")
	assert.True(t, strings.Contains(offer, "opus"), "offer should negotiate opus")
	assert.Equal(t, StateConnecting, tr.State())
	assert.True(t, mic.started)
}

func TestTransport_OpenTwiceFails(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := tr.Open(ctx)
	require.NoError(t, err)

	_, err = tr.Open(ctx)
	assert.Error(t, err)
}

func TestTransport_MicFailureAbortsOpenAndReleasesEverything(t *testing.T) {
	micErr := errors.New("device busy")
	mic := &fakeMic{startErr: micErr}
	tr := newTestTransport(t, mic)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := tr.Open(ctx)
	require.ErrorIs(t, err, micErr)
	assert.Equal(t, StateClosed, tr.State())
}

// ============================================================================
// Send / handshake guards
// ============================================================================

func TestTransport_SendBeforeChannelOpenReturnsErrChannelNotOpen(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)
	defer tr.Close()

	err := tr.Send(map[string]string{"type": "noop"})
	assert.ErrorIs(t, err, ErrChannelNotOpen)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = tr.Open(ctx)
	require.NoError(t, err)

	// Still connecting: the data channel has not opened yet.
	err = tr.Send(map[string]string{"type": "noop"})
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}

func TestTransport_CompleteHandshakeBeforeOpenFails(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)
	defer tr.Close()

	err := tr.CompleteHandshake("v=0")
	assert.Error(t, err)
}

func TestTransport_CompleteHandshakeRejectsGarbageSDP(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := tr.Open(ctx)
	require.NoError(t, err)

	err = tr.CompleteHandshake("this is not sdp")
	require.Error(t, err)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

// ============================================================================
// Close
// ============================================================================

func TestTransport_CloseIsIdempotentAndReleasesMicrophone(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := tr.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.Equal(t, StateClosed, tr.State())
	assert.True(t, mic.isStopped())

	err = tr.Send(map[string]string{"type": "noop"})
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}

func TestTransport_CloseBeforeOpen(t *testing.T) {
	mic := &fakeMic{}
	tr := newTestTransport(t, mic)

	require.NoError(t, tr.Close())
	assert.Equal(t, StateClosed, tr.State())
}

// ============================================================================
// Opus codec
// ============================================================================

func TestOpusCodec_EncodeRejectsPartialFrames(t *testing.T) {
	codec, err := transport_internal.NewOpusCodec()
	require.NoError(t, err)

	_, err = codec.Encode(make([]byte, 100))
	assert.Error(t, err)
}

func TestOpusCodec_EncodeDecodeRoundTrip(t *testing.T) {
	codec, err := transport_internal.NewOpusCodec()
	require.NoError(t, err)

	frame := make([]byte, transport_internal.OpusFrameBytes)
	packet, err := codec.Encode(frame)
	require.NoError(t, err)
	require.NotEmpty(t, packet)
	assert.Less(t, len(packet), transport_internal.OpusFrameBytes)

	pcm, err := codec.Decode(packet)
	require.NoError(t, err)
	assert.Equal(t, transport_internal.OpusFrameBytes, len(pcm))
}
