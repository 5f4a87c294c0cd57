// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_resampler

import (
	"encoding/binary"
	"testing"

	internal_audio "github.com/rapidaai/tripvoice/internal/audio"
	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResampler(t *testing.T) Resampler {
	logger, _ := commons.NewApplicationLogger()
	r, err := GetResampler(logger)
	require.NoError(t, err)
	return r
}

func TestResample_Upsample16kTo48k(t *testing.T) {
	r := newResampler(t)

	// 10ms of 16kHz mono = 160 samples = 320 bytes → 480 samples at 48kHz
	in := make([]byte, 320)
	out, err := r.Resample(in, internal_audio.CaptureConfig, internal_audio.WebRTCConfig)
	require.NoError(t, err)
	assert.Equal(t, 960, len(out))
}

func TestResample_Downsample48kTo16k(t *testing.T) {
	r := newResampler(t)

	// 20ms of 48kHz mono = 960 samples → 320 samples at 16kHz
	in := make([]byte, 1920)
	out, err := r.Resample(in, internal_audio.WebRTCConfig, internal_audio.CaptureConfig)
	require.NoError(t, err)
	assert.Equal(t, 640, len(out))
}

func TestResample_SameRatePassesThrough(t *testing.T) {
	r := newResampler(t)

	in := []byte{1, 0, 2, 0, 3, 0}
	out, err := r.Resample(in, internal_audio.CaptureConfig, internal_audio.CaptureConfig)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// Must be a copy, not an alias.
	out[0] = 9
	assert.Equal(t, byte(1), in[0])
}

func TestResample_ConstantSignalStaysConstant(t *testing.T) {
	r := newResampler(t)

	in := make([]byte, 320)
	for i := 0; i < len(in); i += 2 {
		binary.LittleEndian.PutUint16(in[i:], uint16(int16(1000)))
	}

	out, err := r.Resample(in, internal_audio.CaptureConfig, internal_audio.WebRTCConfig)
	require.NoError(t, err)
	for i := 0; i < len(out); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(out[i:]))
		assert.InDelta(t, 1000, sample, 1)
	}
}

func TestResample_RejectsOddBuffers(t *testing.T) {
	r := newResampler(t)
	_, err := r.Resample([]byte{1, 2, 3}, internal_audio.CaptureConfig, internal_audio.WebRTCConfig)
	assert.Error(t, err)
}

func TestResample_RejectsMultiChannel(t *testing.T) {
	r := newResampler(t)
	stereo := internal_audio.Config{SampleRate: 48000, Channels: 2}
	_, err := r.Resample(make([]byte, 4), stereo, internal_audio.CaptureConfig)
	assert.Error(t, err)
}
