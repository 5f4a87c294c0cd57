// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

// Config describes a PCM stream: signed 16-bit little-endian samples.
type Config struct {
	SampleRate int
	Channels   int
}

// BytesPerMillisecond returns the byte rate for this config (s16le).
func (c Config) BytesPerMillisecond() int {
	return c.SampleRate * c.Channels * 2 / 1000
}

var (
	// CaptureConfig is the microphone capture format: 16kHz mono.
	CaptureConfig = Config{SampleRate: 16000, Channels: 1}

	// WebRTCConfig is the opus track format: 48kHz mono.
	WebRTCConfig = Config{SampleRate: 48000, Channels: 1}
)
