// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport_internal

import (
	"encoding/binary"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// OpusCodec encodes and decodes mono 48kHz s16le PCM. One codec instance is
// a single encoder/decoder pair and is not safe for concurrent use; callers
// keep separate instances per direction.
type OpusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

// NewOpusCodec creates an encoder/decoder pair tuned for voice.
func NewOpusCodec() (*OpusCodec, error) {
	enc, err := opus.NewEncoder(OpusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(OpusSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusCodec{enc: enc, dec: dec}, nil
}

// Encode compresses one complete 20ms PCM frame (OpusFrameBytes of s16le)
// into a single Opus packet.
func (c *OpusCodec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != OpusFrameBytes {
		return nil, fmt.Errorf("opus encode requires a %d byte frame, got %d", OpusFrameBytes, len(pcm))
	}
	samples := bytesToInt16(pcm)
	buf := make([]byte, OpusMaxPacketBytes)
	n, err := c.enc.Encode(samples, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return buf[:n], nil
}

// Decode decompresses one Opus packet into s16le PCM at 48kHz mono.
func (c *OpusCodec) Decode(packet []byte) ([]byte, error) {
	samples := make([]int16, OpusMaxFrameSamples)
	n, err := c.dec.Decode(packet, samples)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return int16ToBytes(samples[:n]), nil
}

func bytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
