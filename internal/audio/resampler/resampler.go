// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_resampler

import (
	"encoding/binary"
	"fmt"

	internal_audio "github.com/rapidaai/tripvoice/internal/audio"
	"github.com/rapidaai/tripvoice/pkg/commons"
)

// Resampler converts s16le PCM between sample rates. Mono only; voice paths
// in this codebase never carry more than one channel.
type Resampler interface {
	Resample(data []byte, from, to internal_audio.Config) ([]byte, error)
}

type linearResampler struct {
	logger commons.Logger
}

// GetResampler returns the process-default resampler. Linear interpolation is
// sufficient here: both conversions (16k→48k, 48k→16k) are integer-ratio and
// the consumer is either an opus encoder or an RMS meter, not an archival
// recording path.
func GetResampler(logger commons.Logger) (Resampler, error) {
	return &linearResampler{logger: logger}, nil
}

func (r *linearResampler) Resample(data []byte, from, to internal_audio.Config) ([]byte, error) {
	if from.Channels != 1 || to.Channels != 1 {
		return nil, fmt.Errorf("resampler supports mono only, got %d -> %d channels", from.Channels, to.Channels)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd-length PCM buffer (%d bytes)", len(data))
	}
	if from.SampleRate == to.SampleRate {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	in := bytesToPCM(data)
	if len(in) == 0 {
		return []byte{}, nil
	}

	outLen := int(int64(len(in)) * int64(to.SampleRate) / int64(from.SampleRate))
	out := make([]int16, outLen)
	ratio := float64(from.SampleRate) / float64(to.SampleRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return pcmToBytes(out), nil
}

func bytesToPCM(data []byte) []int16 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm
}

func pcmToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
