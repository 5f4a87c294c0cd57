// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_capture

import (
	"errors"
	"sync"

	"github.com/gen2brain/malgo"
	internal_audio "github.com/rapidaai/tripvoice/internal/audio"
	"github.com/rapidaai/tripvoice/pkg/commons"
)

// ErrMicrophoneUnavailable is returned when no capture device can be acquired.
// It is a user-visible condition (no device, permission denied, device busy),
// not a programming error.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Microphone delivers s16le PCM frames from an input device. Start is
// one-shot per acquisition; Stop releases the device and is idempotent.
type Microphone interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
}

type malgoMicrophone struct {
	mu     sync.Mutex
	logger commons.Logger

	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	started      bool
}

// NewMicrophone creates a miniaudio-backed capture device producing 16kHz
// mono s16le frames. The device is acquired lazily on Start so that a
// constructed-but-unused microphone holds no OS resources.
func NewMicrophone(logger commons.Logger) Microphone {
	return &malgoMicrophone{logger: logger}
}

func (m *malgoMicrophone) Start(onFrame func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	audioContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debugw("miniaudio", "message", message)
	})
	if err != nil {
		return errors.Join(ErrMicrophoneUnavailable, err)
	}

	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(internal_audio.CaptureConfig.SampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			onFrame(pInput[:n])
		},
	})
	if err != nil {
		_ = audioContext.Uninit()
		audioContext.Free()
		return errors.Join(ErrMicrophoneUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = audioContext.Uninit()
		audioContext.Free()
		return errors.Join(ErrMicrophoneUnavailable, err)
	}

	m.audioContext = audioContext
	m.device = device
	m.started = true
	return nil
}

func (m *malgoMicrophone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}

	m.device.Uninit()
	m.device = nil
	_ = m.audioContext.Uninit()
	m.audioContext.Free()
	m.audioContext = nil
	m.started = false
	return nil
}
