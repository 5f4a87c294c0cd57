// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_level

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/rapidaai/tripvoice/pkg/commons"
)

const (
	// DefaultInterval is the sampling cadence of the meter.
	DefaultInterval = 50 * time.Millisecond

	// DefaultGate is the activity threshold: levels below it report 0 to
	// suppress noise jitter in the UI animation.
	DefaultGate = 0.02

	// rmsGain scales raw RMS into a usable [0,1] range; conversational
	// speech rarely exceeds a quarter of full scale.
	rmsGain = 4.0
)

// Meter taps a PCM stream and publishes a normalized activity level on a
// fixed cadence. It is fully decoupled from transcript and tool processing:
// Push never blocks, the sampling loop never calls into the session, and a
// panicking computation is swallowed rather than allowed to end the session.
type Meter struct {
	mu       sync.Mutex
	logger   commons.Logger
	interval time.Duration
	gate     float64

	frame   []byte
	level   float64
	onLevel func(float64)
	stopCh  chan struct{}
	running bool
}

// Option customises a Meter.
type Option func(*Meter)

// WithInterval overrides the sampling cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Meter) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithGate overrides the activity threshold.
func WithGate(g float64) Option {
	return func(m *Meter) { m.gate = g }
}

// NewMeter creates a stopped meter.
func NewMeter(logger commons.Logger, opts ...Option) *Meter {
	m := &Meter{
		logger:   logger,
		interval: DefaultInterval,
		gate:     DefaultGate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Push stores the latest s16le frame for the next sampling tick. Called from
// the audio receive path; must stay cheap and non-blocking.
func (m *Meter) Push(pcm []byte) {
	frame := make([]byte, len(pcm))
	copy(frame, pcm)

	m.mu.Lock()
	m.frame = frame
	m.mu.Unlock()
}

// Start begins the sampling loop, reporting each computed level through
// onLevel. No-op when already running.
func (m *Meter) Start(onLevel func(float64)) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.onLevel = onLevel
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.run(stopCh)
}

// Stop halts the sampling loop and zeroes the level synchronously, emitting a
// final 0 so consumers do not animate a stale value. Idempotent.
func (m *Meter) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.frame = nil
	m.level = 0
	onLevel := m.onLevel
	m.onLevel = nil
	m.mu.Unlock()

	if onLevel != nil {
		onLevel(0)
	}
}

// Level returns the most recently computed level.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Meter) run(stopCh chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample computes and publishes one level reading. Panics in the computation
// or the callback must not terminate the session's audio telemetry.
func (m *Meter) sample() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("level meter sample panicked", "panic", r)
		}
	}()

	m.mu.Lock()
	frame := m.frame
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}

	level := m.compute(frame)

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.level = level
	onLevel := m.onLevel
	m.mu.Unlock()

	if onLevel != nil {
		onLevel(level)
	}
}

// compute returns the gated, normalized RMS of an s16le frame.
func (m *Meter) compute(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}

	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768.0
		sum += s * s
	}

	level := math.Sqrt(sum/float64(n)) * rmsGain
	if level > 1 {
		level = 1
	}
	if level < m.gate {
		return 0
	}
	return level
}
