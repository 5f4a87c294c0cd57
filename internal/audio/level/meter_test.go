// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_level

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeter(opts ...Option) *Meter {
	logger, _ := commons.NewApplicationLogger()
	return NewMeter(logger, opts...)
}

func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amplitude))
	}
	return frame
}

// ============================================================================
// compute
// ============================================================================

func TestCompute_SilenceIsZero(t *testing.T) {
	m := newTestMeter()
	assert.Equal(t, 0.0, m.compute(pcmFrame(0, 160)))
	assert.Equal(t, 0.0, m.compute(nil))
}

func TestCompute_BelowGateReportsZero(t *testing.T) {
	m := newTestMeter()
	// amplitude 100/32768 * gain 4 ≈ 0.012 < default gate 0.02
	assert.Equal(t, 0.0, m.compute(pcmFrame(100, 160)))
}

func TestCompute_NormalizedWithinUnitRange(t *testing.T) {
	m := newTestMeter()

	quiet := m.compute(pcmFrame(2000, 160))
	loud := m.compute(pcmFrame(16000, 160))
	max := m.compute(pcmFrame(32767, 160))

	assert.Greater(t, quiet, 0.0)
	assert.Greater(t, loud, quiet)
	assert.LessOrEqual(t, loud, 1.0)
	assert.Equal(t, 1.0, max, "full-scale input must clamp to 1")
}

// ============================================================================
// Start / Stop lifecycle
// ============================================================================

func TestMeter_PublishesOnCadence(t *testing.T) {
	m := newTestMeter(WithInterval(5 * time.Millisecond))

	var mu sync.Mutex
	var levels []float64
	m.Start(func(level float64) {
		mu.Lock()
		levels = append(levels, level)
		mu.Unlock()
	})
	defer m.Stop()

	m.Push(pcmFrame(16000, 160))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, l := range levels {
			if l > 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Greater(t, m.Level(), 0.0)
}

func TestMeter_StopZeroesSynchronously(t *testing.T) {
	m := newTestMeter(WithInterval(5 * time.Millisecond))

	var mu sync.Mutex
	var last float64 = -1
	m.Start(func(level float64) {
		mu.Lock()
		last = level
		mu.Unlock()
	})

	m.Push(pcmFrame(16000, 160))
	require.Eventually(t, func() bool { return m.Level() > 0 }, time.Second, 5*time.Millisecond)

	m.Stop()

	assert.Equal(t, 0.0, m.Level(), "level must be zeroed on Stop, not on the next tick")
	mu.Lock()
	assert.Equal(t, 0.0, last, "a final zero must be emitted to consumers")
	mu.Unlock()
}

func TestMeter_StopIdempotent(t *testing.T) {
	m := newTestMeter(WithInterval(5 * time.Millisecond))
	m.Start(func(float64) {})
	m.Stop()
	m.Stop() // must not panic on double close
}

func TestMeter_StartWhileRunningIsNoop(t *testing.T) {
	m := newTestMeter(WithInterval(5 * time.Millisecond))
	m.Start(func(float64) {})
	m.Start(func(float64) {})
	m.Stop()
}

func TestMeter_CallbackPanicDoesNotKillLoop(t *testing.T) {
	m := newTestMeter(WithInterval(5 * time.Millisecond))

	var mu sync.Mutex
	calls := 0
	m.Start(func(level float64) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("ui callback broke")
	})
	defer m.Stop()

	m.Push(pcmFrame(16000, 160))

	// The loop must survive the panicking callback and keep sampling.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
}
