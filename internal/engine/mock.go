package engine

import (
	"context"
	"strings"
	"time"
)

type mockBackend struct {
	sampleRate int
	delay      time.Duration
}

// NewMockBackend returns a backend that fabricates deterministic PCM after a
// fixed delay. Useful for development and tests without a real voice model.
func NewMockBackend(sampleRate int, delay time.Duration) Backend {
	return &mockBackend{sampleRate: sampleRate, delay: delay}
}

func (m *mockBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}

	// Size the payload like speech: roughly three words per second of
	// 16-bit mono PCM, derived only from the input text.
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	samples := m.sampleRate * words / 3
	if samples == 0 {
		samples = 1
	}
	pcm := make([]byte, samples*2)
	seed := byte(len(text))
	for i := range pcm {
		pcm[i] = seed + byte(i%251)
	}
	return pcm, nil
}
