// Package engine exposes the synthesis capability behind a closed set of
// engine variants: a fast voice for the intro and a quality voice for the
// rest of the reply.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ambiware-labs/staccato/internal/config"
)

// Variant identifies one of the configured engine flavors.
type Variant string

const (
	// VariantFast is the low-latency engine that speaks the intro chunk.
	VariantFast Variant = "fast"
	// VariantQuality is the slower, higher-quality engine for main chunks.
	VariantQuality Variant = "quality"
)

// Valid reports whether v names a known variant.
func (v Variant) Valid() bool {
	return v == VariantFast || v == VariantQuality
}

// Result carries the audio produced for one chunk of text.
type Result struct {
	Audio []byte
}

// Synthesizer is the capability contract the orchestrator depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, variant Variant) (Result, error)
}

// Backend produces audio for a single engine flavor.
type Backend interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Selector routes synthesis requests to the backend for each variant.
type Selector struct {
	backends map[Variant]Backend
}

func NewSelector(fast, quality Backend) *Selector {
	return &Selector{backends: map[Variant]Backend{
		VariantFast:    fast,
		VariantQuality: quality,
	}}
}

func (s *Selector) Synthesize(ctx context.Context, text string, variant Variant) (Result, error) {
	backend, ok := s.backends[variant]
	if !ok {
		return Result{}, fmt.Errorf("unknown engine variant %q", variant)
	}
	audio, err := backend.Synthesize(ctx, text)
	if err != nil {
		return Result{}, err
	}
	return Result{Audio: audio}, nil
}

// FromConfig builds the variant selector from engine configuration.
func FromConfig(cfg config.EnginesConfig) (*Selector, error) {
	fast, err := buildBackend(cfg.Fast)
	if err != nil {
		return nil, fmt.Errorf("fast engine: %w", err)
	}
	quality, err := buildBackend(cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("quality engine: %w", err)
	}
	return NewSelector(fast, quality), nil
}

func buildBackend(cfg config.EngineConfig) (Backend, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockBackend(cfg.SampleRate, 50*time.Millisecond), nil
	case "exec":
		return NewExecBackend(cfg.Command, cfg.Voice, cfg.SampleRate)
	case "http":
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		return NewHTTPBackend(cfg.Endpoint, cfg.Voice, cfg.SampleRate, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
