package staged

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ambiware-labs/staccato/internal/cache"
	"github.com/ambiware-labs/staccato/internal/config"
	"github.com/ambiware-labs/staccato/internal/engine"
	"github.com/ambiware-labs/staccato/internal/progress"
)

type fakeSynth struct {
	mu           sync.Mutex
	calls        map[engine.Variant][]string
	failContains string // texts containing this fail with errFailMsg
	emptyAudio   bool
	block        map[engine.Variant]bool // block until ctx is done
	panicOn      string
}

const errFailMsg = "model unavailable"

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		calls: make(map[engine.Variant][]string),
		block: make(map[engine.Variant]bool),
	}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, variant engine.Variant) (engine.Result, error) {
	f.mu.Lock()
	f.calls[variant] = append(f.calls[variant], text)
	blocked := f.block[variant]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return engine.Result{}, ctx.Err()
	}
	if f.panicOn != "" && strings.Contains(text, f.panicOn) {
		panic("synth exploded")
	}
	if f.failContains != "" && strings.Contains(text, f.failContains) {
		return engine.Result{}, errors.New(errFailMsg)
	}
	if f.emptyAudio {
		return engine.Result{}, nil
	}
	return engine.Result{Audio: []byte(string(variant) + ":" + text)}, nil
}

func (f *fakeSynth) callCount(variant engine.Variant) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[variant])
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.StagedConfig {
	return config.StagedConfig{
		Enabled:             true,
		MaxResponseLength:   500,
		MaxIntroLength:      120,
		ChunkTimeoutSeconds: 5,
		TimeoutScale:        1.0,
		MaxChunks:           6,
		EnableCaching:       true,
		CacheMaxEntries:     64,
	}
}

func newTestOrchestrator(t *testing.T, cfg config.StagedConfig, synth engine.Synthesizer) *Orchestrator {
	t.Helper()
	var c *cache.Cache
	if cfg.EnableCaching {
		var err error
		c, err = cache.New(cfg.CacheMaxEntries)
		if err != nil {
			t.Fatalf("new cache: %v", err)
		}
	}
	return New(cfg, synth, c, progress.Nop{}, testLogger())
}

// multi-sentence reply that yields one intro and several main chunks
const sampleReply = "Einen Moment bitte. Ich habe drei Termine für dich gefunden. " +
	"Der erste Termin ist am Montag um neun Uhr. " +
	"Der zweite Termin ist am Dienstag um vierzehn Uhr. " +
	"Der dritte Termin ist am Freitag um elf Uhr."

func TestProcessReturnsOrderedContiguousIndices(t *testing.T) {
	synth := newFakeSynth()
	o := newTestOrchestrator(t, testConfig(), synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-1", Text: sampleReply})
	if len(batch) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(batch))
	}
	for i, c := range batch {
		if c.Index != i {
			t.Fatalf("index gap at position %d: got %d", i, c.Index)
		}
		if c.Total != len(batch) {
			t.Fatalf("chunk %d total = %d, want %d", i, c.Total, len(batch))
		}
		if c.SequenceID != "seq-1" {
			t.Fatalf("chunk %d lost sequence id", i)
		}
		if !c.Success {
			t.Fatalf("chunk %d unexpectedly failed: %s", i, c.Error)
		}
	}
}

func TestProcessIntroIsIndexZeroOnFastEngine(t *testing.T) {
	synth := newFakeSynth()
	o := newTestOrchestrator(t, testConfig(), synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-2", Text: sampleReply})
	if batch[0].Engine != engine.VariantFast {
		t.Fatalf("chunk 0 engine = %q, want fast", batch[0].Engine)
	}
	for _, c := range batch[1:] {
		if c.Engine != engine.VariantQuality {
			t.Fatalf("main chunk %d engine = %q, want quality", c.Index, c.Engine)
		}
	}
}

func TestProcessChunkCap(t *testing.T) {
	// Scenario: ~900 characters of short sentences, cap of 3 tasks.
	text := strings.TrimSpace(strings.Repeat("Dieser Satz hat ungefähr vierzig Zeichen hier. ", 20))
	cfg := testConfig()
	cfg.MaxChunks = 3

	synth := newFakeSynth()
	o := newTestOrchestrator(t, cfg, synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-3", Text: text})
	if len(batch) != 3 {
		t.Fatalf("expected exactly 3 chunks, got %d", len(batch))
	}
	if got := synth.callCount(engine.VariantFast); got != 1 {
		t.Fatalf("expected 1 intro synthesis, got %d", got)
	}
	if got := synth.callCount(engine.VariantQuality); got != 2 {
		t.Fatalf("expected 2 main syntheses, got %d", got)
	}
	for i, c := range batch {
		if c.Index != i {
			t.Fatalf("capped batch has index gap at %d", i)
		}
	}
}

func TestProcessEngineFailureIsolated(t *testing.T) {
	synth := newFakeSynth()
	synth.failContains = "Dienstag"
	o := newTestOrchestrator(t, testConfig(), synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-4", Text: sampleReply})
	var failed, succeeded int
	for _, c := range batch {
		if c.Success {
			succeeded++
			continue
		}
		failed++
		if c.Error != errFailMsg {
			t.Fatalf("failed chunk carries %q, want %q", c.Error, errFailMsg)
		}
		if c.Audio != nil {
			t.Fatal("failed chunk must not carry audio")
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly 1 failed chunk, got %d", failed)
	}
	if succeeded != len(batch)-1 {
		t.Fatalf("siblings were affected: %d of %d succeeded", succeeded, len(batch))
	}
}

func TestProcessEmptyAudioIsFailure(t *testing.T) {
	synth := newFakeSynth()
	synth.emptyAudio = true
	o := newTestOrchestrator(t, testConfig(), synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-5", Text: "Hallo Welt."})
	if len(batch) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(batch))
	}
	if batch[0].Success {
		t.Fatal("empty audio must mark the chunk failed")
	}
	if batch[0].Error == "" {
		t.Fatal("failed chunk must carry an error message")
	}
}

func TestProcessCachingSkipsSecondEngineCall(t *testing.T) {
	synth := newFakeSynth()
	o := newTestOrchestrator(t, testConfig(), synth)

	req := Request{SequenceID: "seq-6", Text: "Hallo Welt."}
	first := o.Process(context.Background(), req)
	calls := synth.callCount(engine.VariantFast) + synth.callCount(engine.VariantQuality)

	req.SequenceID = "seq-7"
	second := o.Process(context.Background(), req)
	callsAfter := synth.callCount(engine.VariantFast) + synth.callCount(engine.VariantQuality)

	if callsAfter != calls {
		t.Fatalf("cached request hit the engine: %d -> %d calls", calls, callsAfter)
	}
	if !bytes.Equal(first[0].Audio, second[0].Audio) {
		t.Fatal("cached audio differs from synthesized audio")
	}
}

func TestProcessCachingDisabledAlwaysSynthesizes(t *testing.T) {
	cfg := testConfig()
	cfg.EnableCaching = false
	synth := newFakeSynth()
	o := newTestOrchestrator(t, cfg, synth)

	req := Request{SequenceID: "seq-8", Text: "Hallo Welt."}
	o.Process(context.Background(), req)
	o.Process(context.Background(), req)

	if got := synth.callCount(engine.VariantFast); got != 2 {
		t.Fatalf("expected 2 engine calls without caching, got %d", got)
	}
}

func TestProcessTimeoutDegradesToIntro(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkTimeoutSeconds = 1
	cfg.TimeoutScale = 0.2 // 200ms per scheduled task keeps the test fast

	synth := newFakeSynth()
	synth.block[engine.VariantQuality] = true
	o := newTestOrchestrator(t, cfg, synth)
	o.grace = 500 * time.Millisecond

	start := time.Now()
	batch := o.Process(context.Background(), Request{SequenceID: "seq-9", Text: sampleReply})
	elapsed := time.Since(start)

	if len(batch) != 1 {
		t.Fatalf("expected degraded single-chunk batch, got %d chunks", len(batch))
	}
	if batch[0].Index != 0 || batch[0].Engine != engine.VariantFast {
		t.Fatalf("degraded batch must hold the intro, got index %d engine %q", batch[0].Index, batch[0].Engine)
	}
	if !batch[0].Success {
		t.Fatalf("intro should have completed before the timeout: %s", batch[0].Error)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("process did not respect the aggregate budget: %v", elapsed)
	}
}

func TestProcessTimeoutWithoutIntroReturnsEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkTimeoutSeconds = 1
	cfg.TimeoutScale = 0.2

	synth := newFakeSynth()
	synth.block[engine.VariantFast] = true
	synth.block[engine.VariantQuality] = true
	o := newTestOrchestrator(t, cfg, synth)
	o.grace = 100 * time.Millisecond

	batch := o.Process(context.Background(), Request{SequenceID: "seq-10", Text: sampleReply})
	if len(batch) > 1 {
		t.Fatalf("expected at most the intro after total stall, got %d chunks", len(batch))
	}
	if len(batch) == 1 && batch[0].Success {
		t.Fatal("a stalled intro cannot be a successful chunk")
	}
}

func TestProcessEmptyInput(t *testing.T) {
	synth := newFakeSynth()
	o := newTestOrchestrator(t, testConfig(), synth)

	if batch := o.Process(context.Background(), Request{SequenceID: "seq-11", Text: "   "}); len(batch) != 0 {
		t.Fatalf("expected empty batch for blank input, got %d chunks", len(batch))
	}
	if calls := synth.callCount(engine.VariantFast) + synth.callCount(engine.VariantQuality); calls != 0 {
		t.Fatalf("blank input must not reach the engine, got %d calls", calls)
	}
}

func TestProcessStagingDisabledUsesQualityOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	synth := newFakeSynth()
	o := newTestOrchestrator(t, cfg, synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-12", Text: "Hallo Welt."})
	if len(batch) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(batch))
	}
	if batch[0].Engine != engine.VariantQuality {
		t.Fatalf("disabled staging must use the quality engine, got %q", batch[0].Engine)
	}
	if got := synth.callCount(engine.VariantFast); got != 0 {
		t.Fatalf("fast engine must stay idle when staging is disabled, got %d calls", got)
	}
}

func TestProcessRecoversTaskPanic(t *testing.T) {
	synth := newFakeSynth()
	synth.panicOn = "Dienstag"
	o := newTestOrchestrator(t, testConfig(), synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-13", Text: sampleReply})
	var panicked int
	for _, c := range batch {
		if !c.Success && strings.Contains(c.Error, "panic") {
			panicked++
		}
	}
	if panicked != 1 {
		t.Fatalf("expected 1 recovered panic chunk, got %d", panicked)
	}
}

func TestProcessNormalizesBeforeChunking(t *testing.T) {
	synth := newFakeSynth()
	o := newTestOrchestrator(t, testConfig(), synth)

	batch := o.Process(context.Background(), Request{SequenceID: "seq-14", Text: "Das sind 20.000 Euro!"})
	if len(batch) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(batch))
	}
	if batch[0].Text != "Das sind 20000 Euro!" {
		t.Fatalf("chunk text not normalized: %q", batch[0].Text)
	}
}
