// Package staged implements the two-speed synthesis pipeline: a fast engine
// speaks a short intro while the quality engine renders the remaining
// chunks concurrently, and the finished batch is returned in index order.
package staged

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ambiware-labs/staccato/internal/cache"
	"github.com/ambiware-labs/staccato/internal/chunker"
	"github.com/ambiware-labs/staccato/internal/config"
	"github.com/ambiware-labs/staccato/internal/engine"
	"github.com/ambiware-labs/staccato/internal/progress"
	"github.com/ambiware-labs/staccato/internal/text"
)

// Chunk is one synthesized (or failed) unit of a sequence. Indices within a
// sequence are contiguous from 0, with 0 reserved for the intro when one
// exists.
type Chunk struct {
	SequenceID string
	Index      int
	Total      int
	Engine     engine.Variant
	Text       string
	Audio      []byte
	Success    bool
	Error      string
}

// Request is one reply to synthesize.
type Request struct {
	SequenceID string
	Text       string
}

const introGracePeriod = time.Second

// Orchestrator schedules per-chunk synthesis tasks, applies the timeout and
// degradation policy, and returns index-ordered batches. It never returns
// an error: callers inspect each chunk's Success flag.
type Orchestrator struct {
	cfg      config.StagedConfig
	synth    engine.Synthesizer
	cache    *cache.Cache
	reporter progress.Reporter
	logger   *slog.Logger
	grace    time.Duration

	chunksOK    metric.Int64Counter
	chunksFail  metric.Int64Counter
	cacheHits   metric.Int64Counter
	timeouts    metric.Int64Counter
	synthTiming metric.Float64Histogram
}

func New(cfg config.StagedConfig, synth engine.Synthesizer, c *cache.Cache, reporter progress.Reporter, logger *slog.Logger) *Orchestrator {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	o := &Orchestrator{
		cfg:      cfg,
		synth:    synth,
		cache:    c,
		reporter: reporter,
		logger:   logger.With(slog.String("component", "staged-orchestrator")),
		grace:    introGracePeriod,
	}
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	meter := otel.Meter("staccato/staged")
	var err error
	if o.chunksOK, err = meter.Int64Counter("staccato.chunks.synthesized"); err != nil {
		o.logger.Warn("failed to create metric", slogError(err))
	}
	if o.chunksFail, err = meter.Int64Counter("staccato.chunks.failed"); err != nil {
		o.logger.Warn("failed to create metric", slogError(err))
	}
	if o.cacheHits, err = meter.Int64Counter("staccato.cache.hits"); err != nil {
		o.logger.Warn("failed to create metric", slogError(err))
	}
	if o.timeouts, err = meter.Int64Counter("staccato.sequence.timeouts"); err != nil {
		o.logger.Warn("failed to create metric", slogError(err))
	}
	if o.synthTiming, err = meter.Float64Histogram("staccato.synthesis.duration_seconds"); err != nil {
		o.logger.Warn("failed to create metric", slogError(err))
	}
}

type task struct {
	index   int
	text    string
	variant engine.Variant
}

// Process normalizes, chunks and synthesizes one reply and returns the
// batch sorted ascending by index. On aggregate timeout the result degrades
// to the intro chunk alone, or to an empty batch.
func (o *Orchestrator) Process(ctx context.Context, req Request) []Chunk {
	ctx, span := otel.Tracer("staccato/staged").Start(ctx, "staged.process")
	defer span.End()

	normalized := text.Optimize(req.Text)
	chunks := chunker.LimitAndChunk(normalized, o.cfg.MaxResponseLength)
	if len(chunks) == 0 {
		o.logger.Warn("chunking produced no segments",
			slog.String("sequence_id", req.SequenceID),
			slog.Int("input_chars", len(req.Text)))
		return nil
	}

	var intro string
	var main []string
	if o.cfg.Enabled {
		intro, main = chunker.CreateIntroChunk(chunks, o.cfg.MaxIntroLength)
	} else {
		// Staging disabled: everything goes through the quality engine,
		// no intro.
		main = chunks
	}

	tasks := make([]task, 0, o.cfg.MaxChunks)
	if intro != "" {
		tasks = append(tasks, task{index: 0, text: intro, variant: engine.VariantFast})
	}
	dropped := 0
	for _, c := range main {
		if len(tasks) >= o.cfg.MaxChunks {
			dropped++
			continue
		}
		tasks = append(tasks, task{index: len(tasks), text: c, variant: engine.VariantQuality})
	}
	if dropped > 0 {
		o.logger.Warn("dropping chunks over cap",
			slog.String("sequence_id", req.SequenceID),
			slog.Int("dropped", dropped),
			slog.Int("max_chunks", o.cfg.MaxChunks))
	}

	total := len(tasks)
	span.SetAttributes(
		attribute.Int("staccato.chunks.scheduled", total),
		attribute.Bool("staccato.intro", intro != ""),
	)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Chunk, total)
	for _, t := range tasks {
		go o.runTask(taskCtx, results, req.SequenceID, t, total)
	}

	o.reporter.Begin(total)
	defer o.reporter.Finish()

	budget := o.aggregateBudget(total)
	timer := time.NewTimer(budget)
	defer timer.Stop()

	collected := make([]Chunk, 0, total)
	for len(collected) < total {
		select {
		case c := <-results:
			collected = append(collected, c)
			o.reporter.Step(stageOf(c))
		case <-timer.C:
			return o.degrade(ctx, cancel, results, collected, req.SequenceID, intro != "", budget)
		case <-ctx.Done():
			return o.degrade(ctx, cancel, results, collected, req.SequenceID, intro != "", budget)
		}
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Index < collected[j].Index })
	return collected
}

// aggregateBudget scales the per-chunk timeout by the number of scheduled
// tasks. The multiplicative policy is deliberate and the factor is
// configurable via timeout_scale.
func (o *Orchestrator) aggregateBudget(tasks int) time.Duration {
	per := float64(o.cfg.ChunkTimeoutSeconds) * float64(time.Second)
	return time.Duration(per * o.cfg.TimeoutScale * float64(tasks))
}

// degrade cancels every pending task and, when an intro was scheduled,
// spends a short grace period trying to recover its result.
func (o *Orchestrator) degrade(ctx context.Context, cancel context.CancelFunc, results <-chan Chunk, collected []Chunk, sequenceID string, hasIntro bool, budget time.Duration) []Chunk {
	cancel()
	if o.timeouts != nil {
		o.timeouts.Add(ctx, 1)
	}
	o.logger.Warn("aggregate synthesis budget exceeded",
		slog.String("sequence_id", sequenceID),
		slog.Duration("budget", budget),
		slog.Int("completed", len(collected)))

	if !hasIntro {
		return nil
	}
	for _, c := range collected {
		if c.Index == 0 {
			return []Chunk{c}
		}
	}

	grace := time.NewTimer(o.grace)
	defer grace.Stop()
	for {
		select {
		case c := <-results:
			if c.Index == 0 {
				return []Chunk{c}
			}
		case <-grace.C:
			o.logger.Warn("intro chunk lost to timeout", slog.String("sequence_id", sequenceID))
			return nil
		}
	}
}

// runTask synthesizes one chunk. It never panics outward and never touches
// its siblings: any fault becomes a failed chunk on the results channel.
func (o *Orchestrator) runTask(ctx context.Context, out chan<- Chunk, sequenceID string, t task, total int) {
	result := Chunk{
		SequenceID: sequenceID,
		Index:      t.index,
		Total:      total,
		Engine:     t.variant,
		Text:       t.text,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Audio = nil
			result.Error = fmt.Sprintf("synthesis panic: %v", r)
		}
		out <- result
	}()

	key := cache.Fingerprint(string(t.variant), t.text)
	if o.cfg.EnableCaching && o.cache != nil {
		if audio, ok := o.cache.Lookup(key); ok {
			if o.cacheHits != nil {
				o.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", string(t.variant))))
			}
			result.Audio = audio
			result.Success = true
			return
		}
	}

	start := time.Now()
	res, err := o.synth.Synthesize(ctx, t.text, t.variant)
	if o.synthTiming != nil {
		o.synthTiming.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("engine", string(t.variant))))
	}
	if err != nil {
		o.markFailed(&result, err.Error())
		return
	}
	if len(res.Audio) == 0 {
		o.markFailed(&result, "engine returned no audio")
		return
	}

	if o.cfg.EnableCaching && o.cache != nil {
		o.cache.Insert(key, res.Audio)
	}
	if o.chunksOK != nil {
		o.chunksOK.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", string(t.variant))))
	}
	result.Audio = res.Audio
	result.Success = true
}

func (o *Orchestrator) markFailed(c *Chunk, msg string) {
	c.Success = false
	c.Audio = nil
	c.Error = msg
	if o.chunksFail != nil {
		o.chunksFail.Add(context.Background(), 1, metric.WithAttributes(attribute.String("engine", string(c.Engine))))
	}
	o.logger.Warn("chunk synthesis failed",
		slog.String("sequence_id", c.SequenceID),
		slog.Int("index", c.Index),
		slog.String("engine", string(c.Engine)),
		slog.String("error", msg))
}

func stageOf(c Chunk) string {
	if c.Index == 0 && c.Engine == engine.VariantFast {
		return "intro"
	}
	return "main"
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
