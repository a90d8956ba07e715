package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Decoder converts a raw message into a trigger event.
type Decoder interface {
	Decode(ctx context.Context, raw domain.RawEvent) (domain.TriggerEvent, error)
}

// EventHandler applies a trigger event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.TriggerEvent) error
}

// Pipeline feeds trigger events from the source into the bridge, in order.
type Pipeline struct {
	extractor BatchExtractor
	decoder   Decoder
	handler   EventHandler
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, d Decoder, h EventHandler, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		decoder:   d,
		handler:   h,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Run consumes trigger events until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-decode-handle cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	for _, raw := range rawBatch {
		p.handle(ctx, raw)
	}
	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// handle decodes and applies one message, then commits its offset. Messages
// that cannot be decoded are skipped and committed so they never block the
// partition.
func (p *Pipeline) handle(ctx context.Context, raw domain.RawEvent) {
	defer p.commitOffset(ctx, raw)

	ev, err := p.decoder.Decode(ctx, raw)
	if err != nil {
		p.logger.Warn("decode failed, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.DecodeErrors.Inc()
		return
	}

	if err := p.handler.HandleEvent(ctx, ev); err != nil {
		p.logger.Warn("trigger event rejected, skipping message",
			"error", err,
			"kind", ev.Kind,
			"source_id", ev.SourceID,
			"offset", raw.Offset,
		)
		p.metrics.DecodeErrors.Inc()
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
