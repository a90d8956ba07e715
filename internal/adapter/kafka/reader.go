package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/geotrigger-bridge/internal/config"
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

// Reader consumes trigger events from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a Kafka consumer group reader for the configured source topic.
// Offsets are committed explicitly once a message has been handled.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.KafkaGroupID,
		Topic:          cfg.KafkaSourceTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch blocks for the first message, then collects up to batchSize
// messages or until the flush interval elapses, whichever comes first.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := make([]domain.RawEvent, 0, batchSize)
	batch = append(batch, r.toRawEvent(first))

	flushCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(flushCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			return batch, err
		}
		batch = append(batch, r.toRawEvent(msg))
	}
	return batch, nil
}

func (r *Reader) toRawEvent(msg kafkago.Message) domain.RawEvent {
	raw := mapMessageToRawEvent(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw
}

// Close shuts down the consumer and leaves the group.
func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawEvent(msg kafkago.Message) domain.RawEvent {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawEvent{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
