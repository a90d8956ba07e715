package kafka

import (
	"context"
	"log/slog"
	"slices"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/geotrigger-bridge/internal/config"
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

// Writer produces tag updates to the sink topic.
// It implements tags.Registrar.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
// Messages are hashed by key so one channel's updates stay on one partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// UpdateTags publishes one tag update.
func (w *Writer) UpdateTags(ctx context.Context, u domain.TagUpdate) error {
	msg, err := serializeToMessage(u)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(u domain.TagUpdate) (kafkago.Message, error) {
	out, err := domain.SerializeTagUpdate(u)
	if err != nil {
		return kafkago.Message{}, err
	}

	keys := make([]string, 0, len(out.Headers))
	for k := range out.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	headers := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(out.Headers[k])})
	}
	return kafkago.Message{Key: out.Key, Value: out.Value, Headers: headers}, nil
}
