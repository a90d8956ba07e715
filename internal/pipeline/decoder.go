package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

// TriggerDecoder implements Decoder: it parses the message payload and
// enriches check-ins with zone configuration when a resolver is configured.
type TriggerDecoder struct {
	resolver domain.ZoneResolver
	logger   *slog.Logger
}

// NewDecoder creates a TriggerDecoder. Pass a nil resolver to disable zone
// enrichment.
func NewDecoder(resolver domain.ZoneResolver, logger *slog.Logger) *TriggerDecoder {
	return &TriggerDecoder{
		resolver: resolver,
		logger:   logger,
	}
}

func (d *TriggerDecoder) Decode(ctx context.Context, raw domain.RawEvent) (domain.TriggerEvent, error) {
	ev, err := domain.DecodeTriggerEvent(raw)
	if err != nil {
		return domain.TriggerEvent{}, err
	}
	return domain.EnrichWithZone(ctx, ev, d.resolver, d.logger), nil
}
