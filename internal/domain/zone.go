package domain

import (
	"context"
	"log/slog"
	"maps"
)

// ZoneResolver looks up zone configuration held by the location backend.
type ZoneResolver interface {
	ResolveZone(ctx context.Context, zoneID string) (Zone, error)
}

// EnrichWithZone fills the zone name, custom data and source name of a
// check-in from the resolver. Values carried by the event win over resolved
// ones. If the resolver is nil or fails, the event is returned unchanged
// (graceful degradation).
func EnrichWithZone(ctx context.Context, ev TriggerEvent, resolver ZoneResolver, logger *slog.Logger) TriggerEvent {
	if resolver == nil || ev.Action != ActionEnter {
		return ev
	}

	zone, err := resolver.ResolveZone(ctx, ev.Zone.ID)
	if err != nil {
		logger.Warn("zone lookup failed",
			"zone_id", ev.Zone.ID,
			"kind", ev.Kind,
			"source_id", ev.SourceID,
			"error", err,
		)
		return ev
	}

	if ev.Zone.Name == "" {
		ev.Zone.Name = zone.Name
	}
	if len(zone.CustomData) > 0 {
		merged := maps.Clone(zone.CustomData)
		maps.Copy(merged, ev.Zone.CustomData)
		ev.Zone.CustomData = merged
	}
	if ev.SourceName == "" {
		if name, ok := zone.SourceName(ev.Kind, ev.SourceID); ok {
			ev.SourceName = name
		}
	}
	return ev
}
