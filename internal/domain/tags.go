package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	zoneTagPrefix   = "zone_"
	fenceTagPrefix  = "fence_"
	beaconTagPrefix = "beacon_"
)

// NormalizeTag lower-cases a tag and replaces runs of whitespace with a single
// underscore. Empty input yields an empty tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.Join(strings.Fields(tag), "_"))
}

// CheckInTags derives the tag set added to the registration for a check-in:
// the zone tag, the source tag and any extra tags carried by the event.
// The result is normalized, deduplicated and sorted.
func CheckInTags(e TriggerEvent) []string {
	tags := make([]string, 0, len(e.Tags)+2)

	zoneName := e.Zone.Name
	if zoneName == "" {
		zoneName = e.Zone.ID
	}
	if t := NormalizeTag(zoneName); t != "" {
		tags = append(tags, zoneTagPrefix+t)
	}

	sourceName := e.SourceName
	if sourceName == "" {
		sourceName = e.SourceID
	}
	if t := NormalizeTag(sourceName); t != "" {
		switch e.Kind {
		case KindFence:
			tags = append(tags, fenceTagPrefix+t)
		case KindBeacon:
			tags = append(tags, beaconTagPrefix+t)
		}
	}

	for _, extra := range e.Tags {
		if t := NormalizeTag(extra); t != "" {
			tags = append(tags, t)
		}
	}

	slices.Sort(tags)
	return slices.Compact(tags)
}

// SerializeTagUpdate marshals a TagUpdate into a sink-topic message keyed by
// channel so that updates for one device stay ordered within a partition.
func SerializeTagUpdate(u TagUpdate) (OutputEvent, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize tag update: %w", err)
	}
	return OutputEvent{
		Key:   []byte(u.ChannelID),
		Value: data,
		Headers: map[string]string{
			"source": u.Source.String(),
			"at":     u.At.Format(time.RFC3339),
		},
	}, nil
}
