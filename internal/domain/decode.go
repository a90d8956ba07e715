package domain

import (
	"encoding/json"
	"fmt"
)

// DecodeTriggerEvent deserializes a RawEvent's value into a TriggerEvent.
// OccurredAt falls back to the message timestamp when the payload omits it.
func DecodeTriggerEvent(raw RawEvent) (TriggerEvent, error) {
	var ev TriggerEvent
	if err := json.Unmarshal(raw.Value, &ev); err != nil {
		return TriggerEvent{}, fmt.Errorf("decode trigger event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return TriggerEvent{}, fmt.Errorf("decode trigger event: %w", err)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = raw.Timestamp
	}
	if ev.Kind == KindFence {
		ev.Proximity = ProximityUnknown
	}
	return ev, nil
}

// Validate checks the fields the correlator relies on.
func (e TriggerEvent) Validate() error {
	if _, ok := actionNames[e.Action]; !ok {
		return ErrUnknownAction
	}
	if _, ok := kindNames[e.Kind]; !ok {
		return ErrUnknownKind
	}
	if e.SourceID == "" {
		return ErrMissingSource
	}
	if e.Action == ActionEnter && e.Zone.ID == "" {
		return ErrMissingZone
	}
	return nil
}
