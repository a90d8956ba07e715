package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Zone is a named collection of fences and beacons sharing custom data.
type Zone struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	CustomData map[string]string `json:"custom_data,omitempty"`

	// Members, in the order configured on the location backend. Only
	// populated by a ZoneResolver; trigger payloads leave them empty.
	Fences  []Fence  `json:"fences,omitempty"`
	Beacons []Beacon `json:"beacons,omitempty"`
}

// SourceName looks up the name of a member fence or beacon.
func (z Zone) SourceName(kind Kind, sourceID string) (string, bool) {
	switch kind {
	case KindFence:
		for _, f := range z.Fences {
			if f.ID == sourceID {
				return f.Name, true
			}
		}
	case KindBeacon:
		for _, b := range z.Beacons {
			if b.ID == sourceID {
				return b.Name, true
			}
		}
	}
	return "", false
}

// Summary returns the zone without its member lists.
func (z Zone) Summary() Zone {
	return Zone{ID: z.ID, Name: z.Name, CustomData: z.CustomData}
}

// Fence is a geofenced region inside a zone.
type Fence struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	ZoneID   string   `json:"zone_id" yaml:"-"`
	Geometry Geometry `json:"geometry" yaml:"-"`
}

// Beacon is a BLE proximity source inside a zone.
type Beacon struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	ZoneID        string `json:"zone_id" yaml:"-"`
	ProximityUUID string `json:"proximity_uuid,omitempty" yaml:"proximity_uuid"`
	Major         int    `json:"major,omitempty" yaml:"major"`
	Minor         int    `json:"minor,omitempty" yaml:"minor"`
}

// Location is the device (or beacon) position reported with a trigger.
type Location struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy,omitempty"` // meters
	Speed    float64 `json:"speed,omitempty"`    // m/s
	Bearing  float64 `json:"bearing,omitempty"`  // degrees
}

// TriggerKey identifies a trigger source. Fences and beacons are keyed
// independently so a device can be inside both in the same zone.
type TriggerKey struct {
	Kind     Kind   `json:"kind"`
	SourceID string `json:"source_id"`
}

func (k TriggerKey) String() string {
	return k.Kind.String() + ":" + k.SourceID
}

// TriggerEvent is a decoded enter or exit notification.
type TriggerEvent struct {
	Action       Action            `json:"action"`
	Kind         Kind              `json:"kind"`
	SourceID     string            `json:"source_id"`
	SourceName   string            `json:"source_name,omitempty"`
	Zone         Zone              `json:"zone"`
	Geometry     Geometry          `json:"geometry,omitempty"`
	Proximity    Proximity         `json:"proximity,omitempty"`
	Location     Location          `json:"location"`
	WillCheckOut bool              `json:"will_check_out"`
	CustomData   map[string]string `json:"custom_data,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Key returns the correlation key of the event.
func (e TriggerEvent) Key() TriggerKey {
	return TriggerKey{Kind: e.Kind, SourceID: e.SourceID}
}

// ExpectsCheckOut reports whether a check-out will follow this check-in.
// A linestring fence has no inside, so it can never be exited.
func (e TriggerEvent) ExpectsCheckOut() bool {
	if e.Kind == KindFence && e.Geometry == GeometryLineString {
		return false
	}
	return e.WillCheckOut
}

// TriggerInstance is an open check-in awaiting its check-out (or tag expiry
// when no check-out is expected).
type TriggerInstance struct {
	ID           string            `json:"id"`
	Key          TriggerKey        `json:"key"`
	SourceName   string            `json:"source_name,omitempty"`
	Zone         Zone              `json:"zone"`
	Geometry     Geometry          `json:"geometry,omitempty"`
	Proximity    Proximity         `json:"proximity,omitempty"`
	Location     Location          `json:"location"`
	WillCheckOut bool              `json:"will_check_out"`
	CustomData   map[string]string `json:"custom_data,omitempty"`
	Tags         []string          `json:"tags"`
	EnteredAt    time.Time         `json:"entered_at"`
}

// CheckIn is delivered to the application when a trigger source is entered.
type CheckIn struct {
	InstanceID   string            `json:"instance_id"`
	Kind         Kind              `json:"kind"`
	SourceID     string            `json:"source_id"`
	SourceName   string            `json:"source_name,omitempty"`
	Zone         Zone              `json:"zone"`
	Location     Location          `json:"location"`
	Proximity    Proximity         `json:"proximity,omitempty"` // beacons only
	WillCheckOut bool              `json:"will_check_out"`
	CustomData   map[string]string `json:"custom_data,omitempty"`
	Tags         []string          `json:"tags"` // tags added to the registration
	At           time.Time         `json:"at"`
}

// CheckOut is delivered to the application when a trigger source is left.
type CheckOut struct {
	InstanceID string            `json:"instance_id"`
	Kind       Kind              `json:"kind"`
	SourceID   string            `json:"source_id"`
	SourceName string            `json:"source_name,omitempty"`
	Zone       Zone              `json:"zone"`
	Proximity  Proximity         `json:"proximity,omitempty"` // proximity recorded at check-in
	At         time.Time         `json:"at"`
	Duration   int               `json:"checked_in_minutes"`
	CustomData map[string]string `json:"custom_data,omitempty"`
	Tags       []string          `json:"tags"` // tags removed from the registration
}

// NewCheckIn builds the check-in payload for an instance.
func NewCheckIn(inst TriggerInstance) CheckIn {
	return CheckIn{
		InstanceID:   inst.ID,
		Kind:         inst.Key.Kind,
		SourceID:     inst.Key.SourceID,
		SourceName:   inst.SourceName,
		Zone:         inst.Zone,
		Location:     inst.Location,
		Proximity:    inst.Proximity,
		WillCheckOut: inst.WillCheckOut,
		CustomData:   inst.CustomData,
		Tags:         inst.Tags,
		At:           inst.EnteredAt,
	}
}

// NewCheckOut builds the check-out payload for an instance closed at the given time.
func NewCheckOut(inst TriggerInstance, at time.Time, minutes int) CheckOut {
	return CheckOut{
		InstanceID: inst.ID,
		Kind:       inst.Key.Kind,
		SourceID:   inst.Key.SourceID,
		SourceName: inst.SourceName,
		Zone:       inst.Zone,
		Proximity:  inst.Proximity,
		At:         at,
		Duration:   minutes,
		CustomData: inst.CustomData,
		Tags:       inst.Tags,
	}
}

// DwellMinutes returns the whole minutes between enteredAt and exitedAt,
// rounded down. The second result is false when the interval was negative
// (clock skew) and had to be clamped to zero.
func DwellMinutes(enteredAt, exitedAt time.Time) (int, bool) {
	d := exitedAt.Sub(enteredAt)
	if d < 0 {
		return 0, false
	}
	return int(d / time.Minute), true
}

// TagDelta is the tag change produced by a single check-in or check-out.
type TagDelta struct {
	Key        TriggerKey
	InstanceID string
	Added      []string
	Removed    []string
	CustomData map[string]string
}

// Empty reports whether the delta changes nothing.
func (d TagDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// TagUpdate is the request handed to the engagement backend for one TagDelta.
type TagUpdate struct {
	ChannelID  string            `json:"channel_id"`
	Source     TriggerKey        `json:"source"`
	InstanceID string            `json:"instance_id,omitempty"`
	Add        []string          `json:"add,omitempty"`
	Remove     []string          `json:"remove,omitempty"`
	CustomData map[string]string `json:"custom_data,omitempty"`
	At         time.Time         `json:"at"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// MergedCustomData returns the zone custom data overlaid with the event's own
// custom data. The result is nil when both are empty.
func (e TriggerEvent) MergedCustomData() map[string]string {
	if len(e.Zone.CustomData) == 0 && len(e.CustomData) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Zone.CustomData)+len(e.CustomData))
	for k, v := range e.Zone.CustomData {
		out[k] = v
	}
	for k, v := range e.CustomData {
		out[k] = v
	}
	return out
}
