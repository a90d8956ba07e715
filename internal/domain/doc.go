// Package domain models proximity triggers reported by a location-detection
// backend and the audience tags they produce in an engagement backend.
//
// # Trigger Sources
//
// A Zone groups Fences (geofenced regions) and Beacons (BLE proximity
// sources). Zones carry custom data configured on the location backend; the
// data is copied onto every check-in and check-out produced from the zone.
// Fences and beacons reference their zone by ID only.
//
// # Raw Events
//
// The location backend publishes one JSON document per trigger to the source
// topic:
//
//	{
//	  "action": "enter",            // "enter" or "exit"
//	  "kind": "fence",              // "fence" or "beacon"
//	  "source_id": "F1",
//	  "source_name": "Gate A",
//	  "zone": {"id": "Z1", "name": "Stadium", "custom_data": {"section": "north"}},
//	  "geometry": "polygon",        // fences: circle, rectangle, polygon, linestring
//	  "proximity": "near",          // beacons: immediate, near, far
//	  "location": {"lat": -37.81, "lon": 144.96},
//	  "will_check_out": true,
//	  "tags": ["vip"],
//	  "occurred_at": "2024-04-26T15:10:00Z"
//	}
//
// Exit documents only need action, kind and source_id. Delivery may be
// duplicated or reordered; the correlator absorbs both.
//
// # Tags
//
// A check-in adds "zone_<zone name>" and "fence_<name>" or "beacon_<name>" to
// the device registration, plus any extra tags carried by the event. Names are
// lower-cased and whitespace becomes underscores. The matching check-out
// removes exactly the same set.
//
// # Dwell Time
//
// Dwell duration is reported in whole minutes, rounded down, and never
// negative. See [DwellMinutes].
package domain
