package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind distinguishes the two trigger source types.
type Kind int

const (
	KindFence Kind = iota + 1
	KindBeacon
)

var kindNames = map[Kind]string{
	KindFence:  "fence",
	KindBeacon: "beacon",
}

var kindFromName = map[string]Kind{
	"fence":  KindFence,
	"beacon": KindBeacon,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := kindFromName[s]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	*k = v
	return nil
}

// Action is the direction of a raw trigger.
type Action int

const (
	ActionEnter Action = iota + 1
	ActionExit
)

var actionNames = map[Action]string{
	ActionEnter: "enter",
	ActionExit:  "exit",
}

var actionFromName = map[string]Action{
	"enter":     ActionEnter,
	"exit":      ActionExit,
	"check_in":  ActionEnter,
	"check_out": ActionExit,
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := actionFromName[s]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	*a = v
	return nil
}

// Proximity is the beacon range band at which a trigger occurred.
type Proximity int

const (
	ProximityUnknown Proximity = iota
	ProximityImmediate
	ProximityNear
	ProximityFar
)

var proximityNames = map[Proximity]string{
	ProximityUnknown:   "unknown",
	ProximityImmediate: "immediate",
	ProximityNear:      "near",
	ProximityFar:       "far",
}

var proximityFromName = map[string]Proximity{
	"unknown":   ProximityUnknown,
	"immediate": ProximityImmediate,
	"near":      ProximityNear,
	"far":       ProximityFar,
}

func (p Proximity) String() string {
	if s, ok := proximityNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Proximity) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON maps unrecognised bands to ProximityUnknown.
func (p *Proximity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = proximityFromName[s]
	return nil
}

// Geometry is the shape of a fence.
type Geometry int

const (
	GeometryUnknown Geometry = iota
	GeometryCircle
	GeometryRectangle
	GeometryPolygon
	GeometryLineString
)

var geometryNames = map[Geometry]string{
	GeometryUnknown:    "unknown",
	GeometryCircle:     "circle",
	GeometryRectangle:  "rectangle",
	GeometryPolygon:    "polygon",
	GeometryLineString: "linestring",
}

var geometryFromName = map[string]Geometry{
	"unknown":    GeometryUnknown,
	"circle":     GeometryCircle,
	"rectangle":  GeometryRectangle,
	"polygon":    GeometryPolygon,
	"linestring": GeometryLineString,
}

func (g Geometry) String() string {
	if s, ok := geometryNames[g]; ok {
		return s
	}
	return "unknown"
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*g = ParseGeometry(s)
	return nil
}

// ParseGeometry maps a geometry name to its value. Unrecognized names yield
// GeometryUnknown.
func ParseGeometry(s string) Geometry {
	return geometryFromName[strings.ToLower(s)]
}
