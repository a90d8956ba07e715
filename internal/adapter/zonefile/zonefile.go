// Package zonefile serves zone configuration from a static YAML catalog.
//
// Example:
//
//	zones:
//	  - id: Z1
//	    name: Stadium
//	    custom_data:
//	      section: north
//	    fences:
//	      - id: F1
//	        name: Gate A
//	        geometry: polygon
//	    beacons:
//	      - id: B1
//	        name: Bar
//	        proximity_uuid: f7826da6-4fa2-4e98-8024-bc5b71e0893e
//	        major: 1
//	        minor: 2
package zonefile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

type catalog struct {
	Zones []zoneEntry `yaml:"zones"`
}

type zoneEntry struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	CustomData map[string]string `yaml:"custom_data"`
	Fences     []fenceEntry      `yaml:"fences"`
	Beacons    []domain.Beacon   `yaml:"beacons"`
}

type fenceEntry struct {
	domain.Fence `yaml:",inline"`
	Geometry     string `yaml:"geometry"`
}

// Resolver implements domain.ZoneResolver over an in-memory catalog.
type Resolver struct {
	zones map[string]domain.Zone
}

// Load reads and parses the catalog at path.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Resolver from YAML. Zone IDs must be present and unique.
func Parse(data []byte) (*Resolver, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse zone file: %w", err)
	}

	zones := make(map[string]domain.Zone, len(c.Zones))
	for i, z := range c.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("parse zone file: zone %d has no id", i)
		}
		if _, dup := zones[z.ID]; dup {
			return nil, fmt.Errorf("parse zone file: duplicate zone id %q", z.ID)
		}
		zones[z.ID] = z.toDomain()
	}
	return &Resolver{zones: zones}, nil
}

func (z zoneEntry) toDomain() domain.Zone {
	zone := domain.Zone{ID: z.ID, Name: z.Name, CustomData: z.CustomData}
	for _, f := range z.Fences {
		fence := f.Fence
		fence.ZoneID = z.ID
		fence.Geometry = domain.ParseGeometry(f.Geometry)
		zone.Fences = append(zone.Fences, fence)
	}
	for _, b := range z.Beacons {
		b.ZoneID = z.ID
		zone.Beacons = append(zone.Beacons, b)
	}
	return zone
}

// ResolveZone returns the configured zone or domain.ErrZoneNotFound.
func (r *Resolver) ResolveZone(_ context.Context, zoneID string) (domain.Zone, error) {
	zone, ok := r.zones[zoneID]
	if !ok {
		return domain.Zone{}, fmt.Errorf("zone %s: %w", zoneID, domain.ErrZoneNotFound)
	}
	return zone, nil
}

// Len returns the number of configured zones.
func (r *Resolver) Len() int {
	return len(r.zones)
}
