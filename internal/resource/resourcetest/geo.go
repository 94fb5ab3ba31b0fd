// Package resourcetest provides in-memory resources for tests.
package resourcetest

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/ncloudioj/gcp-ingestion/internal/resource"
)

// DBVersion is the build version reported by the fixture database.
const DBVersion = "2019-01-03T21:26:19Z"

// GeoDatabase is a map-backed resource.GeoDatabase.
type GeoDatabase struct {
	mu        sync.RWMutex
	locations map[string]resource.Location
	version   string
	closed    atomic.Bool
}

// NewGeoDatabase creates a database answering for the given IPs.
func NewGeoDatabase(version string, locations map[string]resource.Location) *GeoDatabase {
	db := &GeoDatabase{locations: make(map[string]resource.Location, len(locations)), version: version}
	for ip, loc := range locations {
		db.locations[net.ParseIP(ip).String()] = loc
	}
	return db
}

// Fixture mirrors the addresses used by the geo lookup tests: a country-only
// range in the Philippines and a Milton, WA address with a metro code.
func Fixture() *GeoDatabase {
	return NewGeoDatabase(DBVersion, map[string]resource.Location{
		"202.196.224.0": {Country: "PH"},
		"192.168.1.2":   {Country: "US", Subdivision1: "WA", City: "Milton", DMACode: "819"},
		"216.160.83.56": {Country: "US", Subdivision1: "WA", City: "Milton", DMACode: "819"},
	})
}

func (d *GeoDatabase) Lookup(ip net.IP) (resource.Location, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.locations[ip.String()]
	return loc, ok, nil
}

func (d *GeoDatabase) Version() string { return d.version }

func (d *GeoDatabase) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (d *GeoDatabase) Closed() bool { return d.closed.Load() }

// Opener returns a resource.GeoOpener that serves db for every path and
// counts how many times it was invoked.
func Opener(db resource.GeoDatabase, calls *atomic.Int32) resource.GeoOpener {
	return func(path string) (resource.GeoDatabase, error) {
		if calls != nil {
			calls.Add(1)
		}
		return db, nil
	}
}
