package resource

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
)

const resourceGeoDatabase = "geo_database"

// Location is what the geo database knows about an address. Empty strings
// mean the database holds no data at that granularity.
type Location struct {
	Country      string
	Subdivision1 string
	City         string
	DMACode      string
}

// GeoDatabase is an opened IP-to-location database.
type GeoDatabase interface {
	// Lookup returns the location of ip; ok is false on a miss.
	Lookup(ip net.IP) (loc Location, ok bool, err error)
	// Version identifies the database build.
	Version() string
	Close() error
}

// GeoOpener opens the geo database stored at path.
type GeoOpener func(path string) (GeoDatabase, error)

// mmdbDatabase serves lookups from a MaxMind City database.
type mmdbDatabase struct {
	reader  *geoip2.Reader
	version string
}

// OpenMMDB opens a GeoIP2/GeoLite2 City database.
func OpenMMDB(path string) (GeoDatabase, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, &LoadError{Resource: resourceGeoDatabase, Path: path, Err: err}
	}
	meta := reader.Metadata()
	if !strings.Contains(meta.DatabaseType, "City") {
		reader.Close()
		return nil, &LoadError{
			Resource: resourceGeoDatabase, Path: path,
			Err: fmt.Errorf("database type %q is not a city database", meta.DatabaseType),
		}
	}
	version := time.Unix(int64(meta.BuildEpoch), 0).UTC().Format(time.RFC3339)
	return &mmdbDatabase{reader: reader, version: version}, nil
}

func (d *mmdbDatabase) Lookup(ip net.IP) (Location, bool, error) {
	rec, err := d.reader.City(ip)
	if err != nil {
		return Location{}, false, err
	}
	loc := Location{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 {
		loc.Subdivision1 = rec.Subdivisions[0].IsoCode
	}
	if rec.Location.MetroCode != 0 {
		loc.DMACode = strconv.FormatUint(uint64(rec.Location.MetroCode), 10)
	}
	if loc == (Location{}) {
		return Location{}, false, nil
	}
	return loc, true, nil
}

func (d *mmdbDatabase) Version() string { return d.version }

func (d *mmdbDatabase) Close() error { return d.reader.Close() }
