// Package geo attaches coarse location attributes derived from a record's
// client IP address.
package geo

import (
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
	"github.com/ncloudioj/gcp-ingestion/internal/resource"
)

// Source names the attribute a client IP was taken from.
type Source string

const (
	SourceNone          Source = ""
	SourceXForwardedFor Source = event.AttrXForwardedFor
	SourceRemoteAddr    Source = event.AttrRemoteAddr
)

// Counter names reported under the geo_city_lookup stage.
const (
	CounterCountry       = "country"
	CounterCity          = "city"
	CounterSubdivision1  = "subdivision1"
	CounterDMACode       = "dma_code"
	CounterDBVersion     = "db_version"
	CounterFromXFF       = "ip_from_x_forwarded_for"
	CounterFromRemote    = "ip_from_remote_addr"
	CounterNoIP          = "no_ip_found"
	CounterCityRejected  = "city_rejected"
	CounterConflict      = "attribute_conflict"
	CounterLookupFailure = "lookup_error"
)

// ResolveClientIP picks the address to geolocate. The first entry of
// x_forwarded_for wins over remote_addr; proxies are not validated.
func ResolveClientIP(attrs event.Attributes) (string, Source, bool) {
	if xff, ok := attrs[event.AttrXForwardedFor]; ok {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip, SourceXForwardedFor, true
		}
	}
	if ip := strings.TrimSpace(attrs[event.AttrRemoteAddr]); ip != "" {
		return ip, SourceRemoteAddr, true
	}
	return "", SourceNone, false
}

// Result is the outcome of a lookup. Empty location fields are absent.
type Result struct {
	Country      string
	City         string
	Subdivision1 string
	DMACode      string
	DBVersion    string
}

// Attributes renders the result as geo_* attributes, skipping absent fields.
func (r Result) Attributes() event.Attributes {
	attrs := event.Attributes{event.AttrGeoDBVersion: r.DBVersion}
	for name, v := range map[string]string{
		event.AttrGeoCountry:      r.Country,
		event.AttrGeoCity:         r.City,
		event.AttrGeoSubdivision1: r.Subdivision1,
		event.AttrGeoDMACode:      r.DMACode,
	} {
		if v != "" {
			attrs[name] = v
		}
	}
	return attrs
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithCityFilter restricts city-level detail to the filter's members.
func WithCityFilter(f resource.CityFilter) Option {
	return func(e *Enricher) { e.cities = f }
}

// WithStripIPAttributes controls whether remote_addr and x_forwarded_for are
// removed from enriched records. Enabled by default.
func WithStripIPAttributes(strip bool) Option {
	return func(e *Enricher) { e.strip = strip }
}

// WithLogger sets the enricher's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Enricher) { e.log = log }
}

// Enricher adds geo_* attributes to records. It is safe for concurrent use;
// the database and city filter are shared read-only.
type Enricher struct {
	db     resource.GeoDatabase
	cities resource.CityFilter
	strip  bool
	log    zerolog.Logger
}

// NewEnricher creates an Enricher over an opened database.
func NewEnricher(db resource.GeoDatabase, opts ...Option) (*Enricher, error) {
	if db == nil {
		return nil, errors.New("geo: database is required")
	}
	e := &Enricher{db: db, strip: true, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Lookup geolocates ip. An unparsable address or a database miss yields a
// result with only DBVersion set and ok=false; neither is an error.
func (e *Enricher) Lookup(ip string) (Result, bool) {
	res := Result{DBVersion: e.db.Version()}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return res, false
	}
	loc, ok, err := e.db.Lookup(parsed)
	if err != nil {
		metrics.IncStage(failure.StageGeo, CounterLookupFailure)
		e.log.Debug().Err(err).Str("ip", ip).Msg("geo lookup failed")
		return res, false
	}
	if !ok {
		return res, false
	}
	res.Country = loc.Country
	res.Subdivision1 = loc.Subdivision1
	res.City = loc.City
	res.DMACode = loc.DMACode
	// An enabled filter keeps city and dma only for listed cities, so a
	// location without a city loses its dma too.
	if e.cities.Enabled() && !e.cities.Allows(res.City) {
		if res.City != "" {
			metrics.IncStage(failure.StageGeo, CounterCityRejected)
		}
		res.City = ""
		res.DMACode = ""
	}
	return res, true
}

// Enrich returns a copy of rec carrying the geo attributes for its client IP
// plus geo_db_version. Existing attributes are never overwritten. The
// payload is left untouched.
func (e *Enricher) Enrich(rec event.Record) event.Record {
	out := rec.Clone()

	res := Result{DBVersion: e.db.Version()}
	ip, src, ok := ResolveClientIP(out.Attributes)
	switch src {
	case SourceXForwardedFor:
		metrics.IncStage(failure.StageGeo, CounterFromXFF)
	case SourceRemoteAddr:
		metrics.IncStage(failure.StageGeo, CounterFromRemote)
	default:
		metrics.IncStage(failure.StageGeo, CounterNoIP)
	}
	if ok {
		res, _ = e.Lookup(ip)
	}

	add := res.Attributes()
	conflicts := out.Attributes.Merge(add)
	for _, k := range conflicts {
		metrics.IncStage(failure.StageGeo, CounterConflict)
		e.log.Warn().Str("attribute", k).Msg("geo attribute already present with a different value")
		delete(add, k)
	}
	countInserted(add)

	if e.strip {
		delete(out.Attributes, event.AttrRemoteAddr)
		delete(out.Attributes, event.AttrXForwardedFor)
	}
	return out
}

var counterByAttribute = map[string]string{
	event.AttrGeoCountry:      CounterCountry,
	event.AttrGeoCity:         CounterCity,
	event.AttrGeoSubdivision1: CounterSubdivision1,
	event.AttrGeoDMACode:      CounterDMACode,
	event.AttrGeoDBVersion:    CounterDBVersion,
}

func countInserted(attrs event.Attributes) {
	for k := range attrs {
		if name, ok := counterByAttribute[k]; ok {
			metrics.IncStage(failure.StageGeo, name)
		}
	}
}
