package resource

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
)

// Cache loads heavy lookup resources once per process and shares them with
// every worker. Entries are keyed by path. Concurrent first accesses to the
// same entry collapse into a single load and observe the same outcome; a
// failed load is not remembered.
type Cache struct {
	mu      sync.RWMutex
	geo     map[string]GeoDatabase
	allow   map[string]*AllowList
	cities  map[string]CityFilter
	group   singleflight.Group
	openGeo GeoOpener
	log     zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithGeoOpener replaces the mmdb opener, e.g. with an in-memory database.
func WithGeoOpener(open GeoOpener) Option {
	return func(c *Cache) { c.openGeo = open }
}

// WithLogger sets the logger used to report loads.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// NewCache creates an empty Cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		geo:     make(map[string]GeoDatabase),
		allow:   make(map[string]*AllowList),
		cities:  make(map[string]CityFilter),
		openGeo: OpenMMDB,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GeoDatabase returns the database at path, opening it on first use.
func (c *Cache) GeoDatabase(path string) (GeoDatabase, error) {
	return memoize(c, resourceGeoDatabase, path, c.geo, func() (GeoDatabase, error) {
		if path == "" {
			return nil, &LoadError{Resource: resourceGeoDatabase, Path: path, Err: errPathUndefined}
		}
		return c.openGeo(path)
	})
}

// AllowList returns the URL allow-list at path, parsing it on first use.
func (c *Cache) AllowList(path string) (*AllowList, error) {
	return memoize(c, resourceAllowList, path, c.allow, func() (*AllowList, error) {
		return LoadAllowList(path)
	})
}

// CityFilter returns the city filter at path. An empty path yields the
// disabled filter.
func (c *Cache) CityFilter(path string) (CityFilter, error) {
	if path == "" {
		return CityFilter{}, nil
	}
	return memoize(c, resourceCityFilter, path, c.cities, func() (CityFilter, error) {
		return LoadCityFilter(path)
	})
}

// Reset closes open databases and forgets every entry. Tests only.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, db := range c.geo {
		if err := db.Close(); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("closing geo database")
		}
	}
	clear(c.geo)
	clear(c.allow)
	clear(c.cities)
}

func memoize[T any](c *Cache, resource, path string, entries map[string]T, load func() (T, error)) (T, error) {
	c.mu.RLock()
	v, ok := entries[path]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := c.group.Do(resource+"|"+path, func() (any, error) {
		c.mu.RLock()
		v, ok := entries[path]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			metrics.ResourceLoads.WithLabelValues(resource, "error").Inc()
			c.log.Error().Err(err).Str("resource", resource).Str("path", path).Msg("resource load failed")
			return nil, err
		}
		c.mu.Lock()
		entries[path] = v
		c.mu.Unlock()
		metrics.ResourceLoads.WithLabelValues(resource, "ok").Inc()
		c.log.Info().Str("resource", resource).Str("path", path).Msg("resource loaded")
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
