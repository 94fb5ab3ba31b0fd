package resource

import (
	"bufio"
	"os"
	"strings"
)

const resourceCityFilter = "geo_city_filter"

// CityFilter is the set of city names allowed to keep city-level detail.
// The zero value is disabled and allows every city.
type CityFilter struct {
	cities map[string]struct{}
}

// NewCityFilter builds an enabled filter from names.
func NewCityFilter(names ...string) CityFilter {
	f := CityFilter{cities: make(map[string]struct{}, len(names))}
	for _, n := range names {
		f.cities[n] = struct{}{}
	}
	return f
}

// Enabled reports whether a filter file was configured.
func (f CityFilter) Enabled() bool { return f.cities != nil }

// Allows reports whether city keeps its city-level attributes.
func (f CityFilter) Allows(city string) bool {
	if f.cities == nil {
		return true
	}
	_, ok := f.cities[city]
	return ok
}

// Len is the number of allowed cities.
func (f CityFilter) Len() int { return len(f.cities) }

// LoadCityFilter reads one city name per line. An empty path disables
// filtering.
func LoadCityFilter(path string) (CityFilter, error) {
	if path == "" {
		return CityFilter{}, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return CityFilter{}, &LoadError{Resource: resourceCityFilter, Path: path, Err: err}
	}
	defer fh.Close()

	filter := CityFilter{cities: make(map[string]struct{})}
	sc := bufio.NewScanner(fh)
	n := 0
	for sc.Scan() {
		n++
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if strings.Contains(name, ",") {
			return CityFilter{}, &FormatError{
				Resource: resourceCityFilter, Path: path, Line: n, Text: name,
				Reason: "expected a single city name per line",
			}
		}
		filter.cities[name] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return CityFilter{}, &LoadError{Resource: resourceCityFilter, Path: path, Err: err}
	}
	if len(filter.cities) == 0 {
		return CityFilter{}, &FormatError{Resource: resourceCityFilter, Path: path, Reason: "no city names"}
	}
	return filter, nil
}
