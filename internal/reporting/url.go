// Package reporting validates the reporting URL carried by a sponsored
// interaction and appends the dimensions the ads backend expects.
package reporting

import (
	"net/url"
	"strings"

	"github.com/ncloudioj/gcp-ingestion/internal/failure"
)

// Query parameters injected into reporting URLs.
const (
	ParamCountryCode    = "country-code"
	ParamRegionCode     = "region-code"
	ParamOSFamily       = "os-family"
	ParamFormFactor     = "form-factor"
	ParamDMACode        = "dma-code"
	ParamProductVersion = "product-version"
	ParamClickStatus    = "click-status"
)

type param struct {
	name  string
	value string
}

// ParsedURL is a reporting URL whose query parameters keep their original
// order. Parameters added later are appended; setting an existing name
// replaces its value in place.
type ParsedURL struct {
	base   url.URL
	params []param
}

// ParseURL parses raw as an absolute URL with a host.
func ParseURL(raw string) (*ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &failure.InvalidURLError{URL: raw, Reason: "cannot parse reporting url", Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &failure.InvalidURLError{URL: raw, Reason: "reporting url must be absolute"}
	}
	p := &ParsedURL{base: *u}
	p.base.RawQuery = ""
	p.base.ForceQuery = false
	if u.RawQuery != "" {
		for _, part := range strings.Split(u.RawQuery, "&") {
			if part == "" {
				continue
			}
			k, v, _ := strings.Cut(part, "=")
			name, err := url.QueryUnescape(k)
			if err != nil {
				return nil, &failure.InvalidURLError{URL: raw, Reason: "cannot parse query parameter", Err: err}
			}
			value, err := url.QueryUnescape(v)
			if err != nil {
				return nil, &failure.InvalidURLError{URL: raw, Reason: "cannot parse query parameter", Err: err}
			}
			p.params = append(p.params, param{name: name, value: value})
		}
	}
	return p, nil
}

// Host is the URL host without port.
func (p *ParsedURL) Host() string { return p.base.Hostname() }

// Param returns the first value of name.
func (p *ParsedURL) Param(name string) (string, bool) {
	for _, kv := range p.params {
		if kv.name == name {
			return kv.value, true
		}
	}
	return "", false
}

// Set replaces the value of name, or appends it when absent.
func (p *ParsedURL) Set(name, value string) {
	for i := range p.params {
		if p.params[i].name == name {
			p.params[i].value = value
			return
		}
	}
	p.params = append(p.params, param{name: name, value: value})
}

func (p *ParsedURL) String() string {
	u := p.base
	if len(p.params) > 0 {
		var b strings.Builder
		for i, kv := range p.params {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(kv.name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(kv.value))
		}
		u.RawQuery = b.String()
	}
	return u.String()
}
