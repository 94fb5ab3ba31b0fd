package event

// Attribute names read or written by the enrichment stage.
const (
	AttrDocumentNamespace = "document_namespace"
	AttrDocumentType      = "document_type"
	AttrRemoteAddr        = "remote_addr"
	AttrXForwardedFor     = "x_forwarded_for"
	AttrUserAgentOS       = "user_agent_os"
	AttrUserAgentVersion  = "user_agent_version"
	AttrIPReputation      = "x_foxsec_ip_reputation"
	AttrNormalizedCountry = "normalized_country_code"

	AttrGeoCountry      = "geo_country"
	AttrGeoCity         = "geo_city"
	AttrGeoSubdivision1 = "geo_subdivision1"
	AttrGeoDMACode      = "geo_dma_code"
	AttrGeoDBVersion    = "geo_db_version"
)

// Attributes is the string map carried alongside every payload.
type Attributes map[string]string

// Clone returns an independent copy. A nil map clones to an empty map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge inserts every key of add that is not already present.
// Keys that exist with a different value are left untouched and returned as
// conflicts; keys that exist with the same value are no-ops.
func (a Attributes) Merge(add Attributes) (conflicts []string) {
	for k, v := range add {
		cur, ok := a[k]
		if !ok {
			a[k] = v
			continue
		}
		if cur != v {
			conflicts = append(conflicts, k)
		}
	}
	return conflicts
}

// Record is the canonical unit flowing through the stage: an attribute map
// plus an opaque payload.
type Record struct {
	Attributes Attributes `json:"attributeMap" cbor:"attributeMap"`
	Payload    []byte     `json:"payload" cbor:"payload"`
}

// Clone deep-copies the record so later stages cannot mutate the original.
func (r Record) Clone() Record {
	out := Record{Attributes: r.Attributes.Clone()}
	if r.Payload != nil {
		out.Payload = make([]byte, len(r.Payload))
		copy(out.Payload, r.Payload)
	}
	return out
}
