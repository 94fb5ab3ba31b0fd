package reporting

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
	"github.com/ncloudioj/gcp-ingestion/internal/interaction"
	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
	"github.com/ncloudioj/gcp-ingestion/internal/resource"
)

// Counter names, split by document namespace and type.
const (
	CounterValidURL           = "valid_url"
	CounterRejectedNonNullURL = "rejected_nonnull_url"
)

// Click status values understood by the ads backend.
const (
	ClickStatusAbuse = "64"
	ClickStatusGhost = "65"
)

// DefaultIPReputationThreshold is the reputation below which a click is
// flagged as likely abuse.
const DefaultIPReputationThreshold = 70

const (
	payloadReportingURL   = "reporting_url"
	payloadMobileURL      = "metrics.url2.top_sites_contile_reporting_url"
	payloadNormalizedCode = "normalized_country_code"
)

type ruleKey struct {
	source      interaction.Source
	interaction interaction.Type
}

// requiredParams lists the query parameters each interaction kind must
// carry before it is forwarded.
var requiredParams = map[ruleKey][]string{
	{interaction.SourceTopSites, interaction.Click}:      {"ctag", "version", "key", "ci"},
	{interaction.SourceSuggest, interaction.Click}:       {"ctag", "custom-data", "sub1", "sub2"},
	{interaction.SourceTopSites, interaction.Impression}: {"id"},
	{interaction.SourceSuggest, interaction.Impression}:  {"custom-data", "sub1", "sub2", "partner", "adv-id", "v"},
}

// osFamilies maps user_agent_os prefixes onto os-family values.
var osFamilies = []struct{ prefix, family string }{
	{"Windows", "Windows"},
	{"Macintosh", "macOS"},
	{"Linux", "Linux"},
	{"Android", "Android"},
}

// Option configures a Validator.
type Option func(*Validator)

// WithIPReputationThreshold overrides DefaultIPReputationThreshold.
func WithIPReputationThreshold(n int) Option {
	return func(v *Validator) { v.threshold = n }
}

// WithLogger sets the validator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// Validator checks reporting URLs against an allow-list and the parameter
// contract of their interaction kind. It holds no per-record state.
type Validator struct {
	allow     *resource.AllowList
	threshold int
	log       zerolog.Logger
}

// NewValidator creates a Validator over a loaded allow-list.
func NewValidator(allow *resource.AllowList, opts ...Option) (*Validator, error) {
	if allow == nil {
		return nil, errors.New("reporting: allow list is required")
	}
	v := &Validator{allow: allow, threshold: DefaultIPReputationThreshold, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate extracts the reporting URL from rec's payload, checks it and
// returns si with the finalized URL. Failures are *failure.InvalidURLError
// or *failure.RejectedMessageError.
func (v *Validator) Validate(si interaction.SponsoredInteraction, rec event.Record) (interaction.SponsoredInteraction, error) {
	doc := gjson.ParseBytes(rec.Payload)
	raw := extractReportingURL(doc)

	u, err := ParseURL(raw)
	if err != nil {
		return si, err
	}
	if !v.allowed(u.Host(), si.InteractionType) {
		metrics.IncDocType(rec.Attributes, CounterRejectedNonNullURL)
		return si, &failure.InvalidURLError{URL: raw, Reason: "reporting url host not found in allow list"}
	}

	for _, name := range requiredParams[ruleKey{si.Source, si.InteractionType}] {
		if _, ok := u.Param(name); !ok {
			return si, failure.Rejected(name, "missing required url query parameter: %s", name)
		}
	}

	if si.Source == interaction.SourceTopSites {
		if err := injectTopSites(u, si, rec.Attributes, doc); err != nil {
			return si, err
		}
	}
	if si.Source == interaction.SourceTopSites &&
		si.InteractionType == interaction.Click &&
		si.FormFactor == interaction.FormDesktop {
		if err := v.injectDesktopClick(u, rec.Attributes); err != nil {
			return si, err
		}
	}

	si.ReportingURL = u.String()
	metrics.IncDocType(rec.Attributes, CounterValidURL)
	return si, nil
}

// allowed accepts an exact host match or a subdomain of an entry, so
// mozilla.test.com matches test.com but mozillatest.com does not.
func (v *Validator) allowed(host string, typ interaction.Type) bool {
	var hosts map[string]struct{}
	switch typ {
	case interaction.Click:
		hosts = v.allow.Hosts(resource.ActionClick)
	case interaction.Impression:
		hosts = v.allow.Hosts(resource.ActionImpression)
	}
	if _, ok := hosts[host]; ok {
		return true
	}
	for entry := range hosts {
		if strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

func extractReportingURL(doc gjson.Result) string {
	if r := doc.Get(payloadReportingURL); r.Exists() {
		return r.String()
	}
	return doc.Get(payloadMobileURL).String()
}

func injectTopSites(u *ParsedURL, si interaction.SponsoredInteraction, attrs event.Attributes, doc gjson.Result) error {
	country := doc.Get(payloadNormalizedCode)
	var code string
	switch {
	case country.Exists() && country.Type != gjson.Null:
		code = country.String()
	case attrs[event.AttrNormalizedCountry] != "":
		code = attrs[event.AttrNormalizedCountry]
	default:
		return failure.Rejected("country", "missing required payload value %s", payloadNormalizedCode)
	}
	family, err := osFamily(attrs)
	if err != nil {
		return err
	}
	u.Set(ParamCountryCode, code)
	u.Set(ParamRegionCode, attrs[event.AttrGeoSubdivision1])
	u.Set(ParamOSFamily, family)
	u.Set(ParamFormFactor, string(si.FormFactor))
	u.Set(ParamDMACode, attrs[event.AttrGeoDMACode])
	return nil
}

func osFamily(attrs event.Attributes) (string, error) {
	userAgentOS, ok := attrs[event.AttrUserAgentOS]
	if !ok {
		return "", failure.Rejected("os", "missing required OS attribute")
	}
	for _, f := range osFamilies {
		if strings.HasPrefix(userAgentOS, f.prefix) {
			return f.family, nil
		}
	}
	return "", failure.Rejected("os", "unrecognized OS attribute: %s", userAgentOS)
}

func (v *Validator) injectDesktopClick(u *ParsedURL, attrs event.Attributes) error {
	version, ok := attrs[event.AttrUserAgentVersion]
	if !ok {
		return failure.Rejected(event.AttrUserAgentVersion, "missing required attribute %s", event.AttrUserAgentVersion)
	}
	u.Set(ParamProductVersion, "firefox_"+version)

	// a reputation that does not parse is treated as unknown
	reputation, err := strconv.Atoi(attrs[event.AttrIPReputation])
	if err == nil && reputation < v.threshold {
		u.Set(ParamClickStatus, ClickStatusAbuse)
		v.log.Debug().Int("ip_reputation", reputation).Msg("click flagged as likely abuse")
	}
	return nil
}
