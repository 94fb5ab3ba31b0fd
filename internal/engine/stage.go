package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ncloudioj/gcp-ingestion/internal/codec"
	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
	"github.com/ncloudioj/gcp-ingestion/internal/geo"
	"github.com/ncloudioj/gcp-ingestion/internal/interaction"
	"github.com/ncloudioj/gcp-ingestion/internal/reporting"
	"github.com/ncloudioj/gcp-ingestion/internal/resource"
)

// Mode selects the per-record chain.
type Mode string

const (
	// ModeGeo only attaches geo attributes.
	ModeGeo Mode = "geo"
	// ModeContextualServices classifies, geolocates and validates the
	// reporting URL of contextual-services pings.
	ModeContextualServices Mode = "contextual_services"
)

// StageConfig names the resources and knobs of a Stage.
type StageConfig struct {
	Mode                  Mode
	GeoDatabase           string
	GeoCityFilter         string
	URLAllowList          string
	StripIPAttributes     bool
	// IPReputationThreshold below which desktop clicks are tagged; nil
	// means reporting.DefaultIPReputationThreshold.
	IPReputationThreshold *int
	// MaxPayloadBytes caps inflated payloads; 0 means
	// codec.DefaultMaxPayloadBytes.
	MaxPayloadBytes       int64
}

// Stage runs the per-record chain. It is safe for concurrent use.
type Stage struct {
	mode       Mode
	maxPayload int64
	enricher   *geo.Enricher
	validator  *reporting.Validator
	router     *failure.Router
}

// NewStage loads every resource the mode needs from cache, so a missing or
// corrupt file fails here rather than on the first record.
func NewStage(ctx context.Context, cache *resource.Cache, conf StageConfig, log zerolog.Logger) (*Stage, error) {
	if conf.Mode != ModeGeo && conf.Mode != ModeContextualServices {
		return nil, fmt.Errorf("unknown stage mode %q", conf.Mode)
	}
	db, err := cache.GeoDatabase(conf.GeoDatabase)
	if err != nil {
		return nil, err
	}
	cities, err := cache.CityFilter(conf.GeoCityFilter)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enricher, err := geo.NewEnricher(db,
		geo.WithCityFilter(cities),
		geo.WithStripIPAttributes(conf.StripIPAttributes),
		geo.WithLogger(log.With().Str("component", "geo").Logger()),
	)
	if err != nil {
		return nil, err
	}

	s := &Stage{
		mode:       conf.Mode,
		maxPayload: conf.MaxPayloadBytes,
		enricher:   enricher,
		router:     failure.NewRouter(log.With().Str("component", "failure_router").Logger()),
	}
	if s.maxPayload <= 0 {
		s.maxPayload = codec.DefaultMaxPayloadBytes
	}
	if conf.Mode == ModeGeo {
		return s, nil
	}

	allow, err := cache.AllowList(conf.URLAllowList)
	if err != nil {
		return nil, err
	}
	threshold := reporting.DefaultIPReputationThreshold
	if conf.IPReputationThreshold != nil {
		threshold = *conf.IPReputationThreshold
	}
	s.validator, err = reporting.NewValidator(allow,
		reporting.WithIPReputationThreshold(threshold),
		reporting.WithLogger(log.With().Str("component", "reporting").Logger()),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Mode returns the chain this stage runs.
func (s *Stage) Mode() Mode { return s.mode }

// Process runs rec through the chain. Recoverable per-record errors become a
// failure Result; only fatal errors are returned. The payload of the
// returned record is the one received: it is inflated only to read fields
// from it, and never in geo mode.
func (s *Stage) Process(rec event.Record) (Result, error) {
	if s.mode == ModeGeo {
		return Result{Record: s.enricher.Enrich(rec)}, nil
	}

	payload, err := codec.InflatePayload(rec.Payload, s.maxPayload)
	if err != nil {
		return s.fail(rec, failure.StageDecompress, err)
	}

	si, err := interaction.Classify(rec.Attributes, payload)
	if err != nil {
		return s.fail(rec, failure.StageClassify, err)
	}

	enriched := s.enricher.Enrich(rec)
	view := enriched
	view.Payload = payload

	si, err = s.validator.Validate(si, view)
	if err != nil {
		return s.fail(rec, failure.StageReporting, err)
	}
	return Result{Record: enriched, Interaction: &si}, nil
}

func (s *Stage) fail(original event.Record, stage string, err error) (Result, error) {
	f, err := s.router.Route(original, stage, err)
	if err != nil {
		return Result{}, err
	}
	return Result{Failure: f}, nil
}
