package failure

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
)

// Stage names reported on failures and counters.
const (
	StageDecompress = "decompress_payload"
	StageClassify   = "classify_interaction"
	StageGeo        = "geo_city_lookup"
	StageReporting  = "parse_reporting_url"
)

// Attributes added when a failure is rendered as a record.
const (
	AttrErrorType    = "error_type"
	AttrErrorMessage = "error_message"
	AttrStage        = "stage"
	AttrFailureID    = "failure_id"
)

// Failure pairs the untouched input record with where and why it failed.
type Failure struct {
	ID           string       `json:"id"`
	Stage        string       `json:"stage"`
	ErrorType    string       `json:"error_type"`
	ErrorMessage string       `json:"error_message"`
	Record       event.Record `json:"record"`
}

// ToRecord renders the failure as a record for a failure sink: the original
// payload plus the original attributes and the error detail.
func (f *Failure) ToRecord() event.Record {
	rec := f.Record.Clone()
	rec.Attributes[AttrErrorType] = f.ErrorType
	rec.Attributes[AttrErrorMessage] = f.ErrorMessage
	rec.Attributes[AttrStage] = f.Stage
	rec.Attributes[AttrFailureID] = f.ID
	return rec
}

// Router turns per-record errors into failures.
type Router struct {
	log zerolog.Logger
}

// NewRouter creates a Router that logs routed failures at debug level.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{log: log}
}

// Route classifies err raised by stage while processing original. A
// recoverable error yields a Failure and a nil error; anything else is
// returned unchanged so the caller can abort the run.
func (r *Router) Route(original event.Record, stage string, err error) (*Failure, error) {
	typ := Type(err)
	if typ == "" {
		return nil, err
	}
	metrics.Failures.WithLabelValues(stage, typ).Inc()
	f := &Failure{
		ID:           uuid.NewString(),
		Stage:        stage,
		ErrorType:    typ,
		ErrorMessage: err.Error(),
		Record:       original,
	}
	r.log.Debug().
		Str("stage", stage).
		Str("error_type", typ).
		Str("failure_id", f.ID).
		Err(err).
		Msg("record routed to failure output")
	return f, nil
}
