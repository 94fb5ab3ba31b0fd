package engine

import (
	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
	"github.com/ncloudioj/gcp-ingestion/internal/interaction"
)

// Result is the outcome of one record: either a success carrying the
// enriched record (and, in contextual-services mode, the validated
// interaction) or a failure carrying the untouched input.
type Result struct {
	Record      event.Record                      `json:"record"`
	Interaction *interaction.SponsoredInteraction `json:"interaction,omitempty"`
	Failure     *failure.Failure                  `json:"failure,omitempty"`
}

// OK reports whether the record succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Partition splits results into successes and failures, keeping order.
func Partition(results []Result) (successes []Result, failures []*failure.Failure) {
	for _, r := range results {
		if r.OK() {
			successes = append(successes, r)
			continue
		}
		failures = append(failures, r.Failure)
	}
	return successes, failures
}
