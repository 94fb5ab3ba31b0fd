package engine

import (
	"sync"

	"github.com/ncloudioj/gcp-ingestion/internal/codec"
)

// Sink receives processed results.
type Sink interface {
	Write(Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result) error

func (f SinkFunc) Write(r Result) error { return f(r) }

// StreamSink writes successes and failures to separate streams. Failures
// are written as records carrying the error attributes. Successes with an
// interaction go to Interactions when set, otherwise the enriched record
// goes to Records. Nil writers drop their share.
type StreamSink struct {
	Records      codec.RecordWriter
	Interactions *codec.JSONLines
	Failures     codec.RecordWriter

	mu        sync.Mutex
	successes int
	failures  int
}

func (s *StreamSink) Write(r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !r.OK() {
		s.failures++
		if s.Failures == nil {
			return nil
		}
		return s.Failures.Write(r.Failure.ToRecord())
	}
	s.successes++
	if r.Interaction != nil && s.Interactions != nil {
		return s.Interactions.Write(r.Interaction)
	}
	if s.Records == nil {
		return nil
	}
	return s.Records.Write(r.Record)
}

// Counts returns how many successes and failures were written.
func (s *StreamSink) Counts() (successes, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successes, s.failures
}
