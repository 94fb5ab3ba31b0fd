// Package codec reads and writes record streams: newline-delimited JSON or
// CBOR sequences, optionally compressed.
package codec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
)

// Format is the record encoding of a stream.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatCBOR:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unknown record format %q", name)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// RecordReader yields records until io.EOF.
type RecordReader interface {
	Read() (event.Record, error)
}

// RecordWriter appends records to a stream.
type RecordWriter interface {
	Write(rec event.Record) error
}

// NewRecordReader decodes records from r in format f.
func NewRecordReader(r io.Reader, f Format) (RecordReader, error) {
	switch f {
	case FormatJSON:
		return &jsonReader{dec: json.NewDecoder(bufio.NewReader(r))}, nil
	case FormatCBOR:
		return &cborReader{dec: decMode.NewDecoder(bufio.NewReader(r))}, nil
	default:
		return nil, fmt.Errorf("unknown record format %q", f)
	}
}

// NewRecordWriter encodes records to w in format f.
func NewRecordWriter(w io.Writer, f Format) (RecordWriter, error) {
	switch f {
	case FormatJSON:
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case FormatCBOR:
		return &cborWriter{enc: encMode.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown record format %q", f)
	}
}

type jsonReader struct {
	dec *json.Decoder
	n   int
}

func (r *jsonReader) Read() (event.Record, error) {
	var rec event.Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("record %d: %w", r.n+1, err)
	}
	r.n++
	if rec.Attributes == nil {
		rec.Attributes = event.Attributes{}
	}
	return rec, nil
}

type cborReader struct {
	dec *cbor.Decoder
	n   int
}

func (r *cborReader) Read() (event.Record, error) {
	var rec event.Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("record %d: %w", r.n+1, err)
	}
	r.n++
	if rec.Attributes == nil {
		rec.Attributes = event.Attributes{}
	}
	return rec, nil
}

type jsonWriter struct {
	enc *json.Encoder
}

func (w *jsonWriter) Write(rec event.Record) error { return w.enc.Encode(rec) }

type cborWriter struct {
	enc *cbor.Encoder
}

func (w *cborWriter) Write(rec event.Record) error { return w.enc.Encode(rec) }

// JSONLines writes one JSON document per line, e.g. enriched interactions.
type JSONLines struct {
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Write(v any) error { return j.enc.Encode(v) }
