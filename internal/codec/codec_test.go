package codec_test

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncloudioj/gcp-ingestion/internal/codec"
	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
)

func sampleRecords() []event.Record {
	return []event.Record{
		{Attributes: event.Attributes{"host": "test"}, Payload: []byte("test")},
		{Attributes: event.Attributes{"remote_addr": "202.196.224.0"}, Payload: []byte(`{"a":1}`)},
	}
}

func readAll(t *testing.T, r codec.RecordReader) []event.Record {
	t.Helper()
	var out []event.Record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestJSONRecordFixtureFormat(t *testing.T) {
	in := `{"attributeMap":{"host":"test"},"payload":"dGVzdA=="}
{"attributeMap":{"remote_addr":"202.196.224.0"},"payload":"eyJhIjoxfQ=="}
`
	r, err := codec.NewRecordReader(strings.NewReader(in), codec.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), readAll(t, r))
}

func TestJSONRecordMissingAttributes(t *testing.T) {
	r, err := codec.NewRecordReader(strings.NewReader(`{"payload":"dGVzdA=="}`), codec.FormatJSON)
	require.NoError(t, err)
	recs := readAll(t, r)
	require.Len(t, recs, 1)
	assert.NotNil(t, recs[0].Attributes)
}

func TestJSONRecordDecodeError(t *testing.T) {
	r, err := codec.NewRecordReader(strings.NewReader(`{"attributeMap":`), codec.FormatJSON)
	require.NoError(t, err)
	_, err = r.Read()
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}

func TestRecordStreams(t *testing.T) {
	for _, format := range []codec.Format{codec.FormatJSON, codec.FormatCBOR} {
		for _, ext := range []string{".txt", ".gz", ".zst", ".lz4"} {
			t.Run(string(format)+ext, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "records"+ext)

				out, err := codec.Create(path)
				require.NoError(t, err)
				w, err := codec.NewRecordWriter(out, format)
				require.NoError(t, err)
				for _, rec := range sampleRecords() {
					require.NoError(t, w.Write(rec))
				}
				require.NoError(t, out.Close())

				in, err := codec.Open(path)
				require.NoError(t, err)
				defer in.Close()
				r, err := codec.NewRecordReader(in, format)
				require.NoError(t, err)
				assert.Equal(t, sampleRecords(), readAll(t, r))
			})
		}
	}
}

func TestCompressionForPath(t *testing.T) {
	assert.Equal(t, codec.CompressionGzip, codec.CompressionForPath("a.ndjson.gz"))
	assert.Equal(t, codec.CompressionZstd, codec.CompressionForPath("a.zst"))
	assert.Equal(t, codec.CompressionLZ4, codec.CompressionForPath("a.lz4"))
	assert.Equal(t, codec.CompressionNone, codec.CompressionForPath("a.ndjson"))
	assert.Equal(t, "zstd", codec.CompressionZstd.String())
}

func TestParseFormat(t *testing.T) {
	f, err := codec.ParseFormat("cbor")
	require.NoError(t, err)
	assert.Equal(t, codec.FormatCBOR, f)

	_, err = codec.ParseFormat("avro")
	assert.Error(t, err)
}

func TestInflatePayload(t *testing.T) {
	t.Run("plain payload is returned as is", func(t *testing.T) {
		out, err := codec.InflatePayload([]byte(`{"a":1}`), 0)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":1}`), out)
	})

	t.Run("gzip payload is inflated", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write([]byte(`{"reporting_url":"https://test.com"}`))
		require.NoError(t, err)
		require.NoError(t, gz.Close())

		out, err := codec.InflatePayload(buf.Bytes(), 0)
		require.NoError(t, err)
		assert.Equal(t, `{"reporting_url":"https://test.com"}`, string(out))
	})

	t.Run("corrupt gzip is malformed", func(t *testing.T) {
		_, err := codec.InflatePayload([]byte{0x1f, 0x8b, 0x00, 0x01, 0x02}, 0)
		assert.True(t, errors.Is(err, failure.ErrMalformedPayload), "got %v", err)
	})

	t.Run("inflating past the limit is malformed", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write(bytes.Repeat([]byte("a"), 1<<20))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.Less(t, buf.Len(), 4096)

		_, err = codec.InflatePayload(buf.Bytes(), 1024)
		assert.True(t, errors.Is(err, failure.ErrMalformedPayload), "got %v", err)

		out, err := codec.InflatePayload(buf.Bytes(), 1<<20)
		require.NoError(t, err)
		assert.Len(t, out, 1<<20)
	})
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := codec.NewJSONLines(&buf)
	require.NoError(t, j.Write(map[string]string{"a": "b"}))
	require.NoError(t, j.Write([]int{1}))
	assert.Equal(t, "{\"a\":\"b\"}\n[1]\n", buf.String())
}
