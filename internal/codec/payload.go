package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ncloudioj/gcp-ingestion/internal/failure"
)

// DefaultMaxPayloadBytes bounds an inflated payload when no limit is set.
const DefaultMaxPayloadBytes int64 = 8 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// InflatePayload returns payload decompressed when it starts with the gzip
// magic bytes, and unchanged otherwise. A corrupt gzip stream, or one that
// inflates past limit bytes, is a malformed payload. A limit <= 0 means
// DefaultMaxPayloadBytes.
func InflatePayload(payload []byte, limit int64) ([]byte, error) {
	if !bytes.HasPrefix(payload, gzipMagic) {
		return payload, nil
	}
	if limit <= 0 {
		limit = DefaultMaxPayloadBytes
	}
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, failure.MalformedPayload("gzip header: %v", err)
	}
	defer gz.Close()
	out, err := io.ReadAll(io.LimitReader(gz, limit+1))
	if err != nil {
		return nil, failure.MalformedPayload("gzip body: %v", err)
	}
	if int64(len(out)) > limit {
		return nil, failure.MalformedPayload("gzip body inflates past %d bytes", limit)
	}
	return out, nil
}
