package cache

import (
	"github.com/klauspost/compress/s2"

	"github.com/gatecache/gatecache/pkg/errors"
)

type valueKind byte

const (
	kindString valueKind = iota
	kindBytes
)

// compressedValue holds an s2-compressed string or byte slice. Only these
// two kinds are compressed so the original type survives the round trip.
type compressedValue struct {
	kind valueKind
	data []byte
}

// codec compresses values above a size threshold. Small values are not
// worth the CPU cost.
type codec struct {
	threshold int
}

func newCodec(threshold int) *codec {
	return &codec{threshold: threshold}
}

// compress returns the compressed form and true when the value is an
// eligible kind above the threshold; otherwise false and the value is
// stored as-is.
func (c *codec) compress(value interface{}) (*compressedValue, bool) {
	switch v := value.(type) {
	case string:
		if len(v) < c.threshold {
			return nil, false
		}
		return &compressedValue{kind: kindString, data: s2.Encode(nil, []byte(v))}, true
	case []byte:
		if len(v) < c.threshold {
			return nil, false
		}
		return &compressedValue{kind: kindBytes, data: s2.Encode(nil, v)}, true
	default:
		return nil, false
	}
}

// decompress restores the original value, preserving its type.
func (c *codec) decompress(cv *compressedValue) (interface{}, error) {
	raw, err := s2.Decode(nil, cv.data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt compressed cache value")
	}
	if cv.kind == kindString {
		return string(raw), nil
	}
	return raw, nil
}
