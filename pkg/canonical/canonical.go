// Package canonical provides deterministic serialization and hashing of
// structured documents. It is the content-addressing primitive of the
// governance ledger: two logically identical documents always produce
// byte-identical canonical strings and therefore identical hashes, so
// any external party can recompute and verify a hash independently.
//
// The final serialization pass runs through RFC 8785 (JCS), which fixes
// key ordering, string escaping and number formatting.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gowebpki/jcs"
)

// ErrInvalidDocument is returned when a document cannot be canonicalized:
// non-finite numbers or values with no JSON representation. Always fatal
// to the calling operation, never retried.
var ErrInvalidDocument = errors.New("invalid document")

// Canonicalize returns the canonical UTF-8 serialization of doc.
// Integers, booleans and strings pass through; NaN and infinities fail
// closed; timestamps are normalized to ISO-8601 with millisecond
// precision and a literal UTC suffix; map keys are sorted
// lexicographically with no insignificant whitespace.
func Canonicalize(doc any) (string, error) {
	norm, err := normalize(doc)
	if err != nil {
		return "", err
	}
	intermediate, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return "", fmt.Errorf("%w: jcs transform: %v", ErrInvalidDocument, err)
	}
	return string(out), nil
}

// Hash returns the hex SHA-256 digest of the canonical serialization.
func Hash(doc any) (string, error) {
	c, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	return HashBytes([]byte(c)), nil
}

// HashBytes returns the hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Timestamps are normalized to UTC milliseconds with a literal Z suffix.
const timeLayout = "2006-01-02T15:04:05.000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout) + "Z"
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case time.Time:
		return formatTime(t), nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		// Structs and concrete map/slice types take a JSON round trip so
		// their tags are respected, then re-enter the walk as plain values.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("%w: unserializable value %T: %v", ErrInvalidDocument, t, err)
		}
		var generic any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("%w: intermediate decode: %v", ErrInvalidDocument, err)
		}
		return normalize(generic)
	}
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite number %v", ErrInvalidDocument, f)
	}
	return f, nil
}
