package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// HashRecord computes the hex-encoded SHA-256 digest of a canonical payload.
// Callers must canonicalize first (see Canonicalize) so that semantically
// identical records always hash identically.
func HashRecord(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// VerifyRecordHash recomputes the digest of canonical and compares it with
// the stored hash.
func VerifyRecordHash(canonical []byte, storedHash string) error {
	if HashRecord(canonical) != storedHash {
		return ErrHashMismatch
	}
	return nil
}

// Canonicalize produces a deterministic byte representation of v: JSON with
// lexicographically sorted object keys and all timestamps rendered as RFC 3339
// UTC. Two semantically identical values always canonicalize to the same
// bytes.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case string:
		// Timestamps canonicalize to RFC 3339 UTC regardless of the zone
		// they were serialized in.
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			b, err := json.Marshal(t.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return err
			}
			buf.Write(b)
			return nil
		}
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// HashBatch hashes an ordered set of canonical serializations as one digest:
// the serializations are concatenated with a length prefix per element and
// hashed once. Used for tamper-evidence over audit-log batches.
func HashBatch(canonicals [][]byte) string {
	h := sha256.New()
	for _, c := range canonicals {
		fmt.Fprintf(h, "%d:", len(c))
		h.Write(c)
	}
	return hex.EncodeToString(h.Sum(nil))
}
