package crypto

import (
	"errors"
	"testing"
)

func TestHashRecord_Deterministic(t *testing.T) {
	canonical, err := Canonicalize(map[string]any{
		"record_id": "rec-1",
		"patient":   "p-1",
		"payload":   "blood panel",
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	h1 := HashRecord(canonical)
	h2 := HashRecord(canonical)
	if h1 != h2 {
		t.Errorf("expected identical digests, got %s and %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	b, err := Canonicalize(map[string]any{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if HashRecord(a) != HashRecord(b) {
		t.Error("expected equal hashes regardless of key insertion order")
	}
}

func TestCanonicalize_TimestampZoneNormalized(t *testing.T) {
	a, err := Canonicalize(map[string]any{"at": "2026-03-01T12:00:00+02:00"})
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	b, err := Canonicalize(map[string]any{"at": "2026-03-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected zone-normalized timestamps to match: %s vs %s", a, b)
	}
}

func TestVerifyRecordHash(t *testing.T) {
	canonical, err := Canonicalize(map[string]any{"record_id": "rec-2"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	stored := HashRecord(canonical)

	if err := VerifyRecordHash(canonical, stored); err != nil {
		t.Errorf("expected match, got %v", err)
	}

	tampered := append([]byte{}, canonical...)
	tampered[0] ^= 0x01
	if err := VerifyRecordHash(tampered, stored); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestHashBatch_OrderSensitive(t *testing.T) {
	a := [][]byte{[]byte("entry-1"), []byte("entry-2")}
	b := [][]byte{[]byte("entry-2"), []byte("entry-1")}

	if HashBatch(a) == HashBatch(b) {
		t.Error("expected batch hash to depend on entry order")
	}
	if HashBatch(a) != HashBatch([][]byte{[]byte("entry-1"), []byte("entry-2")}) {
		t.Error("expected batch hash to be deterministic")
	}
}

func TestHashBatch_LengthPrefixPreventsSplicing(t *testing.T) {
	a := [][]byte{[]byte("ab"), []byte("c")}
	b := [][]byte{[]byte("a"), []byte("bc")}
	if HashBatch(a) == HashBatch(b) {
		t.Error("expected different hashes for different entry boundaries")
	}
}
