package anchor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of anchor queue states.
//
//	pending -> processing -> anchored (terminal)
//	                      -> failed  -> pending (retry, while retries remain)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAnchored   Status = "anchored"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a wire value against the closed status set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusAnchored, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid anchor status %q", s)
}

// MaxRetries is the retry budget for failed anchor submissions. Entries that
// fail this many times stay failed permanently and require operator
// attention.
const MaxRetries = 3

var (
	// ErrNotFound is returned for unknown queue entries.
	ErrNotFound = errors.New("anchor queue entry not found")
	// ErrNotEligible is returned when a conditional state transition loses to
	// a concurrent one (e.g. the entry is no longer pending).
	ErrNotEligible = errors.New("entry not eligible for transition")
	// ErrRetryExhausted is returned when a requeue is attempted on an entry
	// past its retry budget.
	ErrRetryExhausted = errors.New("anchor retry budget exhausted")
)

// Entry is one hash-to-anchor job.
type Entry struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	Hash             string            `db:"hash" json:"hash"`
	RecordType       string            `db:"record_type" json:"record_type"`
	Status           Status            `db:"anchor_status" json:"anchor_status"`
	BlockchainTxHash *string           `db:"blockchain_tx_hash" json:"blockchain_tx_hash,omitempty"`
	Metadata         map[string]string `db:"metadata" json:"metadata,omitempty"`
	QueuedAt         time.Time         `db:"queued_at" json:"queued_at"`
	AnchoredAt       *time.Time        `db:"anchored_at" json:"anchored_at,omitempty"`
	RetryCount       int               `db:"retry_count" json:"retry_count"`
	ErrorMessage     *string           `db:"error_message" json:"error_message,omitempty"`
}

// Record types accepted by the queue.
const (
	RecordTypeMedicalRecord = "medical_record"
	RecordTypeConsent       = "consent"
	RecordTypeRevocation    = "consent_revocation"
)

func validRecordType(t string) bool {
	switch t {
	case RecordTypeMedicalRecord, RecordTypeConsent, RecordTypeRevocation:
		return true
	}
	return false
}
