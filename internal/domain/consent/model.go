package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of consent decision states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a wire value against the closed status set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid consent status %q", s)
}

var (
	// ErrNotFound is returned for unknown consents or revocations.
	ErrNotFound = errors.New("consent not found")
	// ErrAlreadyDecided is returned when a decision is attempted on a
	// consent that is no longer pending.
	ErrAlreadyDecided = errors.New("consent already decided")
	// ErrAlreadyRevoked is returned on any revocation attempt after the
	// first. The original consent row is immutable once revoked.
	ErrAlreadyRevoked = errors.New("consent already revoked")
)

// Record is a patient's consent for a grantee to access one medical record.
// Revocation never mutates this row destructively; it creates a linked
// Revocation event so history is preserved.
type Record struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	MedicalRecordID  uuid.UUID  `db:"medical_record_id" json:"medical_record_id"`
	GranteeID        uuid.UUID  `db:"grantee_id" json:"grantee_id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	SignedConsent    string     `db:"signed_consent" json:"signed_consent"`
	Status           Status     `db:"status" json:"status"`
	BlockchainTxHash *string    `db:"blockchain_tx_hash" json:"blockchain_tx_hash,omitempty"`
	RespondedAt      *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// Revocation is the event created when a consent is withdrawn.
type Revocation struct {
	ID               uuid.UUID `db:"id" json:"id"`
	ConsentID        uuid.UUID `db:"consent_id" json:"consent_id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	Reason           string    `db:"reason" json:"reason"`
	Hash             string    `db:"hash" json:"hash"`
	BlockchainTxHash *string   `db:"blockchain_tx_hash" json:"blockchain_tx_hash,omitempty"`
	RevokedAt        time.Time `db:"revoked_at" json:"revoked_at"`
}

// VerificationResult reports the structural validity of a signed consent
// blob. No cryptographic non-repudiation claim is made.
type VerificationResult struct {
	IsValid   bool       `json:"is_valid"`
	SignerID  uuid.UUID  `json:"signer_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
