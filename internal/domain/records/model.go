package records

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medrec/anchor/internal/platform/crypto"
)

var (
	// ErrNotFound is returned for unknown records, payloads, or shares.
	ErrNotFound = errors.New("record not found")
	// ErrNotOwner is returned when a caller acts on a record they do not own.
	ErrNotOwner = errors.New("record not owned by caller")
	// ErrShareRevoked is returned when a payload is fetched under a revoked
	// sharing permission.
	ErrShareRevoked = errors.New("sharing permission revoked")
)

// MedicalRecord is the plaintext clinical document as the patient owns it.
// Data is an opaque JSON document; its integrity hash lives in the
// record_hashes history, with the latest value denormalized here.
type MedicalRecord struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	PatientID  uuid.UUID      `db:"patient_id" json:"patient_id"`
	Title      string         `db:"title" json:"title"`
	RecordType string         `db:"record_type" json:"record_type"`
	Data       map[string]any `db:"data" json:"data"`
	Hash       string         `db:"hash" json:"hash"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// RecordHash is one integrity checkpoint of a medical record. A new row is
// appended on every create and update; rows are never rewritten except to
// attach the anchoring transaction hash.
type RecordHash struct {
	ID               uuid.UUID `db:"id" json:"id"`
	RecordID         uuid.UUID `db:"record_id" json:"record_id"`
	Hash             string    `db:"hash" json:"hash"`
	BlockchainTxHash *string   `db:"blockchain_tx_hash" json:"blockchain_tx_hash,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// EncryptedPayload is a medical record sealed for one recipient: the
// AES-256-GCM ciphertext plus the recipient-wrapped data encryption key.
type EncryptedPayload struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	RecordID         uuid.UUID        `db:"record_id" json:"record_id"`
	RecipientID      uuid.UUID        `db:"recipient_id" json:"recipient_id"`
	EncryptedPayload string           `db:"encrypted_payload" json:"encrypted_payload"`
	EncryptedKey     string           `db:"encrypted_key" json:"encrypted_key"`
	Algorithm        crypto.Algorithm `db:"algorithm" json:"algorithm"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// Envelope converts the stored payload back to the codec's wire form.
func (p *EncryptedPayload) Envelope() *crypto.Envelope {
	return &crypto.Envelope{
		EncryptedPayload: p.EncryptedPayload,
		EncryptedKey:     p.EncryptedKey,
		Algorithm:        p.Algorithm,
		Timestamp:        p.CreatedAt,
	}
}

// SharingPermission grants one grantee access to one record's encrypted
// payload. Revocation stamps revoked_at; the row is kept for audit.
type SharingPermission struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	RecordID  uuid.UUID  `db:"record_id" json:"record_id"`
	OwnerID   uuid.UUID  `db:"owner_id" json:"owner_id"`
	GranteeID uuid.UUID  `db:"grantee_id" json:"grantee_id"`
	PayloadID uuid.UUID  `db:"payload_id" json:"payload_id"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Active reports whether the grant is still usable.
func (s *SharingPermission) Active() bool {
	return s.RevokedAt == nil
}
