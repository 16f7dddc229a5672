package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only audit row. Entries are never updated or deleted
// by the application.
type Entry struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	UserID     uuid.UUID         `db:"user_id" json:"user_id"`
	Action     string            `db:"action" json:"action"`
	Resource   string            `db:"resource" json:"resource"`
	Status     string            `db:"status" json:"status"`
	Details    string            `db:"details" json:"details"`
	TargetType string            `db:"target_type" json:"target_type,omitempty"`
	TargetID   string            `db:"target_id" json:"target_id,omitempty"`
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Actions emitted by the sharing and anchoring pipeline.
const (
	ActionKeyIssued       = "KEY_ISSUED"
	ActionRecordEncrypted = "RECORD_ENCRYPTED"
	ActionRecordShared    = "RECORD_SHARED"
	ActionRecordHashed    = "RECORD_HASHED"
	ActionAnchorQueued    = "ANCHOR_QUEUED"
	ActionAnchor          = "BLOCKCHAIN_ANCHOR"
	ActionConsentDecision = "CONSENT_DECISION"
	ActionConsentRevoked  = "CONSENT_REVOKED"
	ActionConsentVerified = "CONSENT_VERIFIED"
)
