package keys

import (
	"time"

	"github.com/google/uuid"

	"github.com/medrec/anchor/internal/platform/crypto"
)

// UserKey is one user's public encryption key as stored server-side. Private
// key material is never persisted; it is handed to the owner once at
// generation time. A rotation supersedes the row rather than deleting it so
// envelopes wrapped under old keys stay attributable.
type UserKey struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	UserID        uuid.UUID        `db:"user_id" json:"user_id"`
	PublicKey     []byte           `db:"public_key" json:"public_key"`
	Algorithm     crypto.Algorithm `db:"algorithm" json:"algorithm"`
	KeySize       int              `db:"key_size" json:"key_size"`
	SecurityLevel string           `db:"security_level" json:"security_level"`
	SupersededAt  *time.Time       `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// Active reports whether this key is the user's current encryption key.
func (k *UserKey) Active() bool {
	return k.SupersededAt == nil
}

// Issued is the result of EnsureKeyPair. PrivateKey is populated only when
// the call generated a new pair; on an idempotent lookup it is empty and
// HasPrivateKey is false.
type Issued struct {
	PublicKey     []byte           `json:"public_key"`
	PrivateKey    []byte           `json:"private_key,omitempty"`
	Algorithm     crypto.Algorithm `json:"algorithm"`
	HasPrivateKey bool             `json:"has_private_key"`
}
