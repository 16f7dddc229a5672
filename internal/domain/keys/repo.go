package keys

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a user has no active key.
var ErrNotFound = errors.New("no active key for user")

type Repository interface {
	// GetActiveByUser returns the user's current key or ErrNotFound.
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (*UserKey, error)
	// Insert stores a new public key row. At most one active row may exist
	// per user; the implementation enforces this atomically.
	Insert(ctx context.Context, k *UserKey) error
	// Supersede marks the user's active key as superseded.
	Supersede(ctx context.Context, userID uuid.UUID) error
}
