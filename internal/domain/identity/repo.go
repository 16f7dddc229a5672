package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert stores a new profile; ErrEmailTaken when the email exists.
	Insert(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
}
