package consent

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
	ListByGrantee(ctx context.Context, granteeID uuid.UUID, limit, offset int) ([]*Record, int, error)

	// Decide transitions a pending consent to approved or rejected as a
	// single conditional write; ErrAlreadyDecided when the consent is no
	// longer pending.
	Decide(ctx context.Context, id uuid.UUID, status Status) (*Record, error)

	SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error

	CreateRevocation(ctx context.Context, r *Revocation) error
	GetRevocationByConsent(ctx context.Context, consentID uuid.UUID) (*Revocation, error)
	SetRevocationTxHash(ctx context.Context, id uuid.UUID, txHash string) error
}
