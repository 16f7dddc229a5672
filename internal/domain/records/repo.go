package records

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// RunInTx runs fn with every repository call made through fn's context
	// inside a single transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
	Update(ctx context.Context, r *MedicalRecord) error

	InsertHash(ctx context.Context, h *RecordHash) error
	ListHashes(ctx context.Context, recordID uuid.UUID) ([]*RecordHash, error)
	SetHashTx(ctx context.Context, hashID uuid.UUID, txHash string) error

	InsertPayload(ctx context.Context, p *EncryptedPayload) error
	GetPayload(ctx context.Context, id uuid.UUID) (*EncryptedPayload, error)

	InsertShare(ctx context.Context, s *SharingPermission) error
	GetShare(ctx context.Context, id uuid.UUID) (*SharingPermission, error)
	GetShareByPayload(ctx context.Context, payloadID uuid.UUID) (*SharingPermission, error)
	ListSharesByGrantee(ctx context.Context, granteeID uuid.UUID, limit, offset int) ([]*SharingPermission, int, error)
	RevokeShare(ctx context.Context, id uuid.UUID) error
}
