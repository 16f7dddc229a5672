package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medrec/anchor/internal/domain/anchor"
	"github.com/medrec/anchor/internal/domain/audit"
	"github.com/medrec/anchor/internal/domain/keys"
	"github.com/medrec/anchor/internal/platform/crypto"
)

// KeyDirectory resolves a recipient's active public encryption key.
type KeyDirectory interface {
	RecipientPublicKey(ctx context.Context, recipientID uuid.UUID) (*keys.UserKey, error)
}

// Enqueuer queues a record hash for on-chain anchoring.
type Enqueuer interface {
	Enqueue(ctx context.Context, actingUser uuid.UUID, hash, recordType string, metadata map[string]string) (*anchor.Entry, error)
}

type Service struct {
	repo    Repository
	keys    KeyDirectory
	queue   Enqueuer
	auditor *audit.Logger
}

func NewService(repo Repository, keyDir KeyDirectory, queue Enqueuer, auditor *audit.Logger) *Service {
	return &Service{repo: repo, keys: keyDir, queue: queue, auditor: auditor}
}

// hashableContent is the canonical view of a record that its integrity hash
// covers. Row identity and timestamps are excluded so two semantically
// identical records hash identically.
func hashableContent(m *MedicalRecord) map[string]any {
	return map[string]any{
		"patient_id":  m.PatientID.String(),
		"title":       m.Title,
		"record_type": m.RecordType,
		"data":        m.Data,
	}
}

func (s *Service) computeHash(m *MedicalRecord) (string, error) {
	canonical, err := crypto.Canonicalize(hashableContent(m))
	if err != nil {
		return "", fmt.Errorf("records: canonicalize: %w", err)
	}
	return crypto.HashRecord(canonical), nil
}

// checkpoint appends a record_hashes row for the record's current hash and
// queues it for anchoring. Queue failures are logged by the queue and never
// fail the caller's operation.
func (s *Service) checkpoint(ctx context.Context, actingUser uuid.UUID, m *MedicalRecord) (*RecordHash, error) {
	h := &RecordHash{RecordID: m.ID, Hash: m.Hash}
	if err := s.repo.InsertHash(ctx, h); err != nil {
		return nil, fmt.Errorf("records: insert hash: %w", err)
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionRecordHashed,
		Resource:   "medical_records",
		Status:     audit.StatusSuccess,
		TargetType: anchor.RecordTypeMedicalRecord,
		TargetID:   m.ID.String(),
		Metadata:   map[string]string{"hash": m.Hash},
	})

	if s.queue != nil {
		_, _ = s.queue.Enqueue(ctx, actingUser, h.Hash, anchor.RecordTypeMedicalRecord, map[string]string{
			anchor.MetadataRefID: h.ID.String(),
		})
	}
	return h, nil
}

// Create stores a new medical record, computes its integrity hash, and
// queues the hash for anchoring.
func (s *Service) Create(ctx context.Context, actingUser uuid.UUID, m *MedicalRecord) error {
	if m.PatientID == uuid.Nil {
		m.PatientID = actingUser
	}
	if m.PatientID != actingUser {
		return ErrNotOwner
	}
	if m.Title == "" || m.RecordType == "" {
		return fmt.Errorf("records: title and record_type are required")
	}

	hash, err := s.computeHash(m)
	if err != nil {
		return err
	}
	m.Hash = hash

	if err := s.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("records: create: %w", err)
	}
	_, err = s.checkpoint(ctx, actingUser, m)
	return err
}

// Update rewrites a record's content, recomputes the hash, and appends a new
// integrity checkpoint. Prior record_hashes rows are never touched.
func (s *Service) Update(ctx context.Context, actingUser uuid.UUID, m *MedicalRecord) error {
	existing, err := s.repo.GetByID(ctx, m.ID)
	if err != nil {
		return err
	}
	if existing.PatientID != actingUser {
		return ErrNotOwner
	}
	m.PatientID = existing.PatientID

	hash, err := s.computeHash(m)
	if err != nil {
		return err
	}
	m.Hash = hash

	if err := s.repo.Update(ctx, m); err != nil {
		return fmt.Errorf("records: update: %w", err)
	}
	_, err = s.checkpoint(ctx, actingUser, m)
	return err
}

func (s *Service) Get(ctx context.Context, actingUser, id uuid.UUID) (*MedicalRecord, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.PatientID != actingUser {
		return nil, ErrNotOwner
	}
	return m, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// VerifyIntegrity recomputes the record's hash from its current content and
// compares it against the stored value.
func (s *Service) VerifyIntegrity(ctx context.Context, actingUser, id uuid.UUID) (bool, error) {
	m, err := s.Get(ctx, actingUser, id)
	if err != nil {
		return false, err
	}
	canonical, err := crypto.Canonicalize(hashableContent(m))
	if err != nil {
		return false, fmt.Errorf("records: canonicalize: %w", err)
	}
	if err := crypto.VerifyRecordHash(canonical, m.Hash); err != nil {
		if errors.Is(err, crypto.ErrHashMismatch) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) Hashes(ctx context.Context, actingUser, id uuid.UUID) ([]*RecordHash, error) {
	if _, err := s.Get(ctx, actingUser, id); err != nil {
		return nil, err
	}
	return s.repo.ListHashes(ctx, id)
}

// Share seals a record for one grantee: resolve the grantee's public key,
// encrypt the record under a fresh data key, persist the sealed payload,
// grant access, and checkpoint the record hash for anchoring.
func (s *Service) Share(ctx context.Context, actingUser, recordID, granteeID uuid.UUID) (*SharingPermission, error) {
	m, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if m.PatientID != actingUser {
		return nil, ErrNotOwner
	}
	if granteeID == uuid.Nil || granteeID == actingUser {
		return nil, fmt.Errorf("records: grantee must be another user")
	}

	key, err := s.keys.RecipientPublicKey(ctx, granteeID)
	if err != nil {
		return nil, fmt.Errorf("records: recipient key: %w", err)
	}

	plaintext, err := crypto.Canonicalize(hashableContent(m))
	if err != nil {
		return nil, fmt.Errorf("records: canonicalize: %w", err)
	}
	env, err := crypto.EncryptRecord(plaintext, key.PublicKey, key.Algorithm)
	if err != nil {
		return nil, err
	}

	payload := &EncryptedPayload{
		RecordID:         m.ID,
		RecipientID:      granteeID,
		EncryptedPayload: env.EncryptedPayload,
		EncryptedKey:     env.EncryptedKey,
		Algorithm:        env.Algorithm,
	}
	share := &SharingPermission{
		RecordID:  m.ID,
		OwnerID:   actingUser,
		GranteeID: granteeID,
	}
	// The sealed payload and its permission row land together or not at all;
	// a payload without a grant would be an unreachable orphan.
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertPayload(ctx, payload); err != nil {
			return fmt.Errorf("records: insert payload: %w", err)
		}
		share.PayloadID = payload.ID
		if err := s.repo.InsertShare(ctx, share); err != nil {
			return fmt.Errorf("records: insert share: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionRecordEncrypted,
		Resource:   "encrypted_payloads",
		Status:     audit.StatusSuccess,
		TargetType: anchor.RecordTypeMedicalRecord,
		TargetID:   m.ID.String(),
		Metadata:   map[string]string{"algorithm": string(env.Algorithm)},
	})

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionRecordShared,
		Resource:   "sharing_permissions",
		Status:     audit.StatusSuccess,
		TargetType: anchor.RecordTypeMedicalRecord,
		TargetID:   m.ID.String(),
		Metadata:   map[string]string{"grantee_id": granteeID.String()},
	})

	if _, err := s.checkpoint(ctx, actingUser, m); err != nil {
		return nil, err
	}
	return share, nil
}

// RevokeShare withdraws a grant. The sealed payload row is kept so the audit
// trail stays complete; access checks consult revoked_at.
func (s *Service) RevokeShare(ctx context.Context, actingUser, shareID uuid.UUID) error {
	share, err := s.repo.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if share.OwnerID != actingUser {
		return ErrNotOwner
	}
	if err := s.repo.RevokeShare(ctx, shareID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrShareRevoked
		}
		return err
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionRecordShared,
		Resource:   "sharing_permissions",
		Status:     audit.StatusSuccess,
		Details:    "revoked",
		TargetType: anchor.RecordTypeMedicalRecord,
		TargetID:   share.RecordID.String(),
		Metadata:   map[string]string{"grantee_id": share.GranteeID.String()},
	})
	return nil
}

// Payload returns a sealed payload to its recipient while the grant is
// active. Decryption happens client-side with the recipient's private key.
func (s *Service) Payload(ctx context.Context, actingUser, payloadID uuid.UUID) (*EncryptedPayload, error) {
	p, err := s.repo.GetPayload(ctx, payloadID)
	if err != nil {
		return nil, err
	}
	if p.RecipientID != actingUser {
		return nil, ErrNotOwner
	}

	share, err := s.repo.GetShareByPayload(ctx, payloadID)
	if err != nil {
		return nil, err
	}
	if !share.Active() {
		return nil, ErrShareRevoked
	}
	return p, nil
}

func (s *Service) ListSharesByGrantee(ctx context.Context, granteeID uuid.UUID, limit, offset int) ([]*SharingPermission, int, error) {
	return s.repo.ListSharesByGrantee(ctx, granteeID, limit, offset)
}

// RecordAnchorTx implements the anchor queue's back-propagation for
// medical record hashes.
func (s *Service) RecordAnchorTx(ctx context.Context, recordType string, refID uuid.UUID, txHash string) error {
	if recordType != anchor.RecordTypeMedicalRecord {
		return fmt.Errorf("records: unsupported record type %q", recordType)
	}
	return s.repo.SetHashTx(ctx, refID, txHash)
}
