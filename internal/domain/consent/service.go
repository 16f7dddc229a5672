package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medrec/anchor/internal/domain/anchor"
	"github.com/medrec/anchor/internal/domain/audit"
	"github.com/medrec/anchor/internal/platform/crypto"
)

// Enqueuer is the slice of the anchor queue the consent service needs:
// queuing a revocation hash for on-chain anchoring.
type Enqueuer interface {
	Enqueue(ctx context.Context, actingUser uuid.UUID, hash, recordType string, metadata map[string]string) (*anchor.Entry, error)
}

type Service struct {
	repo    Repository
	queue   Enqueuer
	auditor *audit.Logger
}

func NewService(repo Repository, queue Enqueuer, auditor *audit.Logger) *Service {
	return &Service{repo: repo, queue: queue, auditor: auditor}
}

// Request creates a pending consent for a grantee to access a medical
// record. The signed consent blob must at least be structurally valid.
func (s *Service) Request(ctx context.Context, actingUser uuid.UUID, c *Record) error {
	if c.MedicalRecordID == uuid.Nil || c.GranteeID == uuid.Nil || c.PatientID == uuid.Nil {
		return fmt.Errorf("consent: medical_record_id, grantee_id and patient_id are required")
	}
	if result := VerifySignedConsent(c.SignedConsent); !result.IsValid {
		return fmt.Errorf("consent: invalid signed consent: %s", result.Reason)
	}

	c.Status = StatusPending
	if err := s.repo.Create(ctx, c); err != nil {
		return fmt.Errorf("consent: create: %w", err)
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionConsentDecision,
		Resource:   "consents",
		Status:     audit.StatusSuccess,
		Details:    "requested",
		TargetType: anchor.RecordTypeConsent,
		TargetID:   c.ID.String(),
	})
	return nil
}

// Decide approves or rejects a pending consent. Only the patient who owns
// the consent may decide it.
func (s *Service) Decide(ctx context.Context, actingUser, consentID uuid.UUID, status Status) (*Record, error) {
	if status != StatusApproved && status != StatusRejected {
		return nil, fmt.Errorf("consent: decision must be approved or rejected")
	}

	existing, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if existing.PatientID != actingUser {
		return nil, fmt.Errorf("consent: only the patient may decide")
	}

	decided, err := s.repo.Decide(ctx, consentID, status)
	if err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionConsentDecision,
		Resource:   "consents",
		Status:     audit.StatusSuccess,
		Details:    string(status),
		TargetType: anchor.RecordTypeConsent,
		TargetID:   consentID.String(),
	})
	return decided, nil
}

// Revoke withdraws a consent. The original consent row is never deleted or
// rewritten: a linked revocation event is created, hashed, and queued for
// anchoring. A second revocation attempt returns ErrAlreadyRevoked
// regardless of who asks.
func (s *Service) Revoke(ctx context.Context, actingUser, consentID uuid.UUID, reason string) (*Revocation, error) {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if c.PatientID != actingUser {
		return nil, fmt.Errorf("consent: only the patient may revoke")
	}

	if _, err := s.repo.GetRevocationByConsent(ctx, consentID); err == nil {
		return nil, ErrAlreadyRevoked
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("consent: check revocation: %w", err)
	}

	rev := &Revocation{
		ConsentID: consentID,
		PatientID: c.PatientID,
		Reason:    reason,
	}

	canonical, err := crypto.Canonicalize(map[string]any{
		"consent_id": consentID.String(),
		"patient_id": c.PatientID.String(),
		"reason":     reason,
	})
	if err != nil {
		return nil, fmt.Errorf("consent: canonicalize revocation: %w", err)
	}
	rev.Hash = crypto.HashRecord(canonical)

	if err := s.repo.CreateRevocation(ctx, rev); err != nil {
		if errors.Is(err, ErrAlreadyRevoked) {
			return nil, ErrAlreadyRevoked
		}
		return nil, fmt.Errorf("consent: create revocation: %w", err)
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionConsentRevoked,
		Resource:   "consent_revocations",
		Status:     audit.StatusSuccess,
		TargetType: anchor.RecordTypeRevocation,
		TargetID:   rev.ID.String(),
		Metadata:   map[string]string{"consent_id": consentID.String()},
	})

	// Anchoring is best-effort integrity enhancement: a queue failure is
	// logged by the queue itself and never blocks the revocation.
	if s.queue != nil {
		_, _ = s.queue.Enqueue(ctx, actingUser, rev.Hash, anchor.RecordTypeRevocation, map[string]string{
			anchor.MetadataRefID: rev.ID.String(),
		})
	}

	return rev, nil
}

// Verify reports the structural validity of a consent's signature blob and
// audits the check.
func (s *Service) Verify(ctx context.Context, actingUser, consentID uuid.UUID) (*VerificationResult, error) {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}

	result := VerifySignedConsent(c.SignedConsent)

	status := audit.StatusSuccess
	if !result.IsValid {
		status = audit.StatusError
	}
	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionConsentVerified,
		Resource:   "consents",
		Status:     status,
		Details:    result.Reason,
		TargetType: anchor.RecordTypeConsent,
		TargetID:   consentID.String(),
	})
	return &result, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByGrantee(ctx context.Context, granteeID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByGrantee(ctx, granteeID, limit, offset)
}

// RecordAnchorTx implements the anchor queue's back-propagation for consent
// and revocation entities.
func (s *Service) RecordAnchorTx(ctx context.Context, recordType string, refID uuid.UUID, txHash string) error {
	switch recordType {
	case anchor.RecordTypeConsent:
		return s.repo.SetTxHash(ctx, refID, txHash)
	case anchor.RecordTypeRevocation:
		return s.repo.SetRevocationTxHash(ctx, refID, txHash)
	}
	return fmt.Errorf("consent: unsupported record type %q", recordType)
}
