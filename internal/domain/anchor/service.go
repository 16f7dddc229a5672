package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrec/anchor/internal/domain/audit"
	"github.com/medrec/anchor/internal/platform/chain"
)

// DefaultBatchSize bounds one dequeue pass.
const DefaultBatchSize = 10

// MetadataRefID is the metadata key carrying the originating entity's id, so
// a confirmed transaction hash can be written back onto that entity.
const MetadataRefID = "ref_id"

// TxRecorder writes a confirmed transaction hash back onto the entity whose
// hash was anchored (medical record, consent, or revocation), so integrity
// can be verified from either side.
type TxRecorder interface {
	RecordAnchorTx(ctx context.Context, recordType string, refID uuid.UUID, txHash string) error
}

// Service owns the hash anchor queue and drives entries through the
// pending -> processing -> anchored|failed state machine.
type Service struct {
	repo        Repository
	anchorer    chain.Anchorer
	txRecorder  TxRecorder
	auditor     *audit.Logger
	logger      zerolog.Logger
	systemUser  uuid.UUID
	callTimeout time.Duration
}

func NewService(repo Repository, anchorer chain.Anchorer, txRecorder TxRecorder, auditor *audit.Logger, logger zerolog.Logger, systemUser uuid.UUID) *Service {
	return &Service{
		repo:        repo,
		anchorer:    anchorer,
		txRecorder:  txRecorder,
		auditor:     auditor,
		logger:      logger,
		systemUser:  systemUser,
		callTimeout: 30 * time.Second,
	}
}

// Enqueue inserts a pending anchor job for the given hash.
func (s *Service) Enqueue(ctx context.Context, actingUser uuid.UUID, hash, recordType string, metadata map[string]string) (*Entry, error) {
	if hash == "" {
		return nil, fmt.Errorf("anchor: hash is required")
	}
	if !validRecordType(recordType) {
		return nil, fmt.Errorf("anchor: invalid record type %q", recordType)
	}

	e := &Entry{Hash: hash, RecordType: recordType, Status: StatusPending, Metadata: metadata}
	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("anchor: enqueue: %w", err)
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:     actingUser,
		Action:     audit.ActionAnchorQueued,
		Resource:   "hash_anchor_queue",
		Status:     audit.StatusSuccess,
		Details:    recordType,
		TargetType: recordType,
		TargetID:   e.ID.String(),
		Metadata:   map[string]string{"hash": hash},
	})
	return e, nil
}

// DequeueBatch claims up to limit pending entries, oldest first. Each claim
// is a conditional pending->processing write, so an entry contested by
// several processors is returned to exactly one of them.
func (s *Service) DequeueBatch(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > DefaultBatchSize {
		limit = DefaultBatchSize
	}

	candidates, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("anchor: list pending: %w", err)
	}

	var claimed []*Entry
	for _, e := range candidates {
		err := s.repo.ClaimProcessing(ctx, e.ID)
		if errors.Is(err, ErrNotEligible) {
			continue // lost to a concurrent processor
		}
		if err != nil {
			return claimed, fmt.Errorf("anchor: claim %s: %w", e.ID, err)
		}
		e.Status = StatusProcessing
		claimed = append(claimed, e)
	}
	return claimed, nil
}

// ProcessBatch dequeues and anchors one batch. It returns the number of
// entries anchored and the number failed.
func (s *Service) ProcessBatch(ctx context.Context, limit int) (anchored, failed int, err error) {
	batch, err := s.DequeueBatch(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, e := range batch {
		if err := s.processEntry(ctx, e); err != nil {
			failed++
		} else {
			anchored++
		}
	}
	return anchored, failed, nil
}

// processEntry submits one claimed entry to the chain and records the
// outcome. Every attempt, success or failure, emits exactly one audit entry.
func (s *Service) processEntry(ctx context.Context, e *Entry) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	receipt, err := s.anchorer.Anchor(callCtx, e.Hash, e.RecordType, e.Metadata)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
			s.logger.Error().Err(markErr).Stringer("entry", e.ID).Msg("mark failed did not apply")
		}
		s.auditor.Log(ctx, audit.Entry{
			UserID:     s.systemUser,
			Action:     audit.ActionAnchor,
			Resource:   "hash_anchor_queue",
			Status:     audit.StatusError,
			Details:    err.Error(),
			TargetType: e.RecordType,
			TargetID:   e.ID.String(),
			Metadata:   map[string]string{"hash": e.Hash},
		})
		return err
	}

	if err := s.repo.MarkAnchored(ctx, e.ID, receipt.TxHash, receipt.AnchoredAt); err != nil {
		return fmt.Errorf("anchor: mark anchored %s: %w", e.ID, err)
	}

	s.backPropagate(ctx, e, receipt.TxHash)

	s.auditor.Log(ctx, audit.Entry{
		UserID:     s.systemUser,
		Action:     audit.ActionAnchor,
		Resource:   "hash_anchor_queue",
		Status:     audit.StatusSuccess,
		Details:    fmt.Sprintf("block %d", receipt.BlockNumber),
		TargetType: e.RecordType,
		TargetID:   e.ID.String(),
		Metadata: map[string]string{
			"hash":    e.Hash,
			"tx_hash": receipt.TxHash,
		},
	})
	return nil
}

// backPropagate writes the tx hash onto the originating entity. Failures here
// are logged, not returned: the queue entry is already anchored and the
// reference can be reconciled from it.
func (s *Service) backPropagate(ctx context.Context, e *Entry, txHash string) {
	if s.txRecorder == nil || e.Metadata == nil {
		return
	}
	raw, ok := e.Metadata[MetadataRefID]
	if !ok {
		return
	}
	refID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn().Str("ref_id", raw).Msg("invalid anchor back-reference")
		return
	}
	if err := s.txRecorder.RecordAnchorTx(ctx, e.RecordType, refID, txHash); err != nil {
		s.logger.Error().Err(err).
			Str("record_type", e.RecordType).
			Stringer("ref_id", refID).
			Msg("tx hash back-propagation failed")
	}
}

// RequeueRetryable moves failed entries with remaining retry budget back to
// pending. Returns the number requeued.
func (s *Service) RequeueRetryable(ctx context.Context, limit int) (int, error) {
	entries, err := s.repo.ListRetryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("anchor: list retryable: %w", err)
	}

	count := 0
	for _, e := range entries {
		err := s.repo.Requeue(ctx, e.ID)
		if errors.Is(err, ErrNotEligible) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("anchor: requeue %s: %w", e.ID, err)
		}
		count++
	}
	return count, nil
}

// Requeue retries one failed entry on operator request. Entries past the
// retry budget return ErrRetryExhausted.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) error {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.Status == StatusFailed && e.RetryCount >= MaxRetries {
		return ErrRetryExhausted
	}
	if err := s.repo.Requeue(ctx, id); err != nil {
		return fmt.Errorf("anchor: requeue %s: %w", id, err)
	}
	return nil
}

// Get returns one queue entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

// ListExhausted surfaces permanently failed entries for operators.
func (s *Service) ListExhausted(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListFailed(ctx, true, limit, offset)
}

// ListFailed lists all failed entries, including those still retryable.
func (s *Service) ListFailed(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListFailed(ctx, false, limit, offset)
}

// SetCallTimeout overrides the per-attempt submission deadline.
func (s *Service) SetCallTimeout(d time.Duration) {
	if d > 0 {
		s.callTimeout = d
	}
}
