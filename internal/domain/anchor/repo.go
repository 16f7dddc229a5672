package anchor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// ListPending returns pending entries oldest-first, up to limit.
	ListPending(ctx context.Context, limit int) ([]*Entry, error)

	// ClaimProcessing transitions one entry from pending to processing as a
	// single conditional write. It returns ErrNotEligible when the entry is
	// not pending, which is how concurrent claimers lose the race.
	ClaimProcessing(ctx context.Context, id uuid.UUID) error

	// MarkAnchored records the transaction reference and terminal success.
	MarkAnchored(ctx context.Context, id uuid.UUID, txHash string, anchoredAt time.Time) error

	// MarkFailed records the failure message and increments the retry count.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// Requeue transitions a failed entry with remaining retries back to
	// pending and clears its error message.
	Requeue(ctx context.Context, id uuid.UUID) error

	// ListFailed returns failed entries; exhausted selects only those past
	// the retry budget (for operator surfacing).
	ListFailed(ctx context.Context, exhausted bool, limit, offset int) ([]*Entry, int, error)

	// ListRetryable returns failed entries that still have retry budget,
	// oldest-first.
	ListRetryable(ctx context.Context, limit int) ([]*Entry, error)
}
