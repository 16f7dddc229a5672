package anchor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is a mutex-guarded in-memory Repository for tests. It enforces
// the same conditional state transitions as the Postgres repository so
// the service tests exercise claim and retry eligibility for real.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Entry
	order []uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Entry)}
}

func (m *memRepo) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.Status = StatusPending
	e.QueuedAt = time.Now().UTC()
	copied := *e
	m.items[e.ID] = &copied
	m.order = append(m.order, e.ID)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *memRepo) ListPending(_ context.Context, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Entry
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		if e := m.items[id]; e.Status == StatusPending {
			copied := *e
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *memRepo) ListRetryable(_ context.Context, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Entry
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		if e := m.items[id]; e.Status == StatusFailed && e.RetryCount < MaxRetries {
			copied := *e
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *memRepo) ClaimProcessing(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusPending {
		return ErrNotEligible
	}
	e.Status = StatusProcessing
	return nil
}

func (m *memRepo) MarkAnchored(_ context.Context, id uuid.UUID, txHash string, anchoredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusProcessing {
		return ErrNotEligible
	}
	e.Status = StatusAnchored
	e.BlockchainTxHash = &txHash
	at := anchoredAt
	e.AnchoredAt = &at
	e.ErrorMessage = nil
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusProcessing {
		return ErrNotEligible
	}
	e.Status = StatusFailed
	e.RetryCount++
	msg := errMsg
	e.ErrorMessage = &msg
	return nil
}

func (m *memRepo) Requeue(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusFailed || e.RetryCount >= MaxRetries {
		return ErrNotEligible
	}
	e.Status = StatusPending
	e.ErrorMessage = nil
	return nil
}

func (m *memRepo) ListFailed(_ context.Context, exhausted bool, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filtered []*Entry
	for _, id := range m.order {
		e := m.items[id]
		if e.Status != StatusFailed {
			continue
		}
		if exhausted && e.RetryCount < MaxRetries {
			continue
		}
		copied := *e
		filtered = append(filtered, &copied)
	}
	total := len(filtered)
	if offset >= total {
		return []*Entry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}
