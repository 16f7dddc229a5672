package keys

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrec/anchor/internal/domain/audit"
	"github.com/medrec/anchor/internal/platform/crypto"
)

// -- Mock repositories --

type mockKeyRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID][]*UserKey
}

func newMockKeyRepo() *mockKeyRepo {
	return &mockKeyRepo{items: make(map[uuid.UUID][]*UserKey)}
}

func (m *mockKeyRepo) GetActiveByUser(_ context.Context, userID uuid.UUID) (*UserKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.items[userID] {
		if k.Active() {
			return k, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockKeyRepo) Insert(_ context.Context, k *UserKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items[k.UserID] {
		if existing.Active() {
			return errUniqueViolation
		}
	}
	k.ID = uuid.New()
	k.CreatedAt = time.Now()
	m.items[k.UserID] = append(m.items[k.UserID], k)
	return nil
}

func (m *mockKeyRepo) Supersede(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, k := range m.items[userID] {
		if k.Active() {
			k.SupersededAt = &now
		}
	}
	return nil
}

var errUniqueViolation = &uniqueViolation{}

type uniqueViolation struct{}

func (*uniqueViolation) Error() string { return "duplicate active key" }

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (m *mockAuditRepo) Insert(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*audit.Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*audit.Entry
	for _, e := range m.entries {
		if v, ok := params["action"]; ok && e.Action != v {
			continue
		}
		if v, ok := params["status"]; ok && e.Status != v {
			continue
		}
		result = append(result, e)
	}
	return result, len(result), nil
}

func (m *mockAuditRepo) ListSince(_ context.Context, since time.Time, limit int) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*audit.Entry
	for _, e := range m.entries {
		if !e.CreatedAt.Before(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

func newTestService() (*Service, *mockKeyRepo, *mockAuditRepo) {
	repo := newMockKeyRepo()
	auditRepo := &mockAuditRepo{}
	auditor := audit.NewLogger(auditRepo, zerolog.Nop())
	return NewService(repo, auditor, crypto.AlgMLKEM768), repo, auditRepo
}

func TestEnsureKeyPair_GeneratesOnFirstCall(t *testing.T) {
	svc, _, auditRepo := newTestService()
	userID := uuid.New()

	issued, err := svc.EnsureKeyPair(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !issued.HasPrivateKey {
		t.Error("expected private key on generating call")
	}
	if len(issued.PublicKey) == 0 || len(issued.PrivateKey) == 0 {
		t.Error("expected non-empty key material")
	}
	if len(auditRepo.entries) != 1 || auditRepo.entries[0].Action != audit.ActionKeyIssued {
		t.Errorf("expected one KEY_ISSUED audit entry, got %d", len(auditRepo.entries))
	}
}

func TestEnsureKeyPair_IdempotentSecondCall(t *testing.T) {
	svc, _, _ := newTestService()
	userID := uuid.New()

	first, err := svc.EnsureKeyPair(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := svc.EnsureKeyPair(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	if second.HasPrivateKey {
		t.Error("second call must not return a private key")
	}
	if string(second.PublicKey) != string(first.PublicKey) {
		t.Error("expected the same public key on repeated calls")
	}
}

func TestEnsureKeyPair_ConcurrentIssuanceReturnsOneActiveKey(t *testing.T) {
	svc, repo, _ := newTestService()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.EnsureKeyPair(context.Background(), userID, userID); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	active := 0
	for _, k := range repo.items[userID] {
		if k.Active() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected exactly one active key, got %d", active)
	}
}

func TestRotate_SupersedesOldKey(t *testing.T) {
	svc, repo, _ := newTestService()
	userID := uuid.New()

	first, err := svc.EnsureKeyPair(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	rotated, err := svc.Rotate(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !rotated.HasPrivateKey {
		t.Error("rotation must issue a fresh private key")
	}
	if string(rotated.PublicKey) == string(first.PublicKey) {
		t.Error("expected a new public key after rotation")
	}

	if len(repo.items[userID]) != 2 {
		t.Fatalf("expected old key row to be kept, got %d rows", len(repo.items[userID]))
	}
	if repo.items[userID][0].Active() {
		t.Error("old key should be superseded, not deleted")
	}
}
