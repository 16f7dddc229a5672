package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*Entry
	insertErr error
}

func (m *mockAuditRepo) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *e
	cp.ID = uuid.New()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockAuditRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if a, ok := params["action"]; ok && e.Action != a {
			continue
		}
		out = append(out, e)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockAuditRepo) ListSince(_ context.Context, since time.Time, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func TestLog_AppendsEntry(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, zerolog.Nop())
	userID := uuid.New()

	l.Log(context.Background(), Entry{
		UserID:   userID,
		Action:   ActionRecordHashed,
		Resource: "record_hashes",
	})

	if len(repo.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.UserID != userID {
		t.Errorf("user = %s, want %s", e.UserID, userID)
	}
	if e.Status != StatusSuccess {
		t.Errorf("status = %q, want default %q", e.Status, StatusSuccess)
	}
}

func TestLog_DropsEntryWithoutActingUser(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, zerolog.Nop())

	l.Log(context.Background(), Entry{
		Action:   ActionConsentDecision,
		Resource: "consents",
	})

	if len(repo.entries) != 0 {
		t.Fatalf("entry without acting user was persisted")
	}
}

func TestLog_InsertFailureDoesNotPanicOrPropagate(t *testing.T) {
	repo := &mockAuditRepo{insertErr: errors.New("connection lost")}
	l := NewLogger(repo, zerolog.Nop())

	// Log has no error return; the write failure must stay contained.
	l.Log(context.Background(), Entry{
		UserID:   uuid.New(),
		Action:   ActionAnchor,
		Resource: "hash_anchor_queue",
		Status:   StatusError,
	})

	if len(repo.entries) != 0 {
		t.Fatal("entry persisted despite insert error")
	}
}

func TestSearch_FiltersByAction(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, zerolog.Nop())
	userID := uuid.New()

	l.Log(context.Background(), Entry{UserID: userID, Action: ActionRecordHashed, Resource: "record_hashes"})
	l.Log(context.Background(), Entry{UserID: userID, Action: ActionAnchor, Resource: "hash_anchor_queue"})
	l.Log(context.Background(), Entry{UserID: userID, Action: ActionRecordHashed, Resource: "record_hashes"})

	svc := NewService(repo)
	items, total, err := svc.Search(context.Background(), map[string]string{"action": ActionRecordHashed}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("got %d/%d entries, want 2/2", len(items), total)
	}
}

func TestBatchDigest_DeterministicAndOrderSensitive(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, zerolog.Nop())
	userID := uuid.New()
	since := time.Now().UTC().Add(-time.Minute)

	l.Log(context.Background(), Entry{UserID: userID, Action: ActionRecordHashed, Resource: "record_hashes"})
	l.Log(context.Background(), Entry{UserID: userID, Action: ActionAnchor, Resource: "hash_anchor_queue"})

	svc := NewService(repo)
	d1, n, err := svc.BatchDigest(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("BatchDigest: %v", err)
	}
	if n != 2 {
		t.Fatalf("digest covers %d entries, want 2", n)
	}
	d2, _, err := svc.BatchDigest(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("BatchDigest repeat: %v", err)
	}
	if d1 != d2 {
		t.Error("same window produced different digests")
	}

	// Swapping the stored order must change the digest.
	repo.mu.Lock()
	repo.entries[0], repo.entries[1] = repo.entries[1], repo.entries[0]
	repo.mu.Unlock()

	d3, _, err := svc.BatchDigest(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("BatchDigest reordered: %v", err)
	}
	if d3 == d1 {
		t.Error("reordered entries produced the same digest")
	}
}
