package consent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrec/anchor/internal/domain/anchor"
	"github.com/medrec/anchor/internal/domain/audit"
)

type mockConsentRepo struct {
	mu           sync.Mutex
	consents     map[uuid.UUID]*Record
	revocations  map[uuid.UUID]*Revocation
	createRevErr error
}

func newMockConsentRepo() *mockConsentRepo {
	return &mockConsentRepo{
		consents:    make(map[uuid.UUID]*Record),
		revocations: make(map[uuid.UUID]*Revocation),
	}
}

func (m *mockConsentRepo) Create(_ context.Context, c *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	cp := *c
	m.consents[c.ID] = &cp
	return nil
}

func (m *mockConsentRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConsentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, c := range m.consents {
		if c.PatientID == patientID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockConsentRepo) ListByGrantee(_ context.Context, granteeID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, c := range m.consents {
		if c.GranteeID == granteeID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockConsentRepo) Decide(_ context.Context, id uuid.UUID, status Status) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}
	now := time.Now()
	c.Status = status
	c.RespondedAt = &now
	cp := *c
	return &cp, nil
}

func (m *mockConsentRepo) SetTxHash(_ context.Context, id uuid.UUID, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[id]
	if !ok {
		return ErrNotFound
	}
	c.BlockchainTxHash = &txHash
	return nil
}

func (m *mockConsentRepo) CreateRevocation(_ context.Context, r *Revocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createRevErr != nil {
		return m.createRevErr
	}
	r.ID = uuid.New()
	r.RevokedAt = time.Now()
	cp := *r
	m.revocations[r.ID] = &cp
	return nil
}

func (m *mockConsentRepo) GetRevocationByConsent(_ context.Context, consentID uuid.UUID) (*Revocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.revocations {
		if r.ConsentID == consentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockConsentRepo) SetRevocationTxHash(_ context.Context, id uuid.UUID, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.revocations[id]
	if !ok {
		return ErrNotFound
	}
	r.BlockchainTxHash = &txHash
	return nil
}

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

func (m *mockAuditRepo) Search(_ context.Context, _ map[string]string, _, _ int) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (m *mockAuditRepo) ListSince(_ context.Context, _ time.Time, _ int) ([]*audit.Entry, error) {
	return nil, nil
}

func (m *mockAuditRepo) byAction(action string) []*audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type stubEnqueuer struct {
	mu      sync.Mutex
	entries []*anchor.Entry
}

func (s *stubEnqueuer) Enqueue(_ context.Context, _ uuid.UUID, hash, recordType string, metadata map[string]string) (*anchor.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &anchor.Entry{
		ID:         uuid.New(),
		Hash:       hash,
		RecordType: recordType,
		Status:     anchor.StatusPending,
		Metadata:   metadata,
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func newConsentService(t *testing.T) (*Service, *mockConsentRepo, *stubEnqueuer, *mockAuditRepo) {
	t.Helper()
	repo := newMockConsentRepo()
	queue := &stubEnqueuer{}
	auditRepo := &mockAuditRepo{}
	svc := NewService(repo, queue, audit.NewLogger(auditRepo, zerolog.Nop()))
	return svc, repo, queue, auditRepo
}

func validConsent(t *testing.T, patient, grantee uuid.UUID) *Record {
	t.Helper()
	blob, err := NewSignedConsent(patient, time.Now(), "cafe01", "sig")
	if err != nil {
		t.Fatalf("NewSignedConsent: %v", err)
	}
	return &Record{
		MedicalRecordID: uuid.New(),
		GranteeID:       grantee,
		PatientID:       patient,
		SignedConsent:   blob,
	}
}

func TestRequestRejectsInvalidSignedConsent(t *testing.T) {
	svc, _, _, _ := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	rec.SignedConsent = "not a signed blob"

	if err := svc.Request(context.Background(), patient, rec); err == nil {
		t.Fatal("expected error for malformed signed consent")
	}
}

func TestDecideIsSingleShot(t *testing.T) {
	svc, _, _, auditRepo := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	if err := svc.Request(context.Background(), patient, rec); err != nil {
		t.Fatalf("Request: %v", err)
	}

	decided, err := svc.Decide(context.Background(), patient, rec.ID, StatusApproved)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != StatusApproved {
		t.Errorf("status = %s, want approved", decided.Status)
	}
	if decided.RespondedAt == nil {
		t.Error("responded_at not set")
	}

	if _, err := svc.Decide(context.Background(), patient, rec.ID, StatusRejected); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second decision err = %v, want ErrAlreadyDecided", err)
	}

	// request + decision
	if got := len(auditRepo.byAction(audit.ActionConsentDecision)); got != 2 {
		t.Errorf("consent decision audit rows = %d, want 2", got)
	}
}

func TestDecideRequiresOwningPatient(t *testing.T) {
	svc, _, _, _ := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	if err := svc.Request(context.Background(), patient, rec); err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, err := svc.Decide(context.Background(), uuid.New(), rec.ID, StatusApproved); err == nil {
		t.Fatal("expected error for non-owner decision")
	}
}

func TestRevokeCreatesEventAndQueuesHash(t *testing.T) {
	svc, repo, queue, auditRepo := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	if err := svc.Request(context.Background(), patient, rec); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.Decide(context.Background(), patient, rec.ID, StatusApproved); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// Simulate an already-anchored consent: its tx hash is set.
	if err := repo.SetTxHash(context.Background(), rec.ID, "0xabc"); err != nil {
		t.Fatalf("SetTxHash: %v", err)
	}

	rev, err := svc.Revoke(context.Background(), patient, rec.ID, "patient request")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if rev.Hash == "" {
		t.Error("revocation hash not computed")
	}

	// The consent row survives revocation untouched.
	kept, err := svc.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if kept.Status != StatusApproved {
		t.Errorf("consent status mutated to %s on revoke", kept.Status)
	}
	if kept.BlockchainTxHash == nil || *kept.BlockchainTxHash != "0xabc" {
		t.Error("consent tx hash lost on revoke")
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.entries) != 1 {
		t.Fatalf("queued entries = %d, want 1", len(queue.entries))
	}
	q := queue.entries[0]
	if q.RecordType != anchor.RecordTypeRevocation {
		t.Errorf("queued record type = %s, want %s", q.RecordType, anchor.RecordTypeRevocation)
	}
	if q.Hash != rev.Hash {
		t.Error("queued hash does not match revocation hash")
	}
	if q.Metadata[anchor.MetadataRefID] != rev.ID.String() {
		t.Error("queued ref id does not point at the revocation")
	}

	if got := len(auditRepo.byAction(audit.ActionConsentRevoked)); got != 1 {
		t.Errorf("revocation audit rows = %d, want 1", got)
	}
}

func TestRevokeTwiceReturnsAlreadyRevoked(t *testing.T) {
	svc, _, _, _ := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	if err := svc.Request(context.Background(), patient, rec); err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, err := svc.Revoke(context.Background(), patient, rec.ID, "first"); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Revoke(context.Background(), patient, rec.ID, "again"); !errors.Is(err, ErrAlreadyRevoked) {
			t.Fatalf("repeat Revoke err = %v, want ErrAlreadyRevoked", err)
		}
	}
}

func TestRevokeRaceLoserGetsAlreadyRevoked(t *testing.T) {
	svc, repo, queue, auditRepo := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	if err := svc.Request(context.Background(), patient, rec); err != nil {
		t.Fatalf("Request: %v", err)
	}

	// A concurrent revoke wins between our existence check and our insert:
	// the store rejects the duplicate the way the unique constraint would.
	repo.createRevErr = ErrAlreadyRevoked

	if _, err := svc.Revoke(context.Background(), patient, rec.ID, "late"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("losing Revoke err = %v, want ErrAlreadyRevoked", err)
	}

	queue.mu.Lock()
	queued := len(queue.entries)
	queue.mu.Unlock()
	if queued != 0 {
		t.Errorf("queued entries = %d, want 0 for a lost revoke", queued)
	}
	if got := len(auditRepo.byAction(audit.ActionConsentRevoked)); got != 0 {
		t.Errorf("revocation audit rows = %d, want 0 for a lost revoke", got)
	}
}

func TestRecordAnchorTxBackPropagates(t *testing.T) {
	svc, repo, _, _ := newConsentService(t)
	patient := uuid.New()

	rec := validConsent(t, patient, uuid.New())
	if err := svc.Request(context.Background(), patient, rec); err != nil {
		t.Fatalf("Request: %v", err)
	}
	rev, err := svc.Revoke(context.Background(), patient, rec.ID, "moving providers")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if err := svc.RecordAnchorTx(context.Background(), anchor.RecordTypeConsent, rec.ID, "0x1111"); err != nil {
		t.Fatalf("RecordAnchorTx(consent): %v", err)
	}
	if err := svc.RecordAnchorTx(context.Background(), anchor.RecordTypeRevocation, rev.ID, "0x2222"); err != nil {
		t.Fatalf("RecordAnchorTx(revocation): %v", err)
	}

	c, _ := svc.Get(context.Background(), rec.ID)
	if c.BlockchainTxHash == nil || *c.BlockchainTxHash != "0x1111" {
		t.Error("consent tx hash not propagated")
	}
	r, _ := repo.GetRevocationByConsent(context.Background(), rec.ID)
	if r.BlockchainTxHash == nil || *r.BlockchainTxHash != "0x2222" {
		t.Error("revocation tx hash not propagated")
	}

	if err := svc.RecordAnchorTx(context.Background(), "medical_record", rec.ID, "0x3333"); err == nil {
		t.Error("expected error for record type this service does not own")
	}
}
