package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrec/anchor/internal/platform/crypto"
	"github.com/medrec/anchor/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *RepoPG) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, done, err := db.WithTx(ctx, r.pool)
	if err != nil {
		return err
	}
	return done(fn(txCtx))
}

const recordCols = `id, patient_id, title, record_type, data, hash, created_at, updated_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	var data []byte
	err := row.Scan(
		&m.ID, &m.PatientID, &m.Title, &m.RecordType, &data, &m.Hash,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.Data); err != nil {
			return nil, fmt.Errorf("records: decode data: %w", err)
		}
	}
	return &m, nil
}

func (r *RepoPG) Create(ctx context.Context, m *MedicalRecord) error {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("records: encode data: %w", err)
	}

	const q = `
		INSERT INTO medical_records (patient_id, title, record_type, data, hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return r.conn(ctx).QueryRow(ctx, q,
		m.PatientID, m.Title, m.RecordType, data, m.Hash,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM medical_records WHERE id = $1`, recordCols)

	m, err := scanRecord(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("records: get: %w", err)
	}
	return m, nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_records WHERE patient_id = $1`, patientID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("records: count: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT %s FROM medical_records
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, recordCols)

	rows, err := r.conn(ctx).Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("records: list: %w", err)
	}
	defer rows.Close()

	var out []*MedicalRecord
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("records: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *RepoPG) Update(ctx context.Context, m *MedicalRecord) error {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("records: encode data: %w", err)
	}

	const q = `
		UPDATE medical_records
		SET title = $2, record_type = $3, data = $4, hash = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err = r.conn(ctx).QueryRow(ctx, q,
		m.ID, m.Title, m.RecordType, data, m.Hash,
	).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *RepoPG) InsertHash(ctx context.Context, h *RecordHash) error {
	const q = `
		INSERT INTO record_hashes (record_id, hash)
		VALUES ($1, $2)
		RETURNING id, created_at`

	return r.conn(ctx).QueryRow(ctx, q, h.RecordID, h.Hash).Scan(&h.ID, &h.CreatedAt)
}

func (r *RepoPG) ListHashes(ctx context.Context, recordID uuid.UUID) ([]*RecordHash, error) {
	const q = `
		SELECT id, record_id, hash, blockchain_tx_hash, created_at
		FROM record_hashes
		WHERE record_id = $1
		ORDER BY created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, q, recordID)
	if err != nil {
		return nil, fmt.Errorf("records: list hashes: %w", err)
	}
	defer rows.Close()

	var out []*RecordHash
	for rows.Next() {
		var h RecordHash
		if err := rows.Scan(&h.ID, &h.RecordID, &h.Hash, &h.BlockchainTxHash, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("records: scan hash: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (r *RepoPG) SetHashTx(ctx context.Context, hashID uuid.UUID, txHash string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE record_hashes SET blockchain_tx_hash = $2 WHERE id = $1`, hashID, txHash)
	if err != nil {
		return fmt.Errorf("records: set hash tx: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) InsertPayload(ctx context.Context, p *EncryptedPayload) error {
	const q = `
		INSERT INTO encrypted_payloads (record_id, recipient_id, encrypted_payload, encrypted_key, algorithm)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return r.conn(ctx).QueryRow(ctx, q,
		p.RecordID, p.RecipientID, p.EncryptedPayload, p.EncryptedKey, string(p.Algorithm),
	).Scan(&p.ID, &p.CreatedAt)
}

func (r *RepoPG) GetPayload(ctx context.Context, id uuid.UUID) (*EncryptedPayload, error) {
	const q = `
		SELECT id, record_id, recipient_id, encrypted_payload, encrypted_key, algorithm, created_at
		FROM encrypted_payloads
		WHERE id = $1`

	var p EncryptedPayload
	var alg string
	err := r.conn(ctx).QueryRow(ctx, q, id).Scan(
		&p.ID, &p.RecordID, &p.RecipientID, &p.EncryptedPayload, &p.EncryptedKey, &alg, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("records: get payload: %w", err)
	}
	p.Algorithm = crypto.Algorithm(alg)
	return &p, nil
}

func (r *RepoPG) InsertShare(ctx context.Context, s *SharingPermission) error {
	const q = `
		INSERT INTO sharing_permissions (record_id, owner_id, grantee_id, payload_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return r.conn(ctx).QueryRow(ctx, q,
		s.RecordID, s.OwnerID, s.GranteeID, s.PayloadID,
	).Scan(&s.ID, &s.CreatedAt)
}

const shareCols = `id, record_id, owner_id, grantee_id, payload_id, revoked_at, created_at`

func scanShare(row pgx.Row) (*SharingPermission, error) {
	var s SharingPermission
	err := row.Scan(&s.ID, &s.RecordID, &s.OwnerID, &s.GranteeID, &s.PayloadID, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RepoPG) GetShare(ctx context.Context, id uuid.UUID) (*SharingPermission, error) {
	q := fmt.Sprintf(`SELECT %s FROM sharing_permissions WHERE id = $1`, shareCols)

	s, err := scanShare(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("records: get share: %w", err)
	}
	return s, nil
}

func (r *RepoPG) GetShareByPayload(ctx context.Context, payloadID uuid.UUID) (*SharingPermission, error) {
	q := fmt.Sprintf(`SELECT %s FROM sharing_permissions WHERE payload_id = $1`, shareCols)

	s, err := scanShare(r.conn(ctx).QueryRow(ctx, q, payloadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("records: get share by payload: %w", err)
	}
	return s, nil
}

func (r *RepoPG) ListSharesByGrantee(ctx context.Context, granteeID uuid.UUID, limit, offset int) ([]*SharingPermission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM sharing_permissions WHERE grantee_id = $1`, granteeID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("records: count shares: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT %s FROM sharing_permissions
		WHERE grantee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, shareCols)

	rows, err := r.conn(ctx).Query(ctx, q, granteeID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("records: list shares: %w", err)
	}
	defer rows.Close()

	var out []*SharingPermission
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("records: scan share: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *RepoPG) RevokeShare(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE sharing_permissions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("records: revoke share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
