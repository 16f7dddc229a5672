package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const consentCols = `id, medical_record_id, grantee_id, patient_id, signed_consent, status, blockchain_tx_hash, responded_at, created_at`

func scanConsent(row pgx.Row) (*Record, error) {
	var c Record
	var status string
	err := row.Scan(
		&c.ID, &c.MedicalRecordID, &c.GranteeID, &c.PatientID, &c.SignedConsent,
		&status, &c.BlockchainTxHash, &c.RespondedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status, err = ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("consent: %w", err)
	}
	return &c, nil
}

func (r *RepoPG) Create(ctx context.Context, c *Record) error {
	const q = `
		INSERT INTO consents (medical_record_id, grantee_id, patient_id, signed_consent, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return r.conn(ctx).QueryRow(ctx, q,
		c.MedicalRecordID, c.GranteeID, c.PatientID, c.SignedConsent, string(StatusPending),
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	const q = `SELECT ` + consentCols + ` FROM consents WHERE id = $1`
	c, err := scanConsent(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return r.listBy(ctx, "patient_id", patientID, limit, offset)
}

func (r *RepoPG) ListByGrantee(ctx context.Context, granteeID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return r.listBy(ctx, "grantee_id", granteeID, limit, offset)
}

func (r *RepoPG) listBy(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var total int
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM consents WHERE %s = $1", col)
	if err := r.conn(ctx).QueryRow(ctx, countQ, id).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM consents WHERE %s = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", consentCols, col)
	rows, err := r.conn(ctx).Query(ctx, q, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// Decide flips a pending consent to its decision in one conditional write.
func (r *RepoPG) Decide(ctx context.Context, id uuid.UUID, status Status) (*Record, error) {
	const q = `UPDATE consents SET status = $2, responded_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + consentCols

	c, err := scanConsent(r.conn(ctx).QueryRow(ctx, q, id, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either unknown or already decided; disambiguate for the caller.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyDecided
	}
	return c, err
}

func (r *RepoPG) SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	const q = `UPDATE consents SET blockchain_tx_hash = $2 WHERE id = $1`
	tag, err := r.conn(ctx).Exec(ctx, q, id, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) CreateRevocation(ctx context.Context, rev *Revocation) error {
	const q = `
		INSERT INTO consent_revocations (consent_id, patient_id, reason, hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, revoked_at`

	err := r.conn(ctx).QueryRow(ctx, q,
		rev.ConsentID, rev.PatientID, rev.Reason, rev.Hash,
	).Scan(&rev.ID, &rev.RevokedAt)
	// The unique consent_id constraint is the authoritative guard: a
	// concurrent revoke that lost the race surfaces as already-revoked, not
	// as a storage error.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyRevoked
	}
	return err
}

func (r *RepoPG) GetRevocationByConsent(ctx context.Context, consentID uuid.UUID) (*Revocation, error) {
	const q = `SELECT id, consent_id, patient_id, reason, hash, blockchain_tx_hash, revoked_at
		FROM consent_revocations WHERE consent_id = $1`

	var rev Revocation
	err := r.conn(ctx).QueryRow(ctx, q, consentID).Scan(
		&rev.ID, &rev.ConsentID, &rev.PatientID, &rev.Reason, &rev.Hash,
		&rev.BlockchainTxHash, &rev.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func (r *RepoPG) SetRevocationTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	const q = `UPDATE consent_revocations SET blockchain_tx_hash = $2 WHERE id = $1`
	tag, err := r.conn(ctx).Exec(ctx, q, id, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
