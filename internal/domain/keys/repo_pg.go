package keys

import (
	"context"
	"errors"

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

const keyCols = `id, user_id, public_key, algorithm, key_size, security_level, superseded_at, created_at`

func scanKey(row pgx.Row) (*UserKey, error) {
	var k UserKey
	err := row.Scan(
		&k.ID, &k.UserID, &k.PublicKey, &k.Algorithm, &k.KeySize,
		&k.SecurityLevel, &k.SupersededAt, &k.CreatedAt,
	)
	return &k, err
}

func (r *RepoPG) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*UserKey, error) {
	const q = `SELECT ` + keyCols + ` FROM user_keys WHERE user_id = $1 AND superseded_at IS NULL`

	k, err := scanKey(r.conn(ctx).QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (r *RepoPG) Insert(ctx context.Context, k *UserKey) error {
	// The partial unique index on (user_id) WHERE superseded_at IS NULL makes
	// concurrent first-time issuance race-safe: the loser gets a constraint
	// violation and re-reads.
	const q = `
		INSERT INTO user_keys (user_id, public_key, algorithm, key_size, security_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return r.conn(ctx).QueryRow(ctx, q,
		k.UserID, k.PublicKey, k.Algorithm, k.KeySize, k.SecurityLevel,
	).Scan(&k.ID, &k.CreatedAt)
}

func (r *RepoPG) Supersede(ctx context.Context, userID uuid.UUID) error {
	const q = `UPDATE user_keys SET superseded_at = NOW() WHERE user_id = $1 AND superseded_at IS NULL`
	_, err := r.conn(ctx).Exec(ctx, q, userID)
	return err
}
