package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

const entryCols = `id, hash, record_type, anchor_status, blockchain_tx_hash, metadata, queued_at, anchored_at, retry_count, error_message`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status string
	var metadata []byte
	err := row.Scan(
		&e.ID, &e.Hash, &e.RecordType, &status, &e.BlockchainTxHash,
		&metadata, &e.QueuedAt, &e.AnchoredAt, &e.RetryCount, &e.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	e.Status, err = ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("anchor: decode metadata: %w", err)
		}
	}
	return &e, nil
}

func (r *RepoPG) Insert(ctx context.Context, e *Entry) error {
	metadata := []byte("{}")
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("anchor: encode metadata: %w", err)
		}
		metadata = b
	}

	const q = `
		INSERT INTO hash_anchor_queue (hash, record_type, anchor_status, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, queued_at`

	return r.conn(ctx).QueryRow(ctx, q, e.Hash, e.RecordType, string(StatusPending), metadata).
		Scan(&e.ID, &e.QueuedAt)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	const q = `SELECT ` + entryCols + ` FROM hash_anchor_queue WHERE id = $1`
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *RepoPG) ListPending(ctx context.Context, limit int) ([]*Entry, error) {
	const q = `SELECT ` + entryCols + ` FROM hash_anchor_queue
		WHERE anchor_status = 'pending' ORDER BY queued_at ASC LIMIT $1`
	return r.list(ctx, q, limit)
}

func (r *RepoPG) ListRetryable(ctx context.Context, limit int) ([]*Entry, error) {
	const q = `SELECT ` + entryCols + ` FROM hash_anchor_queue
		WHERE anchor_status = 'failed' AND retry_count < $1
		ORDER BY queued_at ASC LIMIT $2`
	return r.list(ctx, q, MaxRetries, limit)
}

func (r *RepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// ClaimProcessing performs the pending->processing flip as one conditional
// UPDATE. Under concurrent claimers only one statement matches the WHERE
// clause, so exactly one caller wins; the rest get ErrNotEligible. This is
// the property that prevents double-anchoring.
func (r *RepoPG) ClaimProcessing(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE hash_anchor_queue SET anchor_status = 'processing'
		WHERE id = $1 AND anchor_status = 'pending'`

	tag, err := r.conn(ctx).Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEligible
	}
	return nil
}

func (r *RepoPG) MarkAnchored(ctx context.Context, id uuid.UUID, txHash string, anchoredAt time.Time) error {
	const q = `UPDATE hash_anchor_queue
		SET anchor_status = 'anchored', blockchain_tx_hash = $2, anchored_at = $3, error_message = NULL
		WHERE id = $1 AND anchor_status = 'processing'`

	tag, err := r.conn(ctx).Exec(ctx, q, id, txHash, anchoredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEligible
	}
	return nil
}

func (r *RepoPG) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	const q = `UPDATE hash_anchor_queue
		SET anchor_status = 'failed', retry_count = retry_count + 1, error_message = $2
		WHERE id = $1 AND anchor_status = 'processing'`

	tag, err := r.conn(ctx).Exec(ctx, q, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEligible
	}
	return nil
}

func (r *RepoPG) Requeue(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE hash_anchor_queue
		SET anchor_status = 'pending', error_message = NULL
		WHERE id = $1 AND anchor_status = 'failed' AND retry_count < $2`

	tag, err := r.conn(ctx).Exec(ctx, q, id, MaxRetries)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEligible
	}
	return nil
}

func (r *RepoPG) ListFailed(ctx context.Context, exhausted bool, limit, offset int) ([]*Entry, int, error) {
	where := `anchor_status = 'failed'`
	args := []interface{}{}
	idx := 1
	if exhausted {
		where += fmt.Sprintf(" AND retry_count >= $%d", idx)
		args = append(args, MaxRetries)
		idx++
	}

	var total int
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM hash_anchor_queue WHERE %s", where)
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM hash_anchor_queue WHERE %s ORDER BY queued_at ASC LIMIT $%d OFFSET $%d",
		entryCols, where, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.list(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
