package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-sync/internal/model"
)

// RecordRepo implements RecordRepository using PostgreSQL.
type RecordRepo struct{ db *DB }

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

// UpsertBatch writes changes under a per-resource advisory lock so versions commit in order.
// A stored row with a later updated_at is left untouched.
func (r *RecordRepo) UpsertBatch(ctx context.Context, res model.Resource, changes []model.RecordChange) error {
	if len(changes) == 0 {
		return nil
	}
	const lock = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const q = `
INSERT INTO records (resource, id, payload, updated_at, deleted, ver)
VALUES ($1, $2, $3, $4, $5, nextval('record_ver_seq'))
ON CONFLICT (resource, id) DO UPDATE
SET payload = EXCLUDED.payload,
    updated_at = EXCLUDED.updated_at,
    deleted = EXCLUDED.deleted,
    ver = EXCLUDED.ver
WHERE records.updated_at <= EXCLUDED.updated_at`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lock, string(res)); err != nil {
			return err
		}
		for _, c := range changes {
			if _, err := tx.Exec(ctx, q, string(res), c.ID, []byte(c.Payload), c.UpdatedAt, c.Deleted); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChangesSince pages through a resource in version order.
func (r *RecordRepo) GetChangesSince(ctx context.Context, res model.Resource, sinceVer int64, limit int) ([]model.RecordChange, bool, error) {
	const q = `
SELECT id, payload, updated_at, deleted, ver
FROM records
WHERE resource=$1 AND ver > $2
ORDER BY ver ASC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, string(res), sinceVer, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	out := make([]model.RecordChange, 0, limit)
	for rows.Next() {
		c := model.RecordChange{Resource: res}
		var payload []byte
		if err := rows.Scan(&c.ID, &payload, &c.UpdatedAt, &c.Deleted, &c.Ver); err != nil {
			return nil, false, err
		}
		c.Payload = payload
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	more := len(out) > limit
	if more {
		out = out[:limit]
	}
	return out, more, nil
}
