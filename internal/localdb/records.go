package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

const (
	syncPending = "PENDING"
	syncDone    = "DONE"
)

// RecordStore keeps one record type as JSON payloads with a sync marker per row.
type RecordStore[T model.Record] struct {
	db    *DB
	table string
}

// NewRecordStore returns the store for resource r.
func NewRecordStore[T model.Record](db *DB, r model.Resource) (*RecordStore[T], error) {
	if !r.Valid() {
		return nil, fmt.Errorf("localdb: unknown resource %q", r)
	}
	return &RecordStore[T]{db: db, table: string(r)}, nil
}

// Save upserts records written on this device and marks them pending sync.
func (s *RecordStore[T]) Save(ctx context.Context, records ...T) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()

	q := `INSERT INTO ` + s.table + ` (id, payload, updated_at, deleted_at, sync_status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  payload = excluded.payload,
  updated_at = excluded.updated_at,
  deleted_at = excluded.deleted_at,
  sync_status = excluded.sync_status`
	for i, rec := range records {
		if err = s.upsert(ctx, tx, q, rec, syncPending); err != nil {
			return fmt.Errorf("record[%d]: %w", i, err)
		}
	}
	return nil
}

// PendingSync returns records not yet acknowledged by the server, oldest change first.
func (s *RecordStore[T]) PendingSync(ctx context.Context) ([]T, error) {
	q := `SELECT payload FROM ` + s.table + ` WHERE sync_status = ? ORDER BY updated_at, id`
	return s.query(ctx, q, syncPending)
}

// MarkSynced flags exactly the given records as synced. A row changed after it was read
// (different updated_at) stays pending.
func (s *RecordStore[T]) MarkSynced(ctx context.Context, records []T) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()

	q := `UPDATE ` + s.table + ` SET sync_status = ? WHERE id = ? AND updated_at = ?`
	for _, rec := range records {
		if _, err = tx.ExecContext(ctx, q, syncDone, rec.RecordID(), rec.LastUpdated().UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

// MergeWithLocalData applies a page of server records in order. An incoming record replaces
// the local copy unless the local copy is strictly newer.
func (s *RecordStore[T]) MergeWithLocalData(ctx context.Context, records []T) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()

	q := `INSERT INTO ` + s.table + ` (id, payload, updated_at, deleted_at, sync_status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  payload = excluded.payload,
  updated_at = excluded.updated_at,
  deleted_at = excluded.deleted_at,
  sync_status = excluded.sync_status
WHERE excluded.updated_at >= ` + s.table + `.updated_at`
	for i, rec := range records {
		if err = s.upsert(ctx, tx, q, rec, syncDone); err != nil {
			return fmt.Errorf("record[%d]: %w", i, err)
		}
	}
	return nil
}

// Get returns a single record by id.
func (s *RecordStore[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	q := `SELECT payload FROM ` + s.table + ` WHERE id = ?`
	var payload string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, errs.ErrNotFound
		}
		return zero, err
	}
	var rec T
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return zero, fmt.Errorf("decode %s %s: %w", s.table, id, err)
	}
	return rec, nil
}

// List returns all records including soft-deleted ones.
func (s *RecordStore[T]) List(ctx context.Context) ([]T, error) {
	return s.query(ctx, `SELECT payload FROM `+s.table+` ORDER BY updated_at, id`)
}

// Count returns the number of stored records and how many of them are pending sync.
func (s *RecordStore[T]) Count(ctx context.Context) (total, pending int, err error) {
	q := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN sync_status = ? THEN 1 ELSE 0 END), 0) FROM ` + s.table
	err = s.db.QueryRowContext(ctx, q, syncPending).Scan(&total, &pending)
	return total, pending, err
}

// Clear deletes every record of this type.
func (s *RecordStore[T]) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table)
	return err
}

func (s *RecordStore[T]) upsert(ctx context.Context, tx *sql.Tx, q string, rec T, status string) error {
	if rec.RecordID() == uuid.Nil {
		return errors.New("empty id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var deletedAt sql.NullInt64
	if rec.IsDeleted() {
		deletedAt = sql.NullInt64{Int64: deletedAtOf(payload), Valid: true}
	}
	_, err = tx.ExecContext(ctx, q, rec.RecordID(), string(payload), rec.LastUpdated().UnixNano(), deletedAt, status)
	return err
}

func (s *RecordStore[T]) query(ctx context.Context, q string, args ...any) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// deletedAtOf reads deleted_at back from the encoded record; records expose only IsDeleted.
func deletedAtOf(payload []byte) int64 {
	var m struct {
		DeletedAt *time.Time `json:"deleted_at"`
	}
	if err := json.Unmarshal(payload, &m); err != nil || m.DeletedAt == nil {
		return time.Now().UnixNano()
	}
	return m.DeletedAt.UnixNano()
}
