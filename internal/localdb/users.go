package localdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// UserStore keeps the single logged-in user and its facility associations.
type UserStore struct{ db *DB }

// NewUserStore constructs a user store.
func NewUserStore(db *DB) *UserStore { return &UserStore{db: db} }

// User returns the stored user, or nil when nobody is stored.
func (s *UserStore) User(ctx context.Context) (*model.User, error) {
	const q = `
SELECT id, full_name, phone_number, pin_digest, status, logged_in_status, created_at, updated_at
FROM users LIMIT 1`
	var (
		u                    model.User
		status, loggedIn     string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, q).Scan(&u.ID, &u.FullName, &u.PhoneNumber, &u.PinDigest,
		&status, &loggedIn, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Status = model.UserStatus(status)
	u.LoggedInStatus = model.LoggedInStatus(loggedIn)
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	u.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &u, nil
}

// SaveUser replaces the stored user and its facilities. The first facility becomes current.
// Any other stored user is removed so at most one row exists.
func (s *UserStore) SaveUser(ctx context.Context, u model.User, facilityIDs []uuid.UUID) (err error) {
	if u.ID == uuid.Nil {
		return errors.New("validation: empty user id")
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_facilities`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id <> ?`, u.ID); err != nil {
		return err
	}

	const ups = `
INSERT INTO users (id, full_name, phone_number, pin_digest, status, logged_in_status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  full_name = excluded.full_name,
  phone_number = excluded.phone_number,
  pin_digest = excluded.pin_digest,
  status = excluded.status,
  logged_in_status = excluded.logged_in_status,
  updated_at = excluded.updated_at`
	if _, err = tx.ExecContext(ctx, ups, u.ID, u.FullName, u.PhoneNumber, u.PinDigest,
		string(u.Status), string(u.LoggedInStatus), u.CreatedAt.UnixNano(), u.UpdatedAt.UnixNano()); err != nil {
		return err
	}

	const ins = `INSERT OR IGNORE INTO user_facilities (user_id, facility_id, position, is_current) VALUES (?, ?, ?, ?)`
	for i, fid := range facilityIDs {
		if _, err = tx.ExecContext(ctx, ins, u.ID, fid, i, i == 0); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLoggedInStatus changes the logged-in status of the stored user.
func (s *UserStore) UpdateLoggedInStatus(ctx context.Context, userID uuid.UUID, st model.LoggedInStatus) error {
	const q = `UPDATE users SET logged_in_status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(st), time.Now().UnixNano(), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteUser removes the user and its facility associations.
func (s *UserStore) DeleteUser(ctx context.Context, userID uuid.UUID) (err error) {
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_facilities WHERE user_id = ?`, userID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}

// FacilityIDs returns the user's facilities, current facility first.
func (s *UserStore) FacilityIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT facility_id FROM user_facilities WHERE user_id = ? ORDER BY is_current DESC, position`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CurrentFacilityID returns the facility marked current for the user.
func (s *UserStore) CurrentFacilityID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	const q = `SELECT facility_id FROM user_facilities WHERE user_id = ? AND is_current = 1`
	var id uuid.UUID
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, errs.ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// SetCurrentFacility moves the current marker to facilityID, which must already be associated.
func (s *UserStore) SetCurrentFacility(ctx context.Context, userID, facilityID uuid.UUID) (err error) {
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

	res, err := tx.ExecContext(ctx, `UPDATE user_facilities SET is_current = 1 WHERE user_id = ? AND facility_id = ?`, userID, facilityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `UPDATE user_facilities SET is_current = 0 WHERE user_id = ? AND facility_id <> ?`, userID, facilityID)
	return err
}
