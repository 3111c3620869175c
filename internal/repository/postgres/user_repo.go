package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts the account and its facilities in one transaction.
func (r *UserRepo) Create(ctx context.Context, a *model.UserAccount) error {
	const qUser = `
INSERT INTO users (id, full_name, phone_number, pin_digest, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	const qFacility = `
INSERT INTO user_facilities (user_id, facility_id, position)
VALUES ($1, $2, $3)`

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, qUser, a.ID, a.FullName, a.PhoneNumber, a.PinDigest, string(a.Status), a.CreatedAt, a.UpdatedAt); err != nil {
			return err
		}
		for i, f := range a.FacilityIDs {
			if _, err := tx.Exec(ctx, qFacility, a.ID, f, i); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an account by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.UserAccount, error) {
	const q = `
SELECT id, full_name, phone_number, pin_digest, status, created_at, updated_at
FROM users WHERE id=$1`
	return r.get(ctx, r.db.Pool.QueryRow(ctx, q, id))
}

// GetByPhone selects an account by phone number.
func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*model.UserAccount, error) {
	const q = `
SELECT id, full_name, phone_number, pin_digest, status, created_at, updated_at
FROM users WHERE phone_number=$1`
	return r.get(ctx, r.db.Pool.QueryRow(ctx, q, phone))
}

// UpdatePin stores a new digest and status.
func (r *UserRepo) UpdatePin(ctx context.Context, id uuid.UUID, digest string, status model.UserStatus) (*model.UserAccount, error) {
	const q = `
UPDATE users
SET pin_digest = $2, status = $3, updated_at = $4
WHERE id = $1
RETURNING id, full_name, phone_number, pin_digest, status, created_at, updated_at`
	return r.get(ctx, r.db.Pool.QueryRow(ctx, q, id, digest, string(status), time.Now().UTC()))
}

func (r *UserRepo) get(ctx context.Context, row pgx.Row) (*model.UserAccount, error) {
	var (
		a      model.UserAccount
		status string
	)
	if err := row.Scan(&a.ID, &a.FullName, &a.PhoneNumber, &a.PinDigest, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	a.Status = model.UserStatus(status)

	ids, err := r.facilities(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.FacilityIDs = ids
	return &a, nil
}

func (r *UserRepo) facilities(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const q = `
SELECT facility_id FROM user_facilities
WHERE user_id=$1
ORDER BY position ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
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
