package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// OTPRepo implements OTPRepository using PostgreSQL.
type OTPRepo struct{ db *DB }

// NewOTPRepo constructs an OTP repository.
func NewOTPRepo(db *DB) *OTPRepo { return &OTPRepo{db: db} }

// Save replaces the user's code.
func (r *OTPRepo) Save(ctx context.Context, o model.LoginOTP) error {
	const q = `
INSERT INTO login_otps (user_id, otp_hash, salt, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET otp_hash = EXCLUDED.otp_hash, salt = EXCLUDED.salt, expires_at = EXCLUDED.expires_at`
	_, err := r.db.Pool.Exec(ctx, q, o.UserID, o.Hash, o.Salt, o.ExpiresAt)
	return err
}

// Get loads the user's code.
func (r *OTPRepo) Get(ctx context.Context, userID uuid.UUID) (model.LoginOTP, error) {
	const q = `SELECT user_id, otp_hash, salt, expires_at FROM login_otps WHERE user_id=$1`
	var o model.LoginOTP
	err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&o.UserID, &o.Hash, &o.Salt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LoginOTP{}, errs.ErrNotFound
	}
	return o, err
}

// Delete removes the user's code.
func (r *OTPRepo) Delete(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM login_otps WHERE user_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, userID)
	return err
}
