// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-sync/internal/model"
)

// UserRepository provides access to registered accounts.
type UserRepository interface {
	// Create inserts a new account with its facilities. A taken phone number is errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.UserAccount) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.UserAccount, error)
	// GetByPhone loads an account by phone number.
	GetByPhone(ctx context.Context, phone string) (*model.UserAccount, error)
	// UpdatePin replaces the PIN digest and approval status and returns the updated account.
	UpdatePin(ctx context.Context, id uuid.UUID, digest string, status model.UserStatus) (*model.UserAccount, error)
}

// OTPRepository stores the last login code per user.
type OTPRepository interface {
	// Save replaces any previous code of the user.
	Save(ctx context.Context, otp model.LoginOTP) error
	// Get returns the current code or errs.ErrNotFound.
	Get(ctx context.Context, userID uuid.UUID) (model.LoginOTP, error)
	// Delete removes the code once used.
	Delete(ctx context.Context, userID uuid.UUID) error
}

// RecordRepository stores synchronised records with a server-wide version.
type RecordRepository interface {
	// UpsertBatch applies changes in order; a stored record newer than the incoming one is kept.
	UpsertBatch(ctx context.Context, r model.Resource, changes []model.RecordChange) error
	// GetChangesSince returns at most limit changes with version greater than sinceVer, oldest
	// first, and whether more remain.
	GetChangesSince(ctx context.Context, r model.Resource, sinceVer int64, limit int) ([]model.RecordChange, bool, error)
}
