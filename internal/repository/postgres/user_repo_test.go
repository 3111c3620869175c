package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

const (
	insertUserSQL     = `INSERT INTO users \(id, full_name, phone_number, pin_digest, status, created_at, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)`
	insertFacilitySQL = `INSERT INTO user_facilities \(user_id, facility_id, position\) VALUES \(\$1, \$2, \$3\)`
	selectFacilitySQL = `SELECT facility_id FROM user_facilities WHERE user_id=\$1 ORDER BY position ASC`
)

var userCols = []string{"id", "full_name", "phone_number", "pin_digest", "status", "created_at", "updated_at"}

func testAccount() *model.UserAccount {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.UserAccount{
		ID:          uuid.Must(uuid.NewV4()),
		FullName:    "Asha",
		PhoneNumber: "1234567890",
		PinDigest:   "digest",
		Status:      model.ApprovedForSyncing,
		FacilityIDs: []uuid.UUID{uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	a := testAccount()

	// OK
	mock.ExpectBegin()
	mock.ExpectExec(insertUserSQL).
		WithArgs(a.ID, a.FullName, a.PhoneNumber, a.PinDigest, string(a.Status), a.CreatedAt, a.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insertFacilitySQL).
		WithArgs(a.ID, a.FacilityIDs[0], 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insertFacilitySQL).
		WithArgs(a.ID, a.FacilityIDs[1], 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	require.NoError(t, r.Create(ctx, a))

	// Unique violation
	mock.ExpectBegin()
	mock.ExpectExec(insertUserSQL).
		WithArgs(a.ID, a.FullName, a.PhoneNumber, a.PinDigest, string(a.Status), a.CreatedAt, a.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()
	err := r.Create(ctx, a)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_FacilityFailureRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	a := testAccount()
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(insertUserSQL).
		WithArgs(a.ID, a.FullName, a.PhoneNumber, a.PinDigest, string(a.Status), a.CreatedAt, a.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insertFacilitySQL).
		WithArgs(a.ID, a.FacilityIDs[0], 0).
		WillReturnError(boom)
	mock.ExpectRollback()

	require.ErrorIs(t, r.Create(context.Background(), a), boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	a := testAccount()

	mock.ExpectQuery(`SELECT id, full_name, phone_number, pin_digest, status, created_at, updated_at FROM users WHERE id=\$1`).
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(a.ID, a.FullName, a.PhoneNumber, a.PinDigest, string(a.Status), a.CreatedAt, a.UpdatedAt))
	mock.ExpectQuery(selectFacilitySQL).
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows([]string{"facility_id"}).
			AddRow(a.FacilityIDs[0]).
			AddRow(a.FacilityIDs[1]))
	got, err := r.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, model.ApprovedForSyncing, got.Status)
	require.Equal(t, a.FacilityIDs, got.FacilityIDs)

	mock.ExpectQuery(`SELECT id, full_name, phone_number, pin_digest, status, created_at, updated_at FROM users WHERE id=\$1`).
		WithArgs(a.ID).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, a.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_GetByPhone(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	a := testAccount()

	mock.ExpectQuery(`SELECT id, full_name, phone_number, pin_digest, status, created_at, updated_at FROM users WHERE phone_number=\$1`).
		WithArgs(a.PhoneNumber).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(a.ID, a.FullName, a.PhoneNumber, a.PinDigest, string(a.Status), a.CreatedAt, a.UpdatedAt))
	mock.ExpectQuery(selectFacilitySQL).
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows([]string{"facility_id"}).AddRow(a.FacilityIDs[0]))
	got, err := r.GetByPhone(ctx, a.PhoneNumber)
	require.NoError(t, err)
	require.Equal(t, a.PhoneNumber, got.PhoneNumber)
	require.Len(t, got.FacilityIDs, 1)

	// driver errors are not masked as not found
	boom := errors.New("conn reset")
	mock.ExpectQuery(`SELECT id, full_name, phone_number, pin_digest, status, created_at, updated_at FROM users WHERE phone_number=\$1`).
		WithArgs("000").
		WillReturnError(boom)
	_, err = r.GetByPhone(ctx, "000")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_UpdatePin(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	a := testAccount()

	mock.ExpectQuery(`UPDATE users SET pin_digest = \$2, status = \$3, updated_at = \$4 WHERE id = \$1 RETURNING`).
		WithArgs(a.ID, "new", string(model.WaitingForApproval), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(a.ID, a.FullName, a.PhoneNumber, "new", string(model.WaitingForApproval), a.CreatedAt, a.UpdatedAt))
	mock.ExpectQuery(selectFacilitySQL).
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows([]string{"facility_id"}).AddRow(a.FacilityIDs[0]))
	got, err := r.UpdatePin(ctx, a.ID, "new", model.WaitingForApproval)
	require.NoError(t, err)
	require.Equal(t, "new", got.PinDigest)
	require.Equal(t, model.WaitingForApproval, got.Status)

	mock.ExpectQuery(`UPDATE users SET pin_digest`).
		WithArgs(a.ID, "new", string(model.WaitingForApproval), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.UpdatePin(ctx, a.ID, "new", model.WaitingForApproval)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
