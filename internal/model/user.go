package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// LoggedInStatus is the device-local authentication state of the stored user.
type LoggedInStatus string

const (
	NotLoggedIn       LoggedInStatus = "NOT_LOGGED_IN"
	OTPRequested      LoggedInStatus = "OTP_REQUESTED"
	LoggedIn          LoggedInStatus = "LOGGED_IN"
	ResettingPin      LoggedInStatus = "RESETTING_PIN"
	ResetPinRequested LoggedInStatus = "RESET_PIN_REQUESTED"
)

// UserStatus is the server-side approval state of a user.
type UserStatus string

const (
	WaitingForApproval    UserStatus = "requested"
	ApprovedForSyncing    UserStatus = "allowed"
	DisapprovedForSyncing UserStatus = "denied"
)

// User is the single account stored on the device. PinDigest never holds the raw PIN.
type User struct {
	ID             uuid.UUID
	FullName       string
	PhoneNumber    string
	PinDigest      string
	Status         UserStatus
	LoggedInStatus LoggedInStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanSyncData reports whether the user may run background synchronisation.
func (u User) CanSyncData() bool {
	return u.LoggedInStatus == LoggedIn && u.Status == ApprovedForSyncing
}

// UserAccount is a user as stored on the server, with the facilities it may work at.
type UserAccount struct {
	ID          uuid.UUID
	FullName    string
	PhoneNumber string
	PinDigest   string
	Status      UserStatus
	FacilityIDs []uuid.UUID // first is the registration facility
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OngoingLoginEntry carries login input between requesting and submitting an OTP.
type OngoingLoginEntry struct {
	UserID      uuid.UUID
	PhoneNumber string
	Pin         string
}

// OngoingRegistrationEntry carries registration input until a local user is created.
type OngoingRegistrationEntry struct {
	UserID          uuid.UUID
	FullName        string
	PhoneNumber     string
	Pin             string
	PinConfirmation string
	FacilityIDs     []uuid.UUID
	CreatedAt       time.Time
}

// LoginOTP is the server's record of the last code sent to a user.
type LoginOTP struct {
	UserID    uuid.UUID
	Hash      []byte
	Salt      []byte
	ExpiresAt time.Time
}
