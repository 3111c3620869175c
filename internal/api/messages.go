package api

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-sync/internal/model"
)

// LoggedInUserPayload is a user as exchanged with the server.
type LoggedInUserPayload struct {
	ID          uuid.UUID        `json:"id"`
	FullName    string           `json:"full_name"`
	PhoneNumber string           `json:"phone_number"`
	PinDigest   string           `json:"password_digest"`
	FacilityIDs []uuid.UUID      `json:"facility_ids"`
	Status      model.UserStatus `json:"sync_approval_status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RequestOtpRequest asks the server to send a login code to the user's phone.
type RequestOtpRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// LoginUserPayload carries login credentials.
type LoginUserPayload struct {
	PhoneNumber string `json:"phone_number"`
	Pin         string `json:"password"`
	Otp         string `json:"otp"`
}

type LoginRequest struct {
	User LoginUserPayload `json:"user"`
}

type LoginResponse struct {
	AccessToken string              `json:"access_token"`
	User        LoggedInUserPayload `json:"user"`
}

type FindUserRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type RegistrationRequest struct {
	User LoggedInUserPayload `json:"user"`
}

type RegistrationResponse struct {
	AccessToken string              `json:"access_token"`
	User        LoggedInUserPayload `json:"user"`
}

// ResetPinRequest replaces the PIN digest of the authenticated user.
type ResetPinRequest struct {
	PasswordDigest string `json:"password_digest"`
}

type ForgotPinResponse struct {
	AccessToken string              `json:"access_token"`
	User        LoggedInUserPayload `json:"user"`
}

// PushRequest sends an ordered batch of records of one type. Records is a JSON array.
type PushRequest struct {
	Resource model.Resource  `json:"resource"`
	Records  json.RawMessage `json:"records"`
}

// PullRequest asks for records changed after ProcessToken (nil means from the beginning).
type PullRequest struct {
	Resource     model.Resource `json:"resource"`
	ProcessToken *string        `json:"process_token,omitempty"`
	Limit        int            `json:"limit,omitempty"`
}

// PullResponse is one page of changed records.
type PullResponse struct {
	Records      json.RawMessage `json:"records"`
	ProcessToken string          `json:"process_token"`
	HasMore      bool            `json:"has_more"`
}

// Empty is an empty request or response.
type Empty struct{}

// ErrorResponse is the structured error body carried by rejected calls.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

// FirstError returns the first message or "".
func (e ErrorResponse) FirstError() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0]
}
