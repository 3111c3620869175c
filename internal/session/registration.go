package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/convert"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// LoginFromOngoingRegistrationEntry stores the user being registered locally, waiting for
// approval and not yet logged in, and clears the registration entry.
func (s *Session) LoginFromOngoingRegistrationEntry(ctx context.Context) error {
	s.log.Info("logging in from ongoing registration entry")
	e, err := s.OngoingRegistrationEntry()
	if err != nil {
		return s.unexpected("login from registration", err)
	}
	if e.PinConfirmation != "" && e.Pin != e.PinConfirmation {
		return s.unexpected("login from registration", errors.New("validation: pin confirmation does not match"))
	}
	digest, err := s.hasher.Hash(e.Pin)
	if err != nil {
		return s.unexpected("login from registration", err)
	}
	u := model.User{
		ID:             e.UserID,
		FullName:       e.FullName,
		PhoneNumber:    e.PhoneNumber,
		PinDigest:      digest,
		Status:         model.WaitingForApproval,
		LoggedInStatus: model.NotLoggedIn,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.CreatedAt,
	}
	if err := s.storeUser(ctx, u, e.FacilityIDs); err != nil {
		return s.unexpected("login from registration", err)
	}
	s.registration.Clear()
	return nil
}

// Register submits the stored user and its facilities to the server and stores the response
// as LOGGED_IN. The server may not have approved the user yet; RefreshLoggedInUser picks up
// the approval later.
func (s *Session) Register(ctx context.Context) error {
	s.log.Info("registering user")
	u, err := s.RequireLoggedInUser(ctx)
	if err != nil {
		return s.unexpected("register", err)
	}
	facilities, err := s.users.FacilityIDs(ctx, u.ID)
	if err != nil {
		return s.unexpected("register", err)
	}

	resp, err := s.api.Register(ctx, api.RegistrationRequest{User: convert.PayloadFromUser(u, facilities)})
	if err != nil {
		if errs.KindOf(err) == errs.KindNetwork {
			s.log.Warn("register: network", zap.Error(err))
			return err
		}
		return s.unexpected("register", err)
	}
	if len(resp.User.FacilityIDs) == 0 {
		return s.unexpected("register", errors.New("server did not send back any facilities"))
	}
	if err := s.storeUserAndAccessToken(ctx, resp.AccessToken, resp.User, model.LoggedIn); err != nil {
		return s.unexpected("register", err)
	}
	s.log.Info("registered", zap.String("status", string(resp.User.Status)))
	return nil
}

// RefreshLoggedInUser re-reads the stored user from the server. An approved user is forced
// to LOGGED_IN whatever its local status; otherwise the local status is kept.
func (s *Session) RefreshLoggedInUser(ctx context.Context) error {
	u, err := s.RequireLoggedInUser(ctx)
	if err != nil {
		return err
	}
	s.log.Info("refreshing logged-in user")
	p, err := s.api.FindUser(ctx, u.PhoneNumber)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindNetwork, errs.KindNotFound, errs.KindAuth:
			return err
		default:
			return s.unexpected("refresh user", err)
		}
	}
	st := u.LoggedInStatus
	if p.Status == model.ApprovedForSyncing {
		st = model.LoggedIn
	}
	if err := s.storeUser(ctx, convert.UserFromPayload(p, st), p.FacilityIDs); err != nil {
		return s.unexpected("refresh user", err)
	}
	return nil
}
