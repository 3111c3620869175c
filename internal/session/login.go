package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/convert"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// RequestLoginOtp asks the server to send a login code for the ongoing login entry and marks
// the stored user OTP_REQUESTED. Failing to start the OTP listener is tolerated.
func (s *Session) RequestLoginOtp(ctx context.Context) error {
	s.log.Info("requesting login otp")
	entry, err := s.OngoingLoginEntry()
	if err != nil {
		return s.unexpected("request login otp", err)
	}

	if s.otp != nil {
		if err := s.otp.ListenForLoginOtp(ctx); err != nil {
			s.log.Warn("otp listener did not start", zap.Error(err))
		}
	}

	if err := s.api.RequestLoginOtp(ctx, entry.UserID); err != nil {
		if errs.KindOf(err) == errs.KindNetwork {
			s.log.Warn("request login otp: network", zap.Error(err))
			return err
		}
		return s.unexpected("request login otp", err)
	}
	switch err := s.users.UpdateLoggedInStatus(ctx, entry.UserID, model.OTPRequested); {
	case errors.Is(err, errs.ErrNotFound):
		// the code is already on its way; there is just no local row to mark
		s.log.Warn("request login otp: no stored user to mark", zap.String("user_id", entry.UserID.String()))
	case err != nil:
		return s.unexpected("request login otp", err)
	}
	return nil
}

// LoginWithOtp logs the ongoing login entry in with otp. On success the user is stored
// LOGGED_IN, a background sync is started and the entry is cleared. A rejected login
// returns a server error carrying the first message of the error body and keeps the entry.
func (s *Session) LoginWithOtp(ctx context.Context, otp string) error {
	s.log.Info("logging in with otp")
	entry, err := s.OngoingLoginEntry()
	if err != nil {
		return s.unexpected("login", err)
	}
	req := api.LoginRequest{User: api.LoginUserPayload{
		PhoneNumber: entry.PhoneNumber,
		Pin:         entry.Pin,
		Otp:         otp,
	}}

	resp, err := s.api.Login(ctx, req)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindNetwork:
			s.log.Warn("login: network", zap.Error(err))
			return err
		case errs.KindAuth:
			msg := errs.MessageOf(err)
			if body, ok := api.ErrorBody(err); ok {
				msg = body.FirstError()
			}
			s.log.Info("login rejected", zap.String("reason", msg))
			return &errs.Error{Kind: errs.KindServer, Message: msg, Err: err}
		default:
			return s.unexpected("login", err)
		}
	}

	if err := s.storeUserAndAccessToken(ctx, resp.AccessToken, resp.User, model.LoggedIn); err != nil {
		return s.unexpected("login", err)
	}
	s.syncInBackground()
	s.login.Clear()
	s.log.Info("logged in", zap.String("user_id", resp.User.ID.String()))
	return nil
}

// syncInBackground starts a best-effort sync; its outcome is only logged.
func (s *Session) syncInBackground() {
	timeout := s.cfg.LoginSyncTimeout
	s.bg(func() {
		if err := s.sync.SyncImmediately(context.Background(), 0, timeout); err != nil {
			s.log.Info("sync after login failed", zap.Error(err))
		}
	})
}

// FindExistingUser looks a user up on the server by phone number. The error kind is
// network, not found or unexpected.
func (s *Session) FindExistingUser(ctx context.Context, phone string) (api.LoggedInUserPayload, error) {
	s.log.Info("finding user with phone number")
	p, err := s.api.FindUser(ctx, phone)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindNetwork, errs.KindNotFound:
			return api.LoggedInUserPayload{}, err
		default:
			return api.LoggedInUserPayload{}, s.unexpected("find user", err)
		}
	}
	return p, nil
}

// SyncFacilityAndSaveUser pulls facilities and then stores p as a NOT_LOGGED_IN user.
func (s *Session) SyncFacilityAndSaveUser(ctx context.Context, p api.LoggedInUserPayload) error {
	if err := s.facs.Pull(ctx); err != nil {
		if errs.KindOf(err) == errs.KindNetwork {
			return err
		}
		return s.unexpected("pull facilities", err)
	}
	if err := s.storeUser(ctx, convert.UserFromPayload(p, model.NotLoggedIn), p.FacilityIDs); err != nil {
		return s.unexpected("save user", err)
	}
	return nil
}

// VerifyPin checks pin against the stored digest, counting failures. Once too many attempts
// failed it returns errs.ErrRateLimited until the block expires.
func (s *Session) VerifyPin(ctx context.Context, pin string) error {
	ok, wait, err := s.guard.Allow(ctx)
	if err != nil {
		return s.unexpected("verify pin", err)
	}
	if !ok {
		return fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, wait.Round(time.Second))
	}
	u, err := s.RequireLoggedInUser(ctx)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(u.PinDigest, pin); err != nil {
		if !errors.Is(err, errs.ErrIncorrectPIN) {
			return s.unexpected("verify pin", err)
		}
		blocked, wait, ferr := s.guard.Failure(ctx)
		if ferr != nil {
			return s.unexpected("verify pin", ferr)
		}
		if blocked {
			return fmt.Errorf("%w: %w: retry in %s", errs.ErrIncorrectPIN, errs.ErrRateLimited, wait.Round(time.Second))
		}
		return errs.ErrIncorrectPIN
	}
	return s.guard.ResetFailedAttempts(ctx)
}
