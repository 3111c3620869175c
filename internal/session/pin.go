package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// ResetPin sends a digest of the new pin to the server and stores the response as
// RESET_PIN_REQUESTED. A 401 means the server no longer knows the user and is reported as
// errs.ErrUserNotFound.
func (s *Session) ResetPin(ctx context.Context, pin string) error {
	s.log.Info("resetting pin")
	digest, err := s.hasher.Hash(pin)
	if err != nil {
		return s.unexpected("reset pin", err)
	}
	resp, err := s.api.ResetPin(ctx, api.ResetPinRequest{PasswordDigest: digest})
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindNetwork:
			return err
		case errs.KindAuth:
			return &errs.Error{Kind: errs.KindAuth, Message: errs.MessageOf(err), Err: fmt.Errorf("%w: %w", errs.ErrUserNotFound, err)}
		default:
			return s.unexpected("reset pin", err)
		}
	}
	if err := s.storeUserAndAccessToken(ctx, resp.AccessToken, resp.User, model.ResetPinRequested); err != nil {
		return s.unexpected("reset pin", err)
	}
	return nil
}

// SyncAndClearData is used while a PIN reset waits for approval. It syncs what it can,
// wipes clinical data and the pull cursors that point into it, resets the PIN attempt
// counter and marks the user RESETTING_PIN. Later steps run even when earlier ones fail;
// the status is only changed once data and cursors are gone.
func (s *Session) SyncAndClearData(ctx context.Context) error {
	s.log.Info("syncing and clearing all patient related data")

	if err := s.sync.SyncImmediately(ctx, s.cfg.ClearRetries, s.cfg.ClearTimeout); err != nil {
		s.log.Warn("sync before clearing data failed", zap.Error(err))
	}

	var dataErr, tokenErr error
	if err := s.data.ClearPatientData(ctx); err != nil {
		dataErr = fmt.Errorf("clear patient data: %w", err)
	}
	for _, r := range model.PatientDataResources() {
		if err := s.prefs.Delete(ctx, r.TokenKey()); err != nil {
			tokenErr = errors.Join(tokenErr, fmt.Errorf("delete %s: %w", r.TokenKey(), err))
		}
	}

	var guardErr error
	if err := s.guard.ResetFailedAttempts(ctx); err != nil {
		guardErr = fmt.Errorf("reset pin attempts: %w", err)
	}

	var statusErr error
	if dataErr == nil && tokenErr == nil {
		u, err := s.RequireLoggedInUser(ctx)
		if err == nil {
			err = s.users.UpdateLoggedInStatus(ctx, u.ID, model.ResettingPin)
		}
		if err != nil {
			statusErr = fmt.Errorf("mark resetting pin: %w", err)
		}
	}

	if err := errors.Join(dataErr, tokenErr, guardErr, statusErr); err != nil {
		s.log.Error("sync and clear data", zap.Error(err))
		return err
	}
	return nil
}
