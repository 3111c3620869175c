// Package service contains the reference server's application services for accounts and records.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/clinic-sync/internal/crypto"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/limiter"
	"github.com/and161185/clinic-sync/internal/model"
	"github.com/and161185/clinic-sync/internal/repository"
)

const otpDigits = 6

// AuthService defines account and login operations.
type AuthService interface {
	// RequestOtp generates a login code for the user and hands it to the sender.
	RequestOtp(ctx context.Context, userID uuid.UUID) error
	// Login checks PIN and code with rate limiting by (phone, ip).
	Login(ctx context.Context, phone, pin, otp, ip string) (model.Tokens, model.UserAccount, error)
	// FindUser looks an account up by phone number.
	FindUser(ctx context.Context, phone string) (model.UserAccount, error)
	// Register creates an account. The PIN arrives already digested by the client.
	Register(ctx context.Context, a model.UserAccount) (model.Tokens, model.UserAccount, error)
	// ResetPin replaces the PIN digest of an authenticated user.
	ResetPin(ctx context.Context, userID uuid.UUID, digest string) (model.Tokens, model.UserAccount, error)
}

// OTPSender delivers a login code to a phone.
type OTPSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending them.
type LogSender struct{ Log *zap.Logger }

// SendOTP logs the code.
func (s LogSender) SendOTP(_ context.Context, phone, code string) error {
	s.Log.Info("login otp", zap.String("phone", phone), zap.String("otp", code))
	return nil
}

// AuthConfig tunes token lifetimes and approval.
type AuthConfig struct {
	SignKey     []byte
	AccessTTL   time.Duration
	OTPTTL      time.Duration
	AutoApprove bool // new accounts and PIN resets are approved for syncing immediately
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	otps     repository.OTPRepository
	lim      limiter.Limiter
	throttle *limiter.OTPThrottle
	sender   OTPSender
	hasher   pkgcrypto.PinHasher
	cfg      AuthConfig
	now      func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	otps repository.OTPRepository,
	lim limiter.Limiter,
	throttle *limiter.OTPThrottle,
	sender OTPSender,
	cfg AuthConfig,
) *AuthServiceImpl {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	return &AuthServiceImpl{
		users:    users,
		otps:     otps,
		lim:      lim,
		throttle: throttle,
		sender:   sender,
		hasher:   pkgcrypto.NewBcryptHasher(0),
		cfg:      cfg,
		now:      time.Now,
	}
}

// RequestOtp stores a salted hash of a fresh code and sends the code.
func (s *AuthServiceImpl) RequestOtp(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if s.throttle != nil && !s.throttle.Allow(userID) {
		return errs.ErrRateLimited
	}

	code, err := pkgcrypto.GenerateOTP(otpDigits)
	if err != nil {
		return err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return err
	}
	otp := model.LoginOTP{
		UserID:    userID,
		Hash:      pkgcrypto.HashSecret([]byte(code), salt),
		Salt:      salt,
		ExpiresAt: s.now().Add(s.cfg.OTPTTL).UTC(),
	}
	if err := s.otps.Save(ctx, otp); err != nil {
		return err
	}
	return s.sender.SendOTP(ctx, u.PhoneNumber, code)
}

// Login authenticates with rate limiting by (phone, ip). A code is consumed on success.
func (s *AuthServiceImpl) Login(ctx context.Context, phone, pin, otp, ip string) (model.Tokens, model.UserAccount, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, phone, ipHash)
	if err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}
	if !allowed {
		return model.Tokens{}, model.UserAccount{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByPhone(ctx, phone)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		// unknown numbers look like a wrong PIN
		return model.Tokens{}, model.UserAccount{}, s.fail(ctx, phone, ipHash, errs.ErrIncorrectPIN)
	case err != nil:
		return model.Tokens{}, model.UserAccount{}, err
	}

	if err := s.hasher.Compare(u.PinDigest, pin); err != nil {
		if errors.Is(err, errs.ErrIncorrectPIN) {
			return model.Tokens{}, model.UserAccount{}, s.fail(ctx, phone, ipHash, err)
		}
		return model.Tokens{}, model.UserAccount{}, err
	}

	stored, err := s.otps.Get(ctx, u.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return model.Tokens{}, model.UserAccount{}, s.fail(ctx, phone, ipHash, errs.ErrIncorrectOTP)
	case err != nil:
		return model.Tokens{}, model.UserAccount{}, err
	}
	if s.now().After(stored.ExpiresAt) || !pkgcrypto.VerifySecret([]byte(otp), stored.Salt, stored.Hash) {
		return model.Tokens{}, model.UserAccount{}, s.fail(ctx, phone, ipHash, errs.ErrIncorrectOTP)
	}
	if err := s.otps.Delete(ctx, u.ID); err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, phone, ipHash)

	tok, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}
	return tok, *u, nil
}

// fail records a failed attempt and reports the block instead of cause once the limit is reached.
func (s *AuthServiceImpl) fail(ctx context.Context, phone string, ipHash []byte, cause error) error {
	if blocked, _, err := s.lim.Failure(ctx, phone, ipHash); err == nil && blocked {
		return errs.ErrRateLimited
	}
	return cause
}

// FindUser returns the account registered to phone.
func (s *AuthServiceImpl) FindUser(ctx context.Context, phone string) (model.UserAccount, error) {
	if strings.TrimSpace(phone) == "" {
		return model.UserAccount{}, fmt.Errorf("%w: empty phone number", errs.ErrInvalidInput)
	}
	u, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return model.UserAccount{}, err
	}
	return *u, nil
}

// Register validates and stores a new account, then issues a token for it.
func (s *AuthServiceImpl) Register(ctx context.Context, a model.UserAccount) (model.Tokens, model.UserAccount, error) {
	switch {
	case strings.TrimSpace(a.PhoneNumber) == "":
		return model.Tokens{}, model.UserAccount{}, fmt.Errorf("%w: empty phone number", errs.ErrInvalidInput)
	case strings.TrimSpace(a.FullName) == "":
		return model.Tokens{}, model.UserAccount{}, fmt.Errorf("%w: empty full name", errs.ErrInvalidInput)
	case a.PinDigest == "":
		return model.Tokens{}, model.UserAccount{}, fmt.Errorf("%w: empty pin digest", errs.ErrInvalidInput)
	case len(a.FacilityIDs) == 0:
		return model.Tokens{}, model.UserAccount{}, fmt.Errorf("%w: no facilities", errs.ErrInvalidInput)
	}

	if a.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return model.Tokens{}, model.UserAccount{}, err
		}
		a.ID = id
	}
	now := s.now().UTC()
	a.Status = s.initialStatus()
	a.CreatedAt, a.UpdatedAt = now, now

	if err := s.users.Create(ctx, &a); err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}
	tok, err := s.issueAccessToken(a.ID)
	if err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}
	return tok, a, nil
}

// ResetPin stores the new digest. The account goes back to waiting for approval unless auto-approve is on.
func (s *AuthServiceImpl) ResetPin(ctx context.Context, userID uuid.UUID, digest string) (model.Tokens, model.UserAccount, error) {
	if digest == "" {
		return model.Tokens{}, model.UserAccount{}, fmt.Errorf("%w: empty pin digest", errs.ErrInvalidInput)
	}
	u, err := s.users.UpdatePin(ctx, userID, digest, s.initialStatus())
	if err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}
	// a lockout earned with the old PIN no longer applies
	_ = s.lim.Reset(ctx, u.PhoneNumber)
	tok, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.UserAccount{}, err
	}
	return tok, *u, nil
}

func (s *AuthServiceImpl) initialStatus() model.UserStatus {
	if s.cfg.AutoApprove {
		return model.ApprovedForSyncing
	}
	return model.WaitingForApproval
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (model.Tokens, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.cfg.SignKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
