// Package session keeps the device user, its access token and the in-progress login and
// registration flows, and decides when synchronisation may run.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/convert"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// Preference keys owned by the session.
const (
	KeyAccessToken          = "preference_access_token"
	KeyAccessTokenExpiresAt = "preference_access_token_expires_at"
)

// AuthAPI is the server side of login, registration and PIN reset.
type AuthAPI interface {
	RequestLoginOtp(ctx context.Context, userID uuid.UUID) error
	Login(ctx context.Context, req api.LoginRequest) (api.LoginResponse, error)
	FindUser(ctx context.Context, phone string) (api.LoggedInUserPayload, error)
	Register(ctx context.Context, req api.RegistrationRequest) (api.RegistrationResponse, error)
	ResetPin(ctx context.Context, req api.ResetPinRequest) (api.ForgotPinResponse, error)
}

// UserStore keeps the single device user and its facilities.
type UserStore interface {
	User(ctx context.Context) (*model.User, error)
	SaveUser(ctx context.Context, u model.User, facilityIDs []uuid.UUID) error
	UpdateLoggedInStatus(ctx context.Context, userID uuid.UUID, st model.LoggedInStatus) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	FacilityIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// LocalData wipes local tables.
type LocalData interface {
	ClearPatientData(ctx context.Context) error
	ClearAllTables(ctx context.Context) error
}

// Preferences is the named string store holding the access token and pull cursors.
type Preferences interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// SyncScheduler runs an on-demand sync of every record type.
type SyncScheduler interface {
	SyncImmediately(ctx context.Context, retries int, timeout time.Duration) error
}

// FacilityPuller pulls facilities from the server.
type FacilityPuller interface {
	Pull(ctx context.Context) error
}

// OtpListener starts watching for an incoming login code.
type OtpListener interface {
	ListenForLoginOtp(ctx context.Context) error
}

// PinHasher produces and checks PIN digests.
type PinHasher interface {
	Hash(pin string) (string, error)
	Compare(digest, pin string) error
}

// PinGuard limits local PIN attempts.
type PinGuard interface {
	Allow(ctx context.Context) (bool, time.Duration, error)
	Failure(ctx context.Context) (bool, time.Duration, error)
	ResetFailedAttempts(ctx context.Context) error
}

// Executor runs fn in the background.
type Executor func(fn func())

// Deps are the collaborators a Session needs.
type Deps struct {
	API        AuthAPI
	Users      UserStore
	Data       LocalData
	Prefs      Preferences
	Sync       SyncScheduler
	Facilities FacilityPuller
	Hasher     PinHasher
	PinGuard   PinGuard
}

// Config tunes the sync runs the session triggers.
type Config struct {
	LoginSyncTimeout time.Duration // background sync after login
	ClearRetries     int           // sync before wiping data
	ClearTimeout     time.Duration
}

// DefaultConfig mirrors the production client.
func DefaultConfig() Config {
	return Config{LoginSyncTimeout: time.Minute, ClearRetries: 0, ClearTimeout: 15 * time.Second}
}

// Session is the authentication state machine of the device.
type Session struct {
	api    AuthAPI
	users  UserStore
	data   LocalData
	prefs  Preferences
	sync   SyncScheduler
	facs   FacilityPuller
	hasher PinHasher
	guard  PinGuard

	otp OtpListener
	bg  Executor
	cfg Config
	log *zap.Logger

	login        Slot[model.OngoingLoginEntry]
	registration Slot[model.OngoingRegistrationEntry]
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(c Config) Option { return func(s *Session) { s.cfg = c } }

// WithExecutor replaces the goroutine used for background syncs.
func WithExecutor(e Executor) Option { return func(s *Session) { s.bg = e } }

// WithOtpListener sets the collaborator told to watch for incoming login codes.
func WithOtpListener(l OtpListener) Option { return func(s *Session) { s.otp = l } }

// New returns a Session. Every field of d is required.
func New(d Deps, opts ...Option) (*Session, error) {
	if d.API == nil || d.Users == nil || d.Data == nil || d.Prefs == nil ||
		d.Sync == nil || d.Facilities == nil || d.Hasher == nil || d.PinGuard == nil {
		return nil, errors.New("session: missing dependency")
	}
	s := &Session{
		api:    d.API,
		users:  d.Users,
		data:   d.Data,
		prefs:  d.Prefs,
		sync:   d.Sync,
		facs:   d.Facilities,
		hasher: d.Hasher,
		guard:  d.PinGuard,
		bg:     func(fn func()) { go fn() },
		cfg:    DefaultConfig(),
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// --- Ongoing entries ---

// SaveOngoingLoginEntry starts a login, replacing any login already in progress.
func (s *Session) SaveOngoingLoginEntry(e model.OngoingLoginEntry) { s.login.Set(e) }

// OngoingLoginEntry returns the login in progress or errs.ErrNoOngoingEntry.
func (s *Session) OngoingLoginEntry() (model.OngoingLoginEntry, error) {
	e, ok := s.login.Get()
	if !ok {
		return e, errs.ErrNoOngoingEntry
	}
	return e, nil
}

// ClearOngoingLoginEntry drops the login in progress, if any.
func (s *Session) ClearOngoingLoginEntry() { s.login.Clear() }

// SaveOngoingRegistrationEntry starts a registration, replacing any already in progress.
func (s *Session) SaveOngoingRegistrationEntry(e model.OngoingRegistrationEntry) {
	s.registration.Set(e)
}

// OngoingRegistrationEntry returns the registration in progress or errs.ErrNoOngoingEntry.
func (s *Session) OngoingRegistrationEntry() (model.OngoingRegistrationEntry, error) {
	e, ok := s.registration.Get()
	if !ok {
		return e, errs.ErrNoOngoingEntry
	}
	return e, nil
}

// ClearOngoingRegistrationEntry drops the registration in progress, if any.
func (s *Session) ClearOngoingRegistrationEntry() { s.registration.Clear() }

// IsOngoingRegistrationEntryPresent reports whether a registration is in progress.
func (s *Session) IsOngoingRegistrationEntryPresent() bool { return s.registration.Present() }

// --- Accessors ---

// AccessToken returns the stored bearer token; ok is false when there is none.
func (s *Session) AccessToken(ctx context.Context) (string, bool, error) {
	tok, ok, err := s.prefs.Get(ctx, KeyAccessToken)
	if err != nil || !ok || tok == "" {
		return "", false, err
	}
	return tok, true, nil
}

// AccessTokenExpiry returns the expiry recorded for the stored token, if known.
func (s *Session) AccessTokenExpiry(ctx context.Context) (time.Time, bool) {
	v, ok, err := s.prefs.Get(ctx, KeyAccessTokenExpiresAt)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LoggedInUser returns the stored user or nil.
func (s *Session) LoggedInUser(ctx context.Context) (*model.User, error) {
	return s.users.User(ctx)
}

// IsUserLoggedIn reports whether a user row exists. Token validity is not considered.
func (s *Session) IsUserLoggedIn(ctx context.Context) (bool, error) {
	u, err := s.users.User(ctx)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}

// RequireLoggedInUser returns the stored user or errs.ErrNotLoggedIn.
func (s *Session) RequireLoggedInUser(ctx context.Context) (model.User, error) {
	u, err := s.users.User(ctx)
	if err != nil {
		return model.User{}, err
	}
	if u == nil {
		return model.User{}, errs.ErrNotLoggedIn
	}
	return *u, nil
}

// CanSyncData reports whether periodic sync may run for the stored user.
func (s *Session) CanSyncData(ctx context.Context) bool {
	u, err := s.users.User(ctx)
	if err != nil {
		s.log.Warn("read user", zap.Error(err))
		return false
	}
	return u != nil && u.CanSyncData()
}

// ClearLoggedInUser removes the stored user and its facility mappings.
func (s *Session) ClearLoggedInUser(ctx context.Context) error {
	s.log.Info("clearing logged-in user")
	u, err := s.users.User(ctx)
	if err != nil || u == nil {
		return err
	}
	return s.users.DeleteUser(ctx, u.ID)
}

// Logout wipes every preference and every local table. It does not stop background work
// already started, such as a registration in flight.
func (s *Session) Logout(ctx context.Context) error {
	s.log.Info("logging out")
	s.login.Clear()
	s.registration.Clear()
	prefsErr := s.prefs.Clear(ctx)
	if prefsErr != nil {
		prefsErr = fmt.Errorf("clear preferences: %w", prefsErr)
	}
	dataErr := s.data.ClearAllTables(ctx)
	if dataErr != nil {
		dataErr = fmt.Errorf("clear tables: %w", dataErr)
	}
	return errors.Join(prefsErr, dataErr)
}

// --- helpers ---

// storeUserAndAccessToken saves the token first, then the user with status st.
func (s *Session) storeUserAndAccessToken(ctx context.Context, token string, p api.LoggedInUserPayload, st model.LoggedInStatus) error {
	s.log.Info("storing user and access token", zap.Bool("blank_token", token == ""))
	if err := s.prefs.Set(ctx, KeyAccessToken, token); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if exp, ok := tokenExpiry(token); ok {
		if err := s.prefs.Set(ctx, KeyAccessTokenExpiresAt, exp.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("store token expiry: %w", err)
		}
	} else if err := s.prefs.Delete(ctx, KeyAccessTokenExpiresAt); err != nil {
		return fmt.Errorf("clear token expiry: %w", err)
	}
	return s.storeUser(ctx, convert.UserFromPayload(p, st), p.FacilityIDs)
}

func (s *Session) storeUser(ctx context.Context, u model.User, facilityIDs []uuid.UUID) error {
	if len(facilityIDs) == 0 {
		return errors.New("user has no facilities")
	}
	if err := s.users.SaveUser(ctx, u, facilityIDs); err != nil {
		s.log.Error("store user", zap.Error(err))
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// unexpected logs err in full and downgrades it to an unexpected error.
func (s *Session) unexpected(op string, err error) error {
	s.log.Error(op+" failed", zap.Error(err))
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.KindUnexpected {
		return err
	}
	return errs.Unexpected(fmt.Errorf("%s: %w", op, err))
}

// tokenExpiry reads exp from a JWT without verifying it; the server owns the key.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	t, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := t.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
