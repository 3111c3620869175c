package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

type fakeAPI struct {
	mu sync.Mutex

	otpErr      error
	otpRequests []uuid.UUID

	loginResp api.LoginResponse
	loginErr  error
	loginReqs []api.LoginRequest

	findResp api.LoggedInUserPayload
	findErr  error

	regResp api.RegistrationResponse
	regErr  error
	regReqs []api.RegistrationRequest

	resetResp api.ForgotPinResponse
	resetErr  error
	resetReqs []api.ResetPinRequest
}

var _ AuthAPI = (*fakeAPI)(nil)

func (f *fakeAPI) RequestLoginOtp(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otpRequests = append(f.otpRequests, id)
	return f.otpErr
}

func (f *fakeAPI) Login(_ context.Context, req api.LoginRequest) (api.LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginReqs = append(f.loginReqs, req)
	return f.loginResp, f.loginErr
}

func (f *fakeAPI) FindUser(context.Context, string) (api.LoggedInUserPayload, error) {
	return f.findResp, f.findErr
}

func (f *fakeAPI) Register(_ context.Context, req api.RegistrationRequest) (api.RegistrationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regReqs = append(f.regReqs, req)
	return f.regResp, f.regErr
}

func (f *fakeAPI) ResetPin(_ context.Context, req api.ResetPinRequest) (api.ForgotPinResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetReqs = append(f.resetReqs, req)
	return f.resetResp, f.resetErr
}

// memUsers is a single-row user store.
type memUsers struct {
	mu         sync.Mutex
	user       *model.User
	facilities []uuid.UUID
	saveErr    error
}

var _ UserStore = (*memUsers)(nil)

func (m *memUsers) User(context.Context) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil, nil
	}
	u := *m.user
	return &u, nil
}

func (m *memUsers) SaveUser(_ context.Context, u model.User, f []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.user = &u
	m.facilities = append([]uuid.UUID(nil), f...)
	return nil
}

func (m *memUsers) UpdateLoggedInStatus(_ context.Context, id uuid.UUID, st model.LoggedInStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil || m.user.ID != id {
		return errs.ErrNotFound
	}
	m.user.LoggedInStatus = st
	return nil
}

func (m *memUsers) DeleteUser(context.Context, uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user, m.facilities = nil, nil
	return nil
}

func (m *memUsers) FacilityIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.facilities...), nil
}

func (m *memUsers) status() model.LoggedInStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ""
	}
	return m.user.LoggedInStatus
}

type fakeData struct {
	users        *memUsers
	patientErr   error
	patientCalls int
	allCalls     int
}

var _ LocalData = (*fakeData)(nil)

func (d *fakeData) ClearPatientData(context.Context) error {
	d.patientCalls++
	return d.patientErr
}

func (d *fakeData) ClearAllTables(ctx context.Context) error {
	d.allCalls++
	return d.users.DeleteUser(ctx, uuid.Nil)
}

type memPrefs struct {
	mu sync.Mutex
	m  map[string]string
}

var _ Preferences = (*memPrefs)(nil)

func newMemPrefs() *memPrefs { return &memPrefs{m: map[string]string{}} }

func (p *memPrefs) Get(_ context.Context, k string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[k]
	return v, ok, nil
}

func (p *memPrefs) Set(_ context.Context, k, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[k] = v
	return nil
}

func (p *memPrefs) Delete(_ context.Context, k string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, k)
	return nil
}

func (p *memPrefs) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m = map[string]string{}
	return nil
}

type fakeSync struct {
	mu      sync.Mutex
	err     error
	calls   int
	retries []int
}

var _ SyncScheduler = (*fakeSync)(nil)

func (f *fakeSync) SyncImmediately(_ context.Context, retries int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retries = append(f.retries, retries)
	return f.err
}

type fakeFacilities struct {
	err   error
	calls int
}

var _ FacilityPuller = (*fakeFacilities)(nil)

func (f *fakeFacilities) Pull(context.Context) error {
	f.calls++
	return f.err
}

type fakeListener struct {
	err   error
	calls int
}

var _ OtpListener = (*fakeListener)(nil)

func (l *fakeListener) ListenForLoginOtp(context.Context) error {
	l.calls++
	return l.err
}

// prefixHasher makes digests readable in assertions.
type prefixHasher struct{}

var _ PinHasher = prefixHasher{}

func (prefixHasher) Hash(pin string) (string, error) {
	if pin == "" {
		return "", errors.New("validation: empty pin")
	}
	return "hash:" + pin, nil
}

func (prefixHasher) Compare(digest, pin string) error {
	if strings.TrimPrefix(digest, "hash:") != pin {
		return errs.ErrIncorrectPIN
	}
	return nil
}

func unauthorized(messages ...string) error {
	re := &api.ResponseError{Code: codes.Unauthenticated, Body: api.ErrorResponse{Errors: messages}}
	msg := ""
	if len(messages) > 0 {
		msg = messages[0]
	}
	return &errs.Error{Kind: errs.KindAuth, Message: msg, Err: re}
}

func offline() error { return errs.Network(errors.New("connection refused")) }
