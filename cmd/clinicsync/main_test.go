package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/app"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
	"github.com/and161185/clinic-sync/internal/session"
)

// stubServer knows one user and one facility and accepts the code 123456.
type stubServer struct {
	user     api.LoggedInUserPayload
	facility model.Facility
}

var _ api.ClinicSyncServer = (*stubServer)(nil)

func (s *stubServer) RequestLoginOtp(context.Context, *api.RequestOtpRequest) (*api.Empty, error) {
	return &api.Empty{}, nil
}

func (s *stubServer) Login(_ context.Context, in *api.LoginRequest) (*api.LoginResponse, error) {
	if in.User.Otp != "123456" {
		return nil, api.ErrorStatus(codes.Unauthenticated, "Incorrect OTP")
	}
	return &api.LoginResponse{AccessToken: "token-1", User: s.user}, nil
}

func (s *stubServer) FindUser(context.Context, *api.FindUserRequest) (*api.LoggedInUserPayload, error) {
	u := s.user
	return &u, nil
}

func (s *stubServer) Register(context.Context, *api.RegistrationRequest) (*api.RegistrationResponse, error) {
	return nil, api.ErrorStatus(codes.Unimplemented, "not used")
}

func (s *stubServer) ResetPin(context.Context, *api.ResetPinRequest) (*api.ForgotPinResponse, error) {
	return nil, api.ErrorStatus(codes.Unimplemented, "not used")
}

func (s *stubServer) Push(context.Context, *api.PushRequest) (*api.Empty, error) {
	return &api.Empty{}, nil
}

func (s *stubServer) Pull(_ context.Context, in *api.PullRequest) (*api.PullResponse, error) {
	if in.Resource == model.ResourceFacilities && in.ProcessToken == nil {
		b, _ := json.Marshal([]model.Facility{s.facility})
		return &api.PullResponse{Records: b, ProcessToken: "1"}, nil
	}
	tok := ""
	if in.ProcessToken != nil {
		tok = *in.ProcessToken
	}
	return &api.PullResponse{Records: []byte("[]"), ProcessToken: tok}, nil
}

func dialer(t *testing.T, srv api.ClinicSyncServer) app.Option {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	api.RegisterClinicSyncServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return app.WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
}

func run(t *testing.T, stdin string, args []string, opts ...app.Option) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := newCLI(strings.NewReader(stdin), &out, &errOut, opts...)
	root := c.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err != nil {
		_ = c.close()
	}
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, _, err := run(t, "", []string{"version"})
	require.NoError(t, err)
	if !strings.HasPrefix(out, "clinicsync "+version) {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := newCLI(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}).rootCmd()
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, want := range []string{"version", "login", "register", "sync", "refresh", "verify-pin", "reset-pin", "logout", "status", "switch-facility", "daemon"} {
		require.Contains(t, got, want)
	}
}

func TestLogin_RequiresFlags(t *testing.T) {
	t.Parallel()

	_, _, err := run(t, "", []string{"login", "--plaintext", "--addr", "passthrough:///x", "--data-dir", t.TempDir()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "phone")
}

func TestStatus_NoUser(t *testing.T) {
	t.Parallel()

	out, _, err := run(t, "", []string{"status", "--plaintext", "--addr", "passthrough:///x", "--data-dir", t.TempDir()})
	require.NoError(t, err)

	var view statusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	if view.User != nil {
		t.Fatalf("want no user, got %+v", view.User)
	}
	require.False(t, view.CanSync)
	require.Len(t, view.Records, 7)
	for r, n := range view.Records {
		if n.Total != 0 || n.Pending != 0 {
			t.Fatalf("%s: want empty store, got %+v", r, n)
		}
	}
}

func TestSync_WithoutUser(t *testing.T) {
	t.Parallel()

	_, _, err := run(t, "", []string{"sync", "--plaintext", "--addr", "passthrough:///x", "--data-dir", t.TempDir()})
	require.ErrorIs(t, err, errs.ErrNotLoggedIn)
	require.Contains(t, describe(err), "clinicsync login")
}

func TestLoginThenStatus(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	fac := model.Facility{Meta: model.Meta{ID: uuid.Must(uuid.NewV4()), CreatedAt: now, UpdatedAt: now}, Name: "CHC Nabha"}
	srv := &stubServer{
		facility: fac,
		user: api.LoggedInUserPayload{
			ID:          uuid.Must(uuid.NewV4()),
			FullName:    "Ravi Kumar",
			PhoneNumber: "9988776655",
			PinDigest:   "$2a$10$abcdefghijklmnopqrstuu",
			FacilityIDs: []uuid.UUID{fac.ID},
			Status:      model.ApprovedForSyncing,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	opts := []app.Option{
		dialer(t, srv),
		app.WithSessionOptions(session.WithExecutor(func(fn func()) { fn() })),
	}
	flags := []string{"--plaintext", "--addr", "passthrough:///bufnet", "--data-dir", t.TempDir()}

	out, errOut, err := run(t, "123456\n", append([]string{"login", "--phone", "9988776655", "--pin", "1234"}, flags...), opts...)
	require.NoError(t, err)
	require.Contains(t, out, "logged in as Ravi Kumar")
	require.Contains(t, errOut, "Code: ")
	require.Contains(t, errOut, "login code was sent")

	out, _, err = run(t, "", append([]string{"status"}, flags...), opts...)
	require.NoError(t, err)
	var view statusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.NotNil(t, view.User)
	require.Equal(t, srv.user.ID, view.User.ID)
	require.Equal(t, []uuid.UUID{fac.ID}, view.User.FacilityIDs)
	require.Equal(t, model.LoggedIn, view.LoggedIn)
	require.True(t, view.CanSync)
	require.Equal(t, 1, view.Records[model.ResourceFacilities].Total)
	require.NotNil(t, view.CurrentFacility)
	require.Equal(t, fac.ID, *view.CurrentFacility)

	_, _, err = run(t, "", append([]string{"switch-facility", uuid.Must(uuid.NewV4()).String()}, flags...), opts...)
	require.ErrorContains(t, err, "not assigned")
}

func TestLogin_WrongCode(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	fac := model.Facility{Meta: model.Meta{ID: uuid.Must(uuid.NewV4()), CreatedAt: now, UpdatedAt: now}, Name: "PHC Ropar"}
	srv := &stubServer{facility: fac, user: api.LoggedInUserPayload{
		ID: uuid.Must(uuid.NewV4()), FullName: "Meena", PhoneNumber: "9000000000",
		FacilityIDs: []uuid.UUID{fac.ID}, Status: model.ApprovedForSyncing, CreatedAt: now, UpdatedAt: now,
	}}

	_, _, err := run(t, "", []string{
		"login", "--phone", "9000000000", "--pin", "1234", "--otp", "000000",
		"--plaintext", "--addr", "passthrough:///bufnet", "--data-dir", t.TempDir(),
	}, dialer(t, srv), app.WithSessionOptions(session.WithExecutor(func(fn func()) { fn() })))
	require.Error(t, err)
	require.Equal(t, "Incorrect OTP", describe(err))
}
