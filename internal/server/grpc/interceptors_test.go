package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/model"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/clinic.sync.v1.ClinicSync/Method"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestLoggingUnary_FieldsAndLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ic := LoggingUnary(zap.New(core))
	info := &grpc.UnaryServerInfo{FullMethod: api.MethodPull}

	ok := func(context.Context, any) (any, error) { return &api.PullResponse{}, nil }
	_, _ = ic(context.Background(), &api.PullRequest{Resource: model.ResourcePatients, Limit: 50}, info, ok)

	failing := func(context.Context, any) (any, error) { return nil, status.Error(codes.Internal, "db down") }
	_, _ = ic(context.Background(), &api.PushRequest{Resource: model.ResourcePatients, Records: []byte("[]")}, info, failing)

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("want 2 log lines, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel || first["resource"] != string(model.ResourcePatients) || first["limit"] != int64(50) {
		t.Fatalf("unexpected pull log: %v %v", entries[0].Level, first)
	}
	second := entries[1].ContextMap()
	if entries[1].Level != zapcore.ErrorLevel || second["code"] != codes.Internal.String() || second["bytes"] != int64(2) {
		t.Fatalf("unexpected push log: %v %v", entries[1].Level, second)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/clinic.sync.v1.ClinicSync/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/clinic.sync.v1.ClinicSync/Ok"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/clinic.sync.v1.ClinicSync/Sleep"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	a := Authenticator{SignKey: []byte("secret")}
	ic := AuthUnary(a)
	info := &grpc.UnaryServerInfo{FullMethod: "/clinic.sync.v1.ClinicSync/Push"}

	var seen uuid.UUID
	var hasID bool
	h := func(ctx context.Context, req any) (any, error) {
		seen, hasID = UserIDFromCtx(ctx)
		return "ok", nil
	}

	// anonymous calls pass through without identity
	if _, err := ic(context.Background(), "req", info, h); err != nil || hasID {
		t.Fatalf("anonymous: err=%v hasID=%v", err, hasID)
	}

	want := uuid.Must(uuid.NewV4())
	tok := makeJWT(t, want.String(), a.SignKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Minute)
	if _, err := ic(ctxWithAuth(tok), "req", info, h); err != nil || !hasID || seen != want {
		t.Fatalf("valid token: err=%v id=%s", err, seen)
	}

	bad := makeJWT(t, want.String(), []byte("other"), jwt.SigningMethodHS256, time.Now().UTC(), time.Minute)
	_, err := ic(ctxWithAuth(bad), "req", info, h)
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated on bad token, got %v", err)
	}
}
