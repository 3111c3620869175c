package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestWithUserID_And_UserIDFromCtx(t *testing.T) {
	t.Parallel()

	if id, ok := UserIDFromCtx(context.Background()); ok || id != uuid.Nil {
		t.Fatalf("expected no user id in empty ctx")
	}

	want := uuid.Must(uuid.NewV4())
	ctx := WithUserID(context.Background(), want)

	got, ok := UserIDFromCtx(ctx)
	if !ok {
		t.Fatalf("expected user id in ctx")
	}
	if got != want {
		t.Fatalf("mismatch: got %s, want %s", got, want)
	}

	bad := context.WithValue(context.Background(), userIDKey, "not-uuid")
	if id, ok := UserIDFromCtx(bad); ok || id != uuid.Nil {
		t.Fatalf("expected miss on wrong typed value")
	}
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func TestAuthenticator_Valid(t *testing.T) {
	t.Parallel()

	a := Authenticator{SignKey: []byte("secret")}
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, a.SignKey, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)

	id, err := a.UserID(j)
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if id.String() != sub {
		t.Fatalf("uuid mismatch: %s vs %s", id, sub)
	}
}

func TestAuthenticator_Rejects(t *testing.T) {
	t.Parallel()

	a := Authenticator{SignKey: []byte("secret")}
	sub := uuid.Must(uuid.NewV4()).String()
	now := time.Now().UTC()

	cases := map[string]string{
		"expired":     makeJWT(t, sub, a.SignKey, jwt.SigningMethodHS256, now.Add(-2*time.Hour), time.Hour),
		"wrong key":   makeJWT(t, sub, []byte("other"), jwt.SigningMethodHS256, now, time.Hour),
		"wrong alg":   makeJWT(t, sub, a.SignKey, jwt.SigningMethodHS512, now, time.Hour),
		"bad subject": makeJWT(t, "not-a-uuid", a.SignKey, jwt.SigningMethodHS256, now, time.Hour),
		"garbage":     "abc.def.ghi",
	}
	for name, tok := range cases {
		if _, err := a.UserID(tok); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}

func TestAuthenticator_Leeway(t *testing.T) {
	t.Parallel()

	a := Authenticator{SignKey: []byte("secret"), Leeway: time.Minute}
	j := makeJWT(t, uuid.Must(uuid.NewV4()).String(), a.SignKey, jwt.SigningMethodHS256,
		time.Now().UTC().Add(-time.Hour-10*time.Second), time.Hour)
	if _, err := a.UserID(j); err != nil {
		t.Fatalf("want token within leeway accepted: %v", err)
	}
}
