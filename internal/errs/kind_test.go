package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_Wrapped(t *testing.T) {
	t.Parallel()

	base := Network(errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("push patients: %w", base)

	require.Equal(t, KindNetwork, KindOf(wrapped))
	require.Equal(t, KindUnexpected, KindOf(errors.New("plain")))
	require.Equal(t, KindServer, KindOf(Server("Incorrect OTP")))
	require.Equal(t, "Incorrect OTP", MessageOf(fmt.Errorf("login: %w", Server("Incorrect OTP"))))
}

func TestError_UnwrapAndString(t *testing.T) {
	t.Parallel()

	e := Auth("user not found", ErrUserNotFound)
	require.ErrorIs(t, e, ErrUserNotFound)
	require.Equal(t, "auth: user not found: user not found", e.Error())
	require.Equal(t, "server: boom", Server("boom").Error())
	require.Equal(t, "unexpected", (&Error{}).Error())
}

func TestHasKind_SearchesJoinedTree(t *testing.T) {
	t.Parallel()

	server := fmt.Errorf("push patients: %w", Server("rejected"))
	network := fmt.Errorf("pull patients: %w", Network(errors.New("reset by peer")))
	joined := errors.Join(server, errors.Join(errors.New("plain"), network))

	require.Equal(t, KindServer, KindOf(joined))
	require.True(t, HasKind(joined, KindNetwork))
	require.True(t, HasKind(joined, KindServer))
	require.False(t, HasKind(joined, KindAuth))
	require.False(t, HasKind(nil, KindNetwork))
	require.True(t, HasKind(&Error{Kind: KindServer, Err: Network(errors.New("eof"))}, KindNetwork))
}
