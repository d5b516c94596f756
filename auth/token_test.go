package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	require := require.New(t)
	j := NewJWT("test-secret")

	token, err := j.Issue("alice", time.Minute)
	require.NoError(err)

	claims, err := j.Verify(token)
	require.NoError(err)
	require.Equal("alice", claims.Subject)
	require.WithinDuration(time.Now().Add(time.Minute), claims.ExpiresAt, 5*time.Second)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	require := require.New(t)

	token, err := NewJWT("secret-a").Issue("alice", time.Minute)
	require.NoError(err)

	_, err = NewJWT("secret-b").Verify(token)
	require.ErrorIs(err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	require := require.New(t)
	j := NewJWT("test-secret")

	token, err := j.Issue("alice", -time.Minute)
	require.NoError(err)

	_, err = j.Verify(token)
	require.ErrorIs(err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	require := require.New(t)
	j := NewJWT("test-secret")

	_, err := j.Verify("not.a.token")
	require.ErrorIs(err, ErrInvalidToken)

	_, err = j.Verify("")
	require.ErrorIs(err, ErrInvalidToken)
}
