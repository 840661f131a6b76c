package token_test

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	token.MemoryStore
	err error
}

func (s *failingStore) Save(pair token.Pair) error {
	return s.err
}

func accessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestSession_SetUpdatesHeader(t *testing.T) {
	store := token.NewMemoryStore()
	s, err := token.NewSession(store)
	require.NoError(t, err)

	header, tok := s.Authorization()
	require.Empty(t, header)
	require.Empty(t, tok)

	require.NoError(t, s.Set(token.Access, "abc"))
	header, tok = s.Authorization()
	require.Equal(t, "Bearer abc", header)
	require.Equal(t, "abc", tok)
	require.Equal(t, "abc", s.Get(token.Access))

	require.NoError(t, s.Set(token.Refresh, "r1"))
	stored, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, token.Pair{AccessToken: "abc", RefreshToken: "r1"}, stored)
}

func TestSession_SetPairKeepsRefreshWhenNotRotated(t *testing.T) {
	s, err := token.NewSession(token.NewMemoryStore())
	require.NoError(t, err)

	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a2"}))
	require.Equal(t, token.Pair{AccessToken: "a2", RefreshToken: "r1"}, s.Pair())

	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a3", RefreshToken: "r2"}))
	require.Equal(t, token.Pair{AccessToken: "a3", RefreshToken: "r2"}, s.Pair())
}

func TestSession_ClearRemovesEverything(t *testing.T) {
	store := token.NewMemoryStore()
	require.NoError(t, store.Save(token.Pair{AccessToken: "a", RefreshToken: "r"}))

	s, err := token.NewSession(store)
	require.NoError(t, err)
	header, _ := s.Authorization()
	require.Equal(t, "Bearer a", header)

	require.NoError(t, s.Clear())
	header, tok := s.Authorization()
	require.Empty(t, header)
	require.Empty(t, tok)
	require.Empty(t, s.Get(token.Refresh))

	stored, err := store.Load()
	require.NoError(t, err)
	require.True(t, stored.IsEmpty())

	// second clear is harmless
	require.NoError(t, s.Clear())
}

func TestSession_StoreFailureStillUpdatesMemory(t *testing.T) {
	store := &failingStore{err: errors.New("disk full")}
	s, err := token.NewSession(store)
	require.NoError(t, err)

	err = s.Set(token.Access, "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.Equal(t, "abc", s.Get(token.Access))
}

func TestSession_TokenSource(t *testing.T) {
	s, err := token.NewSession(token.NewMemoryStore())
	require.NoError(t, err)

	_, err = s.TokenSource().Token()
	require.ErrorIs(t, err, token.ErrNoAccessToken)

	exp := time.Unix(1_900_000_000, 0)
	access := accessToken(t, exp)
	require.NoError(t, s.SetPair(token.Pair{AccessToken: access, RefreshToken: "r"}))

	tok, err := s.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, access, tok.AccessToken)
	require.Equal(t, "r", tok.RefreshToken)
	require.Equal(t, "Bearer", tok.Type())
	require.True(t, exp.Equal(tok.Expiry))

	require.NoError(t, s.Set(token.Access, "opaque"))
	tok, err = s.TokenSource().Token()
	require.NoError(t, err)
	require.True(t, tok.Expiry.IsZero())
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "access_token", token.Access.String())
	require.Equal(t, "refresh_token", token.Refresh.String())
}
