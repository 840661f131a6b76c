package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-client/token/jwt"
	"golang.org/x/oauth2"
)

const bearerType = "Bearer"

// Session is the single in-process source of truth for the current bearer
// credentials. It is handed to the HTTP transport at construction time and
// every read of the Authorization header goes through it.
//
// Writes go through to the Store. A failed store write is returned to the
// caller but the in-memory view is still updated, so the running process stays
// consistent with what the backend issued.
type Session struct {
	store Store

	mu     sync.RWMutex
	pair   Pair
	header string
}

// NewSession loads any persisted tokens from store.
func NewSession(store Store) (*Session, error) {
	pair, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("[NewSession] load tokens: %w", err)
	}
	s := &Session{store: store}
	s.apply(pair)
	return s, nil
}

func (s *Session) Get(kind Kind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Get(kind)
}

// Pair returns a snapshot of both tokens.
func (s *Session) Pair() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *Session) Set(kind Kind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.pair.With(kind, value)
	s.apply(next)
	return s.persist(next)
}

// SetPair replaces both tokens at once. An empty RefreshToken keeps the current
// one, which is what a non-rotating refresh response looks like.
func (s *Session) SetPair(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pair.RefreshToken == "" {
		pair.RefreshToken = s.pair.RefreshToken
	}
	s.apply(pair)
	return s.persist(pair)
}

// Rotate replaces the pair only while the session still holds expectedRefresh
// as its refresh token, and reports whether the swap happened. An empty
// RefreshToken in pair keeps expectedRefresh.
func (s *Session) Rotate(expectedRefresh string, pair Pair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expectedRefresh == "" || s.pair.RefreshToken != expectedRefresh {
		return false, nil
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = expectedRefresh
	}
	s.apply(pair)
	return true, s.persist(pair)
}

// Clear removes both tokens and the derived Authorization header.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(Pair{})
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("[Session Clear] %w", err)
	}
	return nil
}

// Authorization returns the default Authorization header value together with
// the access token it was built from. Both are empty when no token is held.
func (s *Session) Authorization() (header, accessToken string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header, s.pair.AccessToken
}

// Token exposes the current credentials as an oauth2 token. Expiry is zero when
// the access token carries no decodable exp claim.
func (s *Session) Token() *oauth2.Token {
	pair := s.Pair()
	tok := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    bearerType,
	}
	if pair.AccessToken != "" {
		if exp, err := jwt.DecodeExpiry(pair.AccessToken); err == nil {
			tok.Expiry = exp
		}
	}
	return tok
}

// ErrNoAccessToken is returned by the TokenSource when the session is empty.
var ErrNoAccessToken = errors.New("no access token in session")

// TokenSource returns an oauth2.TokenSource that always reports the session's
// current access token. It never refreshes on its own.
func (s *Session) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{s}
}

type sessionTokenSource struct {
	s *Session
}

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	tok := ts.s.Token()
	if tok.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return tok, nil
}

// apply must be called with mu held.
func (s *Session) apply(pair Pair) {
	s.pair = pair
	if pair.AccessToken == "" {
		s.header = ""
		return
	}
	s.header = bearerType + " " + pair.AccessToken
}

func (s *Session) persist(pair Pair) error {
	if err := s.store.Save(pair); err != nil {
		return fmt.Errorf("[Session persist] %w", err)
	}
	return nil
}
