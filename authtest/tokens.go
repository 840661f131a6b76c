package authtest

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
)

var (
	errInvalidRefreshToken = errors.New("invalid refresh token")
	errRefreshExpired      = errors.New("refresh token expired")
	errAccessRevoked       = errors.New("access token revoked")
)

type refreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// issuer signs access tokens and keeps the live refresh tokens. Callers hold
// Backend.mu.
type issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	refresh    map[string]*refreshToken
	// revoked maps the jti of logged out access tokens to their expiry.
	revoked map[string]time.Time
}

func (i *issuer) createAccessToken(account *users.Account, ttl time.Duration) (string, error) {
	now := i.now()
	claims := jwtlib.MapClaims{
		"sub":  account.ID,
		"role": string(account.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"jti":  uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("[issuer createAccessToken] failed to sign token: %w", err)
	}
	return signed, nil
}

func (i *issuer) createRefreshToken(userID string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("[issuer createRefreshToken] rand.Read: %w", err)
	}
	tokenStr := hex.EncodeToString(tokenBytes)
	i.refresh[tokenStr] = &refreshToken{
		Token:  tokenStr,
		UserID: userID,
		Iat:    i.now(),
	}
	return tokenStr, nil
}

func (i *issuer) issuePair(account *users.Account, accessTTL time.Duration) (token.Pair, error) {
	access, err := i.createAccessToken(account, accessTTL)
	if err != nil {
		return token.Pair{}, err
	}
	refresh, err := i.createRefreshToken(account.ID)
	if err != nil {
		return token.Pair{}, err
	}
	return token.Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// lookupRefresh returns the user a refresh token belongs to. Expired tokens
// are dropped.
func (i *issuer) lookupRefresh(tokenStr string) (*refreshToken, error) {
	rt, ok := i.refresh[tokenStr]
	if !ok {
		return nil, errInvalidRefreshToken
	}
	if i.now().Sub(rt.Iat) > i.refreshTTL {
		delete(i.refresh, tokenStr)
		return nil, errRefreshExpired
	}
	return rt, nil
}

func (i *issuer) revoke(tokenStr string) {
	delete(i.refresh, tokenStr)
}

func (i *issuer) revokeAll() {
	clear(i.refresh)
}

// verifyAccessToken checks the signature, expiry and revocation and returns
// the subject.
func (i *issuer) verifyAccessToken(raw string) (string, error) {
	claims, err := i.parseAccessToken(raw)
	if err != nil {
		return "", err
	}
	if jti, _ := claims["jti"].(string); jti != "" {
		if _, revoked := i.revoked[jti]; revoked {
			return "", errAccessRevoked
		}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// revokeAccess rejects raw until it expires. Invalid tokens are ignored.
func (i *issuer) revokeAccess(raw string) {
	claims, err := i.parseAccessToken(raw)
	if err != nil {
		return
	}
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if jti == "" || err != nil || exp == nil {
		return
	}
	i.pruneRevoked()
	i.revoked[jti] = exp.Time
}

// pruneRevoked forgets revocations for tokens that have expired anyway.
func (i *issuer) pruneRevoked() {
	now := i.now()
	for jti, exp := range i.revoked {
		if now.After(exp) {
			delete(i.revoked, jti)
		}
	}
}

func (i *issuer) parseAccessToken(raw string) (jwtlib.MapClaims, error) {
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		return i.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(i.now),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
