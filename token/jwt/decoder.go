package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrDecode is returned when a token cannot be read. Callers treat it as
// "cannot schedule a proactive refresh", never as a session failure.
var ErrDecode = errors.New("cannot decode token")

var parser = jwtlib.NewParser()

// Claims reads a token's claims without verifying its signature. The client
// never holds the signing key; it only needs the claims for scheduling.
func Claims(token string) (jwtlib.MapClaims, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return claims, nil
}

// DecodeExpiry returns the instant carried by the token's exp claim.
func DecodeExpiry(token string) (time.Time, error) {
	claims, err := Claims(token)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrDecode)
	}
	return exp.Time, nil
}
