package authmodel

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRefreshToken is returned when a refresh is attempted without a refresh token. Terminal.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshRejected is returned when the backend refuses the refresh token. Terminal.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrNetwork marks a transport failure while talking to the backend.
	ErrNetwork = errors.New("network error")
	// ErrInvalidInput is returned when credentials fail client-side validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized matches any RequestError carrying a 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// RequestError is any non-2xx response surfaced to the caller.
type RequestError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
}

func (e *RequestError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 response.
func (e *RequestError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// StatusCode extracts the HTTP status from err, or 0 if err carries none.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
