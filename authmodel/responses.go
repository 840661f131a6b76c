package authmodel

import (
	"encoding/json"
	"strings"
)

// TokenResponse is returned by the login and refresh endpoints.
type TokenResponse struct {
	// AccessToken is the short-lived bearer JWT.
	AccessToken string `json:"access_token"`

	// RefreshToken is always present on login. On refresh it is only present
	// when the backend rotates refresh tokens.
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RegisterResponse covers both deployment variants: one returns just the new
// user (or only its id), the other also returns tokens.
type RegisterResponse struct {
	ID           string `json:"id"`
	Username     string `json:"username,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ErrorResponse is the error body shape the backend uses.
type ErrorResponse struct {
	Error            string            `json:"error,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Errors           []json.RawMessage `json:"errors,omitempty"`
}

// Message picks the most useful human-readable text out of the error body.
func (r ErrorResponse) Message() string {
	if r.Error != "" {
		return r.Error
	}
	if msgs := r.errorMessages(); len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	return r.ErrorDescription
}

// errorMessages flattens errors[], whose items are either plain strings or
// validation objects carrying msg/message.
func (r ErrorResponse) errorMessages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, raw := range r.Errors {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				msgs = append(msgs, s)
			}
			continue
		}
		var obj struct {
			Msg     string `json:"msg"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		switch {
		case obj.Msg != "":
			msgs = append(msgs, obj.Msg)
		case obj.Message != "":
			msgs = append(msgs, obj.Message)
		}
	}
	return msgs
}
