// Package authapi speaks the backend's /api/auth contract.
package authapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/authmodel"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/users"
)

const (
	RouteLogin    = "/api/auth/login"
	RouteRegister = "/api/auth/register"
	RouteMe       = "/api/auth/me"
	RouteRefresh  = "/api/auth/refresh"
	RouteLogout   = "/api/auth/logout"
)

// RefreshMode selects how the refresh token travels to RouteRefresh.
type RefreshMode string

const (
	// RefreshModeHeader sends "Authorization: Bearer <refresh_token>" with an
	// empty JSON body. This is the canonical contract.
	RefreshModeHeader RefreshMode = "header"
	// RefreshModeBody sends {"refresh_token": ...} for backends that expect it.
	RefreshModeBody RefreshMode = "body"
)

func ParseRefreshMode(s string) (RefreshMode, error) {
	switch RefreshMode(s) {
	case "", RefreshModeHeader:
		return RefreshModeHeader, nil
	case RefreshModeBody:
		return RefreshModeBody, nil
	default:
		return "", fmt.Errorf("unknown refresh mode %q", s)
	}
}

// Client calls the auth endpoints. public carries no session credentials and
// is used for login, register, refresh and logout; authed goes through the
// refreshing transport and is used for /me.
type Client struct {
	public      *apiclient.Client
	authed      *apiclient.Client
	refreshMode RefreshMode
}

var _ refresh.Exchanger = (*Client)(nil)

func New(public *apiclient.Client, mode RefreshMode) *Client {
	if mode == "" {
		mode = RefreshModeHeader
	}
	return &Client{public: public, authed: public, refreshMode: mode}
}

// SetAuthenticated sets the session-aware client used by Me.
func (c *Client) SetAuthenticated(authed *apiclient.Client) {
	c.authed = authed
}

func (c *Client) Login(ctx context.Context, username, password string) (*authmodel.TokenResponse, error) {
	var resp authmodel.TokenResponse
	err := c.public.Post(ctx, RouteLogin, authmodel.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[authapi Login]")
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, errors.New("[authapi Login] login response is missing tokens")
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req authmodel.RegisterRequest) (*authmodel.RegisterResponse, error) {
	var resp authmodel.RegisterResponse
	if err := c.public.Post(ctx, RouteRegister, req, &resp); err != nil {
		return nil, apperrors.Wrapf(err, "[authapi Register]")
	}
	return &resp, nil
}

// Me fetches the current user with the session's credentials.
func (c *Client) Me(ctx context.Context) (*users.User, error) {
	return c.me(ctx, c.authed, nil)
}

// MeWithToken fetches the user an explicit access token belongs to, bypassing
// the session.
func (c *Client) MeWithToken(ctx context.Context, accessToken string) (*users.User, error) {
	return c.me(ctx, c.public, bearer(accessToken))
}

func (c *Client) me(ctx context.Context, api *apiclient.Client, header http.Header) (*users.User, error) {
	var u users.User
	if err := api.DoWithHeader(ctx, http.MethodGet, RouteMe, header, nil, &u); err != nil {
		return nil, apperrors.Wrapf(err, "[authapi Me]")
	}
	u.Role = users.ParseRole(string(u.Role))
	return &u, nil
}

// Refresh implements refresh.Exchanger.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*authmodel.TokenResponse, error) {
	var (
		resp   authmodel.TokenResponse
		header http.Header
		body   any = struct{}{}
	)
	if c.refreshMode == RefreshModeBody {
		body = authmodel.RefreshRequest{RefreshToken: refreshToken}
	} else {
		header = bearer(refreshToken)
	}

	err := c.public.DoWithHeader(ctx, http.MethodPost, RouteRefresh, header, body, &resp)
	var reqErr *authmodel.RequestError
	switch {
	case err == nil:
		return &resp, nil
	case errors.As(err, &reqErr) && reqErr.StatusCode >= 400 && reqErr.StatusCode < 500:
		return nil, apperrors.Mark(err, authmodel.ErrRefreshRejected)
	case errors.Is(err, authmodel.ErrNetwork), apperrors.IsContextDone(err):
		return nil, err
	default:
		// 5xx and undecodable bodies: the backend could not mint a token.
		return nil, apperrors.Mark(err, authmodel.ErrRefreshRejected)
	}
}

// Logout notifies the backend. The caller ignores failures; local state is
// cleared regardless.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var header http.Header
	if accessToken != "" {
		header = bearer(accessToken)
	}
	err := c.public.DoWithHeader(ctx, http.MethodPost, RouteLogout, header, authmodel.LogoutRequest{RefreshToken: refreshToken}, nil)
	return apperrors.Wrapf(err, "[authapi Logout]")
}

func bearer(tok string) http.Header {
	return http.Header{apiclient.HeaderAuthorization: []string{"Bearer " + tok}}
}
