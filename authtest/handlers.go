package authtest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/jrsteele09/go-auth-client/users"
)

const contentTypeJSON = "application/json"

// meResponse is the body of GET /api/auth/me.
type meResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// validationItem is one entry of a 422 errors[] body.
type validationItem struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func (b *Backend) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := authmodel.Validate(req); err != nil {
			writeValidation(w, err)
			return
		}

		account, err := b.users.GetByUsername(req.Username)
		if err != nil || !users.CheckPasswordHash(req.Password, account.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		b.mu.Lock()
		pair, err := b.issuer.issuePair(account, b.issuer.accessTTL)
		b.mu.Unlock()
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to issue tokens")
			writeError(w, http.StatusInternalServerError, "Failed to issue tokens")
			return
		}
		writeJSON(w, http.StatusOK, authmodel.TokenResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		})
	}
}

func (b *Backend) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := authmodel.Validate(req); err != nil {
			if fieldErrs := authmodel.FieldErrors(err); len(fieldErrs) == 1 && fieldErrs[0].Tag == "min" {
				writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
				return
			}
			writeValidation(w, err)
			return
		}

		created, err := b.AddUser(req.Username, req.Email, req.Password, users.RoleUser)
		if errors.Is(err, users.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "Username already exists")
			return
		}
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to create user")
			writeError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}
		writeJSON(w, http.StatusCreated, authmodel.RegisterResponse{
			ID:       created.ID,
			Username: created.Username,
			Email:    created.Email,
			Role:     string(created.Role),
		})
	}
}

func (b *Backend) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := b.users.GetByID(userIDFromContext(r.Context()))
		if err != nil {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeJSON(w, http.StatusOK, meResponse{
			ID:        account.ID,
			Username:  account.Username,
			Email:     account.Email,
			Role:      string(account.Role),
			CreatedAt: account.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

// RefreshHandler accepts the refresh token as a bearer header or, failing
// that, as {"refresh_token": ...} in the body.
func (b *Backend) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := bearerToken(r)
		if !ok {
			var req authmodel.RefreshRequest
			if !decodeBody(w, r, &req) {
				return
			}
			presented = req.RefreshToken
		}
		if presented == "" {
			writeError(w, http.StatusUnauthorized, "Missing refresh token")
			return
		}

		if b.gate != nil {
			if b.entered != nil {
				b.entered <- struct{}{}
			}
			select {
			case <-b.gate:
			case <-r.Context().Done():
				return
			}
		}

		b.mu.Lock()
		resp, err := b.refresh(presented)
		b.mu.Unlock()
		if errors.Is(err, errInvalidRefreshToken) || errors.Is(err, errRefreshExpired) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to refresh tokens")
			writeError(w, http.StatusInternalServerError, "Failed to refresh token")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// refresh runs under b.mu.
func (b *Backend) refresh(presented string) (*authmodel.TokenResponse, error) {
	rt, err := b.issuer.lookupRefresh(presented)
	if err != nil {
		return nil, err
	}
	account, err := b.users.GetByID(rt.UserID)
	if err != nil {
		return nil, errInvalidRefreshToken
	}
	access, err := b.issuer.createAccessToken(account, b.issuer.accessTTL)
	if err != nil {
		return nil, err
	}
	resp := &authmodel.TokenResponse{AccessToken: access}
	if b.rotate {
		b.issuer.revoke(presented)
		if resp.RefreshToken, err = b.issuer.createRefreshToken(account.ID); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// LogoutHandler revokes the bearer access token and the refresh token in the
// body, if present. It always succeeds.
func (b *Backend) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.LogoutRequest
		_ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
		access, hasAccess := bearerToken(r)

		b.mu.Lock()
		if req.RefreshToken != "" {
			b.issuer.revoke(req.RefreshToken)
		}
		if hasAccess {
			b.issuer.revokeAccess(access)
		}
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	}
}

func (b *Backend) ItemsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"owner": userIDFromContext(r.Context()),
			"items": []string{"alpha", "beta", "gamma"},
		})
	}
}

func (b *Backend) BoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, authmodel.ErrorResponse{Error: message})
}

func writeValidation(w http.ResponseWriter, err error) {
	fieldErrs := authmodel.FieldErrors(err)
	items := make([]validationItem, len(fieldErrs))
	for i, fe := range fieldErrs {
		items[i] = validationItem{Loc: []string{fe.Field}, Msg: fe.Message, Type: fe.Tag}
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": items})
}
