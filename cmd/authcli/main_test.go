package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-client/authtest"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *authtest.Backend {
	t.Helper()
	backend, url := authtest.NewServer(t, authtest.WithLogger(zerolog.Nop()))
	_, err := backend.AddUser("alice", "alice@example.com", "secret1", users.RoleUser)
	require.NoError(t, err)

	t.Setenv("ENV", "TEST")
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("API_BASE_URL", url)
	t.Setenv("TOKEN_FILE", filepath.Join(t.TempDir(), "tokens.json"))
	return backend
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLI_LoginWhoamiLogout(t *testing.T) {
	backend := setup(t)

	code, out, errOut := runCLI(t, "login", "-u", "alice", "-p", "secret1")
	require.Zero(t, code, errOut)
	var u users.User
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	require.Equal(t, "alice", u.Username)

	// A fresh process restores the session from the token file.
	code, out, errOut = runCLI(t, "whoami")
	require.Zero(t, code, errOut)
	require.Contains(t, out, `"alice"`)

	code, out, errOut = runCLI(t, "get", authtest.RouteItems)
	require.Zero(t, code, errOut)
	require.NotEmpty(t, out)

	code, _, errOut = runCLI(t, "logout")
	require.Zero(t, code, errOut)
	require.Zero(t, backend.ActiveRefreshTokens())

	code, _, errOut = runCLI(t, "whoami")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "not logged in")
}

func TestCLI_LoginFailure(t *testing.T) {
	setup(t)
	code, _, errOut := runCLI(t, "login", "-u", "alice", "-p", "wrong1")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Invalid credentials")
}

func TestCLI_Register(t *testing.T) {
	setup(t)
	code, out, errOut := runCLI(t, "register", "-u", "bob", "-e", "bob@example.com", "-p", "secret2")
	require.Zero(t, code, errOut)
	require.Contains(t, out, "bob")

	// Registering never logs in.
	code, _, _ = runCLI(t, "whoami")
	require.Equal(t, 1, code)
}

func TestCLI_Usage(t *testing.T) {
	setup(t)
	code, out, _ := runCLI(t, "help")
	require.Zero(t, code)
	require.Contains(t, out, "usage: authcli")

	code, _, errOut := runCLI(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, `unknown command "frobnicate"`)

	code, _, _ = runCLI(t, "get")
	require.Equal(t, 2, code)

	code, _, _ = runCLI(t, "login", "-x")
	require.Equal(t, 2, code)
}
