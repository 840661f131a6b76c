package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jrsteele09/go-auth-client/sessions"
)

type command struct {
	summary string
	run     func(ctx context.Context, p *sessions.Provider, args []string, stderr io.Writer) (any, error)
}

var commandOrder = []string{"login", "register", "whoami", "get", "logout", "help"}

var commands = map[string]command{
	"login":    {summary: "log in: -u username -p password", run: loginCmd},
	"register": {summary: "create an account: -u username -e email -p password", run: registerCmd},
	"whoami":   {summary: "show the logged in user", run: whoamiCmd},
	"get":      {summary: "GET an API path with the session, e.g. get /api/items", run: getCmd},
	"logout":   {summary: "end the session", run: logoutCmd},
	"help":     {summary: "show this help"},
}

var errNotLoggedIn = errors.New("not logged in")

func loginCmd(ctx context.Context, p *sessions.Provider, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("login", stderr)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	return p.Login(ctx, *username, *password)
}

func registerCmd(ctx context.Context, p *sessions.Provider, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("register", stderr)
	username := fs.String("u", "", "username")
	email := fs.String("e", "", "email")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	return p.Register(ctx, *username, *email, *password)
}

func whoamiCmd(ctx context.Context, p *sessions.Provider, _ []string, _ io.Writer) (any, error) {
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	u := p.User()
	if u == nil {
		return nil, errNotLoggedIn
	}
	return u, nil
}

func getCmd(ctx context.Context, p *sessions.Provider, args []string, stderr io.Writer) (any, error) {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: authcli get <path>")
		return nil, errUsage
	}
	var out any
	if err := p.Client().Get(ctx, args[0], &out); err != nil {
		return nil, err
	}
	return out, nil
}

func logoutCmd(ctx context.Context, p *sessions.Provider, _ []string, _ io.Writer) (any, error) {
	p.Logout(ctx)
	return map[string]string{"status": "logged out"}, nil
}
