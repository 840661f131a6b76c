// Command authcli drives a session provider from the shell. Tokens persist in
// a file, or in Redis when REDIS_ADDR is set, so a login survives between
// invocations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := config.New()
	logging.Init(c.GetEnv(), c.GetLogLevel())

	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stdout, c.GetAppName())
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr, c.GetAppName())
		return 2
	}

	store, closeStore := newStore(c)
	defer closeStore()
	provider, err := newProvider(c, store)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer provider.Close()

	out, err := cmd.run(ctx, provider, args[1:], stderr)
	switch {
	case errors.Is(err, errUsage):
		return 2
	case err != nil:
		fmt.Fprintln(stderr, err)
		return 1
	}
	if out != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	return 0
}

func newStore(c config.Config) (token.Store, func()) {
	if addr := c.GetRedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		log.Debug().Str("addr", addr).Msg("using redis token store")
		return redisstore.New(client, redisstore.WithKey(c.GetRedisKey())), func() { _ = client.Close() }
	}
	log.Debug().Str("path", c.GetTokenFile()).Msg("using file token store")
	return token.NewFileStore(c.GetTokenFile()), func() {}
}

func newProvider(c config.Config, store token.Store) (*sessions.Provider, error) {
	mode, err := authapi.ParseRefreshMode(c.GetRefreshMode())
	if err != nil {
		return nil, err
	}
	return sessions.New(c.GetAPIBaseURL(),
		sessions.WithStore(store),
		sessions.WithRefreshMode(mode),
		sessions.WithSkew(c.GetRefreshSkew()),
		sessions.WithRefreshTimeout(c.GetRefreshTimeout()),
		sessions.WithRequestTimeout(c.GetRequestTimeout()),
		sessions.WithLogger(log.Logger),
	)
}

func usage(w io.Writer, appname string) {
	figure.Write(w, figure.NewFigure(appname, "cybermedium", true))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "usage: authcli <command> [flags]")
	fmt.Fprintln(w)
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
