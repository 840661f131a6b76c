// Package authtest is an in-memory implementation of the /api/auth backend
// contract. It backs the package tests and cmd/devauthserver.
package authtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	fakeuserrepo "github.com/jrsteele09/go-auth-client/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// RouteItems is a protected resource for exercising authenticated calls.
	RouteItems = "/api/items"
	// RouteBoom always answers 500.
	RouteBoom = "/api/boom"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultSecret     = "dev-secret"
)

type Backend struct {
	env     string
	mux     *http.ServeMux
	routes  []string
	users   users.Repo
	logger  zerolog.Logger
	rotate  bool
	gate    <-chan struct{}
	entered chan<- struct{}

	allowedOrigins config.AllowedOrigins
	allowedMethods string
	allowedHeaders string

	requests *prometheus.CounterVec

	mu       sync.Mutex
	issuer   *issuer
	calls    map[string]int
	failNext map[string][]int
}

type Option func(*Backend)

// WithNow sets the clock used to stamp and verify tokens.
func WithNow(now func() time.Time) Option {
	return func(b *Backend) {
		b.issuer.now = now
	}
}

func WithAccessTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.issuer.accessTTL = ttl
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.issuer.refreshTTL = ttl
	}
}

func WithSecret(secret string) Option {
	return func(b *Backend) {
		b.issuer.secret = []byte(secret)
	}
}

// WithRotation makes the refresh endpoint issue a new refresh token and
// invalidate the one presented.
func WithRotation(rotate bool) Option {
	return func(b *Backend) {
		b.rotate = rotate
	}
}

// WithRefreshGate holds every refresh request until gate yields. entered, if
// not nil, receives once per refresh request before it blocks.
func WithRefreshGate(gate <-chan struct{}, entered chan<- struct{}) Option {
	return func(b *Backend) {
		b.gate = gate
		b.entered = entered
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithEnv enables per-request route logging when env is "DEV".
func WithEnv(env string) Option {
	return func(b *Backend) {
		b.env = env
	}
}

// WithCors enables CORS for the given origins on every route.
func WithCors(cfg config.CorsConfig) Option {
	return func(b *Backend) {
		b.allowedOrigins = cfg.GetAllowedOrigins()
		b.allowedMethods = cfg.GetAllowedMethods()
		b.allowedHeaders = cfg.GetAllowedHeaders()
	}
}

// WithUserRepo replaces the in-memory user store.
func WithUserRepo(repo users.Repo) Option {
	return func(b *Backend) {
		b.users = repo
	}
}

// WithRegisterer registers the backend's request counter.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Backend) {
		if reg != nil {
			reg.MustRegister(b.requests)
		}
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		mux:    http.NewServeMux(),
		users:  fakeuserrepo.NewFakeUserRepo(),
		logger: log.Logger,
		issuer: &issuer{
			secret:     []byte(DefaultSecret),
			accessTTL:  DefaultAccessTTL,
			refreshTTL: DefaultRefreshTTL,
			now:        time.Now,
			refresh:    make(map[string]*refreshToken),
			revoked:    make(map[string]time.Time),
		},
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_backend_requests_total",
			Help: "Requests served by the auth backend, by route and status code.",
		}, []string{"route", "code"}),
		calls:    make(map[string]int),
		failNext: make(map[string][]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.initRoutes()
	b.logRoutes()
	return b
}

// NewServer runs a Backend on an httptest server that is closed when the test
// ends. It returns the backend and the server's base URL.
func NewServer(t testing.TB, opts ...Option) (*Backend, string) {
	t.Helper()
	b := New(opts...)
	ts := httptest.NewServer(b)
	t.Cleanup(ts.Close)
	return b, ts.URL
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

func (b *Backend) registerRoute(method, path string, handler http.HandlerFunc) {
	pattern := method + " " + path
	b.routes = append(b.routes, pattern)
	b.mux.HandleFunc(pattern, ChainMiddleware(handler,
		b.LoggingMiddleware,
		b.CorsMiddleware,
		b.instrument(path),
		b.faults(path),
	))
}

func (b *Backend) logRoutes() {
	if b.env != "DEV" {
		return
	}
	for _, route := range b.routes {
		b.logger.Info().Msgf("route %s", route)
	}
}

// AddUser creates an account directly, bypassing the register endpoint.
func (b *Backend) AddUser(username, email, password string, role users.RoleType) (*users.User, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("[Backend AddUser] %w", err)
	}
	account := &users.Account{
		User: users.User{
			Username: username,
			Email:    email,
			Role:     role,
		},
		PasswordHash: hash,
		CreatedAt:    b.issuer.now(),
	}
	if err := b.users.Create(account); err != nil {
		return nil, fmt.Errorf("[Backend AddUser] %w", err)
	}
	u := account.User
	return &u, nil
}

// IssueTokens mints a pair for userID as if they had logged in. A negative
// accessTTL yields an already expired access token.
func (b *Backend) IssueTokens(userID string, accessTTL time.Duration) (token.Pair, error) {
	account, err := b.users.GetByID(userID)
	if err != nil {
		return token.Pair{}, fmt.Errorf("[Backend IssueTokens] %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issuer.issuePair(account, accessTTL)
}

// Calls reports how many requests reached path, including injected failures.
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// FailNext makes the next request to path answer status with an error body.
// Calls queue up in order.
func (b *Backend) FailNext(path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[path] = append(b.failNext[path], status)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issuer.revokeAll()
}

// ActiveRefreshTokens counts the refresh tokens that would still be accepted.
func (b *Backend) ActiveRefreshTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.issuer.refresh)
}

func (b *Backend) initRoutes() {
	b.registerRoute(http.MethodPost, authapi.RouteLogin, b.LoginHandler())
	b.registerRoute(http.MethodPost, authapi.RouteRegister, b.RegisterHandler())
	b.registerRoute(http.MethodGet, authapi.RouteMe, b.RequireAccessToken(b.MeHandler()))
	b.registerRoute(http.MethodPost, authapi.RouteRefresh, b.RefreshHandler())
	b.registerRoute(http.MethodPost, authapi.RouteLogout, b.LogoutHandler())

	b.registerRoute(http.MethodGet, RouteItems, b.RequireAccessToken(b.ItemsHandler()))
	b.registerRoute(http.MethodGet, RouteBoom, b.BoomHandler())

	// Preflights for every API route.
	b.mux.HandleFunc("OPTIONS /api/", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, b.CorsMiddleware))
}
