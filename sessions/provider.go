// Package sessions ties the token session, the refresh routine and the HTTP
// client core into one authentication context for an application.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authmodel"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type State int

const (
	// StateLoading is the initial state until Start resolves the stored session.
	StateLoading State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Provider is the authentication context. A user is only ever present while
// an access token is held.
type Provider struct {
	session   *token.Session
	refresher *refresh.Manager
	api       *authapi.Client
	client    *apiclient.Client
	logger    zerolog.Logger
	metrics   *metrics.Collector
	listeners []StateListener

	mu    sync.Mutex
	state State
	user  *users.User
	// epoch changes whenever the session is replaced or ended, so work that
	// started under an older session cannot commit over a newer one.
	epoch uint64
}

// New builds a provider for the backend at baseURL. Stored tokens are loaded
// now but not acted on until Start.
func New(baseURL string, opts ...Option) (*Provider, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	session, err := token.NewSession(o.store)
	if err != nil {
		return nil, fmt.Errorf("[sessions New] %w", err)
	}
	collector, err := metrics.New(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("[sessions New] register metrics: %w", err)
	}

	public, err := apiclient.New(baseURL,
		apiclient.WithHTTPClient(&http.Client{Transport: o.base, Timeout: o.requestTimeout}),
		apiclient.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[sessions New] %w", err)
	}

	p := &Provider{
		session:   session,
		api:       authapi.New(public, o.refreshMode),
		logger:    o.logger,
		metrics:   collector,
		listeners: o.listeners,
		state:     StateLoading,
	}
	p.refresher = refresh.NewManager(session, p.api,
		refresh.WithClock(o.clock),
		refresh.WithSkew(o.skew),
		refresh.WithTimeout(o.refreshTimeout),
		refresh.WithLogger(o.logger),
		refresh.WithMetrics(collector),
		refresh.WithFailureHandler(p.expire),
	)

	transport := &apiclient.Transport{
		Base:             o.base,
		Credentials:      session,
		Refresher:        p.refresher,
		OnRefreshFailure: p.expire,
		Logger:           &p.logger,
		Metrics:          collector,
	}
	p.client, err = apiclient.New(baseURL,
		apiclient.WithHTTPClient(&http.Client{Transport: transport, Timeout: o.requestTimeout}),
		apiclient.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[sessions New] %w", err)
	}
	p.api.SetAuthenticated(p.client)
	return p, nil
}

// Start resolves the stored session. With no tokens it goes anonymous without
// a network call. Otherwise it arms the proactive refresh and fetches the
// current user; an expired access token is recovered through the 401 path.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	pair := p.session.Pair()
	if pair.IsEmpty() {
		p.commit(epoch, StateAnonymous, nil)
		return nil
	}
	if pair.AccessToken != "" {
		p.refresher.Schedule(pair.AccessToken)
	}

	u, err := p.api.Me(ctx)
	if err != nil {
		p.logger.Info().Err(err).Msg("stored session could not be restored")
		p.commit(epoch, StateAnonymous, nil)
		return apperrors.Wrapf(err, "[Provider Start]")
	}
	p.commit(epoch, StateAuthenticated, u)
	return nil
}

// Login authenticates, fetches the user with the new access token and only
// then replaces the session. On any failure the previous session is kept.
func (p *Provider) Login(ctx context.Context, username, password string) (*users.User, error) {
	req := authmodel.LoginRequest{Username: username, Password: password}
	if err := authmodel.Validate(req); err != nil {
		return nil, err
	}

	tokens, err := p.api.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Provider Login]")
	}
	u, err := p.api.MeWithToken(ctx, tokens.AccessToken)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Provider Login]")
	}

	p.mu.Lock()
	p.epoch++
	if err := p.refresher.Establish(token.Pair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}); err != nil {
		p.logger.Warn().Err(err).Msg("tokens could not be persisted, session kept in memory")
	}
	p.user = u
	p.state = StateAuthenticated
	p.mu.Unlock()

	p.logger.Info().Str("user", u.Username).Msg("logged in")
	p.notify(StateAuthenticated, u)
	return copyUser(u), nil
}

// Register creates an account. It never logs in; call Login afterwards.
func (p *Provider) Register(ctx context.Context, username, email, password string) (*authmodel.RegisterResponse, error) {
	req := authmodel.RegisterRequest{Username: username, Email: email, Password: password}
	if err := authmodel.Validate(req); err != nil {
		return nil, err
	}
	resp, err := p.api.Register(ctx, req)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Provider Register]")
	}
	return resp, nil
}

// Logout ends the session locally, then tells the backend on a best-effort
// basis. Calling it again is a no-op.
func (p *Provider) Logout(ctx context.Context) {
	pair, ended := p.end(nil)
	if !ended {
		return
	}
	p.metrics.ObserveLogout(metrics.ReasonUser)
	p.logger.Info().Msg("logged out")
	p.notify(StateAnonymous, nil)

	if pair.IsEmpty() {
		return
	}
	if err := p.api.Logout(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		p.logger.Debug().Err(err).Msg("backend logout failed, ignored")
	}
}

// expire is the single exit for terminal refresh failures from either the
// scheduler or the 401 path.
func (p *Provider) expire(err error) {
	if _, ended := p.end(err); !ended {
		return
	}
	p.metrics.ObserveLogout(metrics.ReasonRefreshFailed)
	p.logger.Warn().Err(err).Msg("session expired")
	p.notify(StateAnonymous, nil)
}

// end clears tokens, timer and user. It reports the pair that was held and
// whether there was anything to end. A refresh failure in cause that was made
// with another refresh token than the one held ends nothing.
func (p *Provider) end(cause error) (token.Pair, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pair := p.session.Pair()
	var refreshErr *refresh.Error
	if errors.As(cause, &refreshErr) && !refreshErr.Attempted(pair.RefreshToken) {
		return pair, false
	}
	ended := !pair.IsEmpty() || p.user != nil || p.state == StateAuthenticated
	p.epoch++
	if err := p.refresher.Terminate(); err != nil {
		p.logger.Warn().Err(err).Msg("stored tokens could not be cleared")
	}
	p.user = nil
	changed := p.state != StateAnonymous
	p.state = StateAnonymous
	return pair, ended || changed
}

// commit applies a state resolved by Start unless the session moved on.
func (p *Provider) commit(epoch uint64, state State, u *users.User) {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	if state == StateAuthenticated && p.session.Get(token.Access) == "" {
		state, u = StateAnonymous, nil
	}
	p.state = state
	p.user = u
	p.mu.Unlock()
	p.notify(state, u)
}

func (p *Provider) notify(state State, u *users.User) {
	for _, l := range p.listeners {
		l(state, copyUser(u))
	}
}

// Close stops the proactive refresh. The provider stays usable for requests.
func (p *Provider) Close() {
	p.refresher.Stop()
}

func (p *Provider) User() *users.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyUser(p.user)
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) Loading() bool {
	return p.State() == StateLoading
}

// Client is the authenticated API client for application calls.
func (p *Provider) Client() *apiclient.Client {
	return p.client
}

// Session exposes the token session, mainly for its oauth2.TokenSource.
func (p *Provider) Session() *token.Session {
	return p.session
}

func (p *Provider) TokenSource() oauth2.TokenSource {
	return p.session.TokenSource()
}

func copyUser(u *users.User) *users.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
