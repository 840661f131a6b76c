package sessions

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StateListener observes every state change. It runs outside the provider's
// lock and may call back into the provider.
type StateListener func(State, *users.User)

type options struct {
	store          token.Store
	base           http.RoundTripper
	requestTimeout time.Duration
	refreshTimeout time.Duration
	refreshMode    authapi.RefreshMode
	clock          clockwork.Clock
	skew           time.Duration
	registerer     prometheus.Registerer
	logger         zerolog.Logger
	listeners      []StateListener
}

func defaultOptions() options {
	return options{
		store:          token.NewMemoryStore(),
		requestTimeout: apiclient.DefaultTimeout,
		refreshTimeout: refresh.DefaultTimeout,
		refreshMode:    authapi.RefreshModeHeader,
		clock:          clockwork.NewRealClock(),
		skew:           refresh.DefaultSkew,
		logger:         log.Logger,
	}
}

type Option func(*options)

// WithStore persists tokens in store. The default keeps them in memory only.
func WithStore(store token.Store) Option {
	return func(o *options) {
		if store != nil {
			o.store = store
		}
	}
}

// WithBaseTransport sets the transport under the bearer/refresh layer.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.base = rt
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

func WithRefreshMode(mode authapi.RefreshMode) Option {
	return func(o *options) {
		if mode != "" {
			o.refreshMode = mode
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSkew sets how long before expiry the proactive refresh fires.
func WithSkew(skew time.Duration) Option {
	return func(o *options) {
		if skew >= 0 {
			o.skew = skew
		}
	}
}

// WithMetrics registers the session counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithStateListener(l StateListener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}
