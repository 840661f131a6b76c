package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-client/authmodel"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds a single backend refresh call.
	DefaultTimeout = 15 * time.Second

	refreshKey = "refresh"
)

// Exchanger trades a refresh token for a new access token at the backend.
// Implementations classify failures as authmodel.ErrRefreshRejected or
// authmodel.ErrNetwork.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*authmodel.TokenResponse, error)
}

// Manager is the one refresh routine shared by the proactive scheduler and the
// HTTP transport's 401 path. At most one backend refresh call is in flight at
// any time; concurrent triggers wait for and share its result.
type Manager struct {
	session   *token.Session
	exchanger Exchanger
	scheduler *Scheduler
	group     singleflight.Group

	// commit serialises token commits with their scheduling, so a refresh that
	// lands concurrently with Terminate can never leave a timer armed over an
	// empty session.
	commit  sync.Mutex
	stopped bool

	clock     clockwork.Clock
	skew      time.Duration
	timeout   time.Duration
	onFailure func(error)
	logger    zerolog.Logger
	metrics   *metrics.Collector
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithSkew(skew time.Duration) Option {
	return func(m *Manager) {
		if skew >= 0 {
			m.skew = skew
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithFailureHandler sets what happens when a scheduled refresh fails. The
// session layer passes its logout here.
func WithFailureHandler(f func(error)) Option {
	return func(m *Manager) {
		m.onFailure = f
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

func NewManager(session *token.Session, exchanger Exchanger, opts ...Option) *Manager {
	m := &Manager{
		session:   session,
		exchanger: exchanger,
		clock:     clockwork.NewRealClock(),
		skew:      DefaultSkew,
		timeout:   DefaultTimeout,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scheduler = NewScheduler(m.clock, m.skew, m.refreshScheduled)
	return m
}

func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Establish stores a freshly issued pair and arms the proactive refresh.
func (m *Manager) Establish(pair token.Pair) error {
	m.commit.Lock()
	defer m.commit.Unlock()
	err := m.session.SetPair(pair)
	m.schedule(pair.AccessToken)
	return err
}

// Stop cancels the proactive refresh for good. Later refreshes through the 401
// path still work but never arm a timer.
func (m *Manager) Stop() {
	m.commit.Lock()
	defer m.commit.Unlock()
	m.stopped = true
	m.scheduler.Cancel()
}

// Terminate clears the session's tokens and cancels the proactive refresh.
func (m *Manager) Terminate() error {
	m.commit.Lock()
	defer m.commit.Unlock()
	err := m.session.Clear()
	m.scheduler.Cancel()
	return err
}

// Schedule arms the proactive refresh for accessToken. An undecodable token is
// logged and otherwise ignored.
func (m *Manager) Schedule(accessToken string) {
	m.commit.Lock()
	defer m.commit.Unlock()
	m.schedule(accessToken)
}

func (m *Manager) schedule(accessToken string) {
	if m.stopped {
		return
	}
	delay, err := m.scheduler.Schedule(accessToken)
	if err != nil {
		m.logger.Debug().Err(err).Msg("access token has no usable expiry, proactive refresh disabled")
		return
	}
	m.logger.Debug().Dur("in", delay).Msg("proactive token refresh scheduled")
}

// Cancel stops the proactive refresh timer.
func (m *Manager) Cancel() {
	m.scheduler.Cancel()
}

// Refresh exchanges the current refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	return m.do(ctx, metrics.TriggerScheduled)
}

// RefreshStale is the 401 path. stale is the access token the rejected request
// carried; if the session already holds a different one, that newer token is
// returned without calling the backend.
func (m *Manager) RefreshStale(ctx context.Context, stale string) (string, error) {
	if current, ok := m.superseded(stale); ok {
		return current, nil
	}
	access, err := m.do(ctx, metrics.TriggerUnauthorized)
	if !m.joinedReplacedSession(err) {
		return access, err
	}
	// The shared call belonged to a session that has since been replaced; the
	// current one gets its own refresh, once.
	if current, ok := m.superseded(stale); ok {
		return current, nil
	}
	return m.do(ctx, metrics.TriggerUnauthorized)
}

func (m *Manager) superseded(stale string) (string, bool) {
	current := m.session.Get(token.Access)
	if current == "" || current == stale {
		return "", false
	}
	m.metrics.ObserveRefresh(metrics.TriggerUnauthorized, metrics.OutcomeSuperseded)
	return current, true
}

// joinedReplacedSession reports whether err is a refresh that lost its session
// to a newer pair which is still held.
func (m *Manager) joinedReplacedSession(err error) bool {
	var refreshErr *Error
	if !errors.Is(err, errSessionEnded) || !errors.As(err, &refreshErr) {
		return false
	}
	current := m.session.Get(token.Refresh)
	return current != "" && !refreshErr.Attempted(current)
}

func (m *Manager) do(ctx context.Context, trigger string) (string, error) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		// The shared call must outlive whichever caller happened to start it.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		access, err := m.exchange(callCtx)
		if err != nil {
			m.metrics.ObserveRefresh(trigger, metrics.OutcomeFailure)
			return "", err
		}
		m.metrics.ObserveRefresh(trigger, metrics.OutcomeSuccess)
		return access, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

var errSessionEnded = errors.New("session ended while refreshing")

// Error is a failed refresh. It remembers which refresh token was tried so a
// late failure can be told apart from a failure of the current session.
type Error struct {
	Err          error
	refreshToken string
}

func (e *Error) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Attempted reports whether the failed refresh was made with refreshToken.
func (e *Error) Attempted(refreshToken string) bool {
	return e.refreshToken == refreshToken
}

func (m *Manager) exchange(ctx context.Context) (string, error) {
	refreshToken := m.session.Get(token.Refresh)
	if refreshToken == "" {
		return "", &Error{Err: authmodel.ErrNoRefreshToken}
	}
	fail := func(err error) (string, error) {
		return "", &Error{Err: err, refreshToken: refreshToken}
	}

	resp, err := m.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		return fail(err)
	}
	if resp == nil || resp.AccessToken == "" {
		return fail(apperrors.Mark(errors.New("refresh response carried no access token"), authmodel.ErrRefreshRejected))
	}

	m.commit.Lock()
	defer m.commit.Unlock()

	swapped, err := m.session.Rotate(refreshToken, token.Pair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	})
	if !swapped {
		// Logged out, or a new login replaced the session, while the call was in flight.
		return fail(apperrors.Mark(errSessionEnded, authmodel.ErrNoRefreshToken))
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("refreshed tokens could not be persisted")
	}

	m.schedule(resp.AccessToken)
	m.logger.Debug().Bool("rotated", resp.RefreshToken != "").Msg("access token refreshed")
	return resp.AccessToken, nil
}

func (m *Manager) refreshScheduled() {
	if _, err := m.do(context.Background(), metrics.TriggerScheduled); err != nil {
		m.logger.Warn().Err(err).Msg("scheduled token refresh failed")
		if m.onFailure != nil {
			m.onFailure(err)
		}
	}
}
