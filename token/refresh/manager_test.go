package refresh_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeExchanger hands out numbered access tokens. When gate is set, every call
// blocks on it until the test releases it.
type fakeExchanger struct {
	t       *testing.T
	clock   clockwork.Clock
	ttl     time.Duration
	rotate  bool
	err     error
	gate    chan struct{}
	entered chan struct{}

	calls    atomic.Int32
	mu       sync.Mutex
	received []string
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*authmodel.TokenResponse, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.received = append(f.received, refreshToken)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	resp := &authmodel.TokenResponse{AccessToken: tokenExpiringAt(f.t, f.clock.Now().Add(f.ttl))}
	if f.rotate {
		resp.RefreshToken = fmt.Sprintf("refresh-%d", n)
	}
	return resp, nil
}

type managerFixture struct {
	clock     *clockwork.FakeClock
	session   *token.Session
	exchanger *fakeExchanger
	manager   *refresh.Manager
	registry  *prometheus.Registry
	failures  atomic.Int32
}

func setupManager(t *testing.T, pair token.Pair, configure func(*fakeExchanger)) *managerFixture {
	t.Helper()

	f := &managerFixture{
		clock:    clockwork.NewFakeClockAt(epoch),
		registry: prometheus.NewRegistry(),
	}
	store := token.NewMemoryStore()
	require.NoError(t, store.Save(pair))

	session, err := token.NewSession(store)
	require.NoError(t, err)
	f.session = session

	f.exchanger = &fakeExchanger{t: t, clock: f.clock, ttl: 15 * time.Minute}
	if configure != nil {
		configure(f.exchanger)
	}

	collector, err := metrics.New(f.registry)
	require.NoError(t, err)

	f.manager = refresh.NewManager(session, f.exchanger,
		refresh.WithClock(f.clock),
		refresh.WithLogger(zerolog.Nop()),
		refresh.WithMetrics(collector),
		refresh.WithFailureHandler(func(error) { f.failures.Add(1) }),
	)
	return f
}

func TestManager_RefreshUpdatesSessionAndReschedules(t *testing.T) {
	stale := tokenExpiringAt(t, epoch.Add(-time.Minute))
	f := setupManager(t, token.Pair{AccessToken: stale, RefreshToken: "refresh-0"}, nil)

	access, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, stale, access)

	require.Equal(t, access, f.session.Get(token.Access))
	require.Equal(t, "refresh-0", f.session.Get(token.Refresh))
	header, _ := f.session.Authorization()
	require.Equal(t, "Bearer "+access, header)
	require.Equal(t, []string{"refresh-0"}, f.exchanger.received)
	require.True(t, f.manager.Scheduler().Pending())
}

func TestManager_RotatedRefreshTokenIsStored(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "refresh-0"}, func(e *fakeExchanger) {
		e.rotate = true
	})

	_, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refresh-1", f.session.Get(token.Refresh))

	_, err = f.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"refresh-0", "refresh-1"}, f.exchanger.received)
}

func TestManager_NoRefreshToken(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a"}, nil)

	_, err := f.manager.Refresh(context.Background())
	require.ErrorIs(t, err, authmodel.ErrNoRefreshToken)
	require.Zero(t, f.exchanger.calls.Load())
	require.Equal(t, "a", f.session.Get(token.Access))
}

func TestManager_RejectedRefreshLeavesSessionUntouched(t *testing.T) {
	rejection := fmt.Errorf("%w: %w", authmodel.ErrRefreshRejected, &authmodel.RequestError{StatusCode: 401, Message: "Token has expired"})
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "r"}, func(e *fakeExchanger) {
		e.err = rejection
	})

	_, err := f.manager.Refresh(context.Background())
	require.ErrorIs(t, err, authmodel.ErrRefreshRejected)
	require.Equal(t, 401, authmodel.StatusCode(err))
	require.Equal(t, token.Pair{AccessToken: "a", RefreshToken: "r"}, f.session.Pair())
	require.False(t, f.manager.Scheduler().Pending())

	count, err := testutil.GatherAndCount(f.registry, "auth_client_refresh_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestManager_ConcurrentTriggersShareOneBackendCall(t *testing.T) {
	stale := tokenExpiringAt(t, epoch.Add(-time.Minute))
	f := setupManager(t, token.Pair{AccessToken: stale, RefreshToken: "r"}, func(e *fakeExchanger) {
		e.gate = make(chan struct{})
		e.entered = make(chan struct{}, 1)
	})

	const callers = 10
	results := make(chan string, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup

	call := func(scheduled bool) {
		defer wg.Done()
		var (
			access string
			err    error
		)
		if scheduled {
			access, err = f.manager.Refresh(context.Background())
		} else {
			access, err = f.manager.RefreshStale(context.Background(), stale)
		}
		if err != nil {
			errs <- err
			return
		}
		results <- access
	}

	wg.Add(1)
	go call(true)
	<-f.exchanger.entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go call(false)
	}
	time.Sleep(quiet)
	close(f.exchanger.gate)
	wg.Wait()
	close(results)
	close(errs)

	require.Empty(t, errs)
	require.EqualValues(t, 1, f.exchanger.calls.Load())

	var first string
	for access := range results {
		if first == "" {
			first = access
		}
		require.Equal(t, first, access)
	}
	require.Equal(t, first, f.session.Get(token.Access))
}

func TestManager_RefreshStaleUsesNewerToken(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "newer", RefreshToken: "r"}, nil)

	access, err := f.manager.RefreshStale(context.Background(), "older")
	require.NoError(t, err)
	require.Equal(t, "newer", access)
	require.Zero(t, f.exchanger.calls.Load())
}

func TestManager_RefreshStaleWithCurrentTokenCallsBackend(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "current", RefreshToken: "r"}, nil)

	access, err := f.manager.RefreshStale(context.Background(), "current")
	require.NoError(t, err)
	require.NotEqual(t, "current", access)
	require.EqualValues(t, 1, f.exchanger.calls.Load())
}

func TestManager_WaiterCancellationDoesNotAbortSharedCall(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "r"}, func(e *fakeExchanger) {
		e.gate = make(chan struct{})
		e.entered = make(chan struct{}, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Refresh(ctx)
		done <- err
	}()
	<-f.exchanger.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(f.exchanger.gate)
	require.Eventually(t, func() bool { return f.session.Get(token.Access) != "a" }, waitFor, tick)
}

func TestManager_TerminateDuringRefreshKeepsSessionEmpty(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "r"}, func(e *fakeExchanger) {
		e.gate = make(chan struct{})
		e.entered = make(chan struct{}, 1)
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Refresh(context.Background())
		done <- err
	}()
	<-f.exchanger.entered

	require.NoError(t, f.manager.Terminate())
	close(f.exchanger.gate)

	require.ErrorIs(t, <-done, authmodel.ErrNoRefreshToken)
	require.True(t, f.session.Pair().IsEmpty())
	require.False(t, f.manager.Scheduler().Pending())
}

func TestManager_ScheduledRefreshFiresAndRearms(t *testing.T) {
	f := setupManager(t, token.Pair{}, func(e *fakeExchanger) {
		e.ttl = time.Minute
	})

	initial := tokenExpiringAt(t, epoch.Add(15*time.Second))
	require.NoError(t, f.manager.Establish(token.Pair{AccessToken: initial, RefreshToken: "r"}))
	require.True(t, f.manager.Scheduler().Pending())

	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return f.exchanger.calls.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return f.session.Get(token.Access) != initial }, waitFor, tick)
	require.Eventually(t, func() bool { return f.manager.Scheduler().Pending() }, waitFor, tick)
	require.Zero(t, f.failures.Load())
}

func TestManager_ScheduledRefreshFailureCallsHandlerOnce(t *testing.T) {
	f := setupManager(t, token.Pair{}, func(e *fakeExchanger) {
		e.err = fmt.Errorf("%w: boom", authmodel.ErrNetwork)
	})

	require.NoError(t, f.manager.Establish(token.Pair{
		AccessToken:  tokenExpiringAt(t, epoch.Add(15*time.Second)),
		RefreshToken: "r",
	}))

	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.failures.Load() == 1 }, waitFor, tick)
	require.Never(t, func() bool { return f.failures.Load() > 1 || f.exchanger.calls.Load() > 1 }, quiet, tick)
	require.False(t, f.manager.Scheduler().Pending())
}

func TestManager_EmptyAccessTokenResponseIsRejected(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "r"}, nil)
	m := refresh.NewManager(f.session, exchangerFunc(func(context.Context, string) (*authmodel.TokenResponse, error) {
		return &authmodel.TokenResponse{}, nil
	}), refresh.WithLogger(zerolog.Nop()))

	_, err := m.Refresh(context.Background())
	require.True(t, errors.Is(err, authmodel.ErrRefreshRejected))
	require.Equal(t, "a", f.session.Get(token.Access))
}

type exchangerFunc func(ctx context.Context, refreshToken string) (*authmodel.TokenResponse, error)

func (f exchangerFunc) Refresh(ctx context.Context, refreshToken string) (*authmodel.TokenResponse, error) {
	return f(ctx, refreshToken)
}

func TestManager_ErrorRemembersAttemptedToken(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "refresh-0"}, func(e *fakeExchanger) {
		e.err = fmt.Errorf("%w: revoked", authmodel.ErrRefreshRejected)
	})

	_, err := f.manager.Refresh(context.Background())
	var refreshErr *refresh.Error
	require.True(t, errors.As(err, &refreshErr))
	require.True(t, refreshErr.Attempted("refresh-0"))
	require.False(t, refreshErr.Attempted("refresh-1"))
	require.NotContains(t, err.Error(), "refresh-0")
}

func TestManager_StopPreventsRearming(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "a", RefreshToken: "r"}, nil)

	f.manager.Stop()
	_, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.False(t, f.manager.Scheduler().Pending())
}

func TestManager_RefreshStaleRetriesForReplacedSession(t *testing.T) {
	f := setupManager(t, token.Pair{AccessToken: "old-access", RefreshToken: "old-refresh"}, func(e *fakeExchanger) {
		e.gate = make(chan struct{})
		e.entered = make(chan struct{}, 2)
	})

	scheduled := make(chan error, 1)
	go func() {
		_, err := f.manager.Refresh(context.Background())
		scheduled <- err
	}()
	<-f.exchanger.entered

	// A new login lands while the old session's refresh is in flight.
	newAccess := tokenExpiringAt(t, epoch.Add(15*time.Minute))
	require.NoError(t, f.manager.Establish(token.Pair{AccessToken: newAccess, RefreshToken: "new-refresh"}))

	type result struct {
		access string
		err    error
	}
	stale := make(chan result, 1)
	go func() {
		access, err := f.manager.RefreshStale(context.Background(), newAccess)
		stale <- result{access, err}
	}()
	time.Sleep(quiet)
	close(f.exchanger.gate)

	require.ErrorIs(t, <-scheduled, authmodel.ErrNoRefreshToken)
	res := <-stale
	require.NoError(t, res.err)
	require.NotEqual(t, newAccess, res.access)
	require.Equal(t, res.access, f.session.Get(token.Access))
	require.Equal(t, "new-refresh", f.session.Get(token.Refresh))
	require.Equal(t, []string{"old-refresh", "new-refresh"}, f.exchanger.received)
}
