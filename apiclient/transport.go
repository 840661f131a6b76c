package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"

	// maxErrorBody caps how much of a 401 body is kept while refreshing.
	maxErrorBody = 64 << 10
)

// Credentials is the read side of the token session the transport attaches.
type Credentials interface {
	Authorization() (header, accessToken string)
}

// Refresher renews the access token after a 401. stale is the token the
// rejected request carried.
type Refresher interface {
	RefreshStale(ctx context.Context, stale string) (string, error)
}

// Transport attaches the session's bearer token to every request and recovers
// from a single 401 per request by refreshing and re-issuing it once.
type Transport struct {
	// Base is the underlying transport; http.DefaultTransport when nil.
	Base        http.RoundTripper
	Credentials Credentials
	Refresher   Refresher
	// OnRefreshFailure is called when the 401 path cannot refresh. The session
	// layer uses it to log out.
	OnRefreshFailure func(error)

	Logger  *zerolog.Logger
	Metrics *metrics.Collector
}

var _ http.RoundTripper = (*Transport)(nil)

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	var header, sent string
	if t.Credentials != nil {
		header, sent = t.Credentials.Authorization()
	}
	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	first, err := t.prepare(req, body, header, requestID)
	if err != nil {
		return nil, err
	}
	resp, err := t.base().RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || t.Refresher == nil {
		return resp, err
	}

	logger := t.logger().With().Str("request_id", requestID).Str("method", req.Method).Str("path", req.URL.Path).Logger()
	logger.Debug().Msg("request unauthorized, refreshing access token")

	// Keep the 401 readable in case the refresh fails and it must be returned.
	if err := bufferBody(resp); err != nil {
		return nil, err
	}

	access, refreshErr := t.Refresher.RefreshStale(req.Context(), sent)
	if refreshErr != nil {
		if apperrors.IsContextDone(refreshErr) && req.Context().Err() != nil {
			// The caller gave up; the session itself is still fine.
			return nil, refreshErr
		}
		logger.Info().Err(refreshErr).Msg("access token refresh failed, ending session")
		if t.OnRefreshFailure != nil {
			t.OnRefreshFailure(refreshErr)
		}
		return resp, nil
	}
	retry, err := t.prepare(req, body, "Bearer "+access, requestID)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close()

	// Second and last attempt: whatever comes back now goes to the caller.
	t.Metrics.ObserveRetry()
	logger.Debug().Msg("re-issuing request with refreshed access token")
	return t.base().RoundTrip(retry)
}

// prepare clones req for one attempt with a fresh copy of its body.
func (t *Transport) prepare(req *http.Request, body func() (io.ReadCloser, error), authorization, requestID string) (*http.Request, error) {
	out := req.Clone(req.Context())
	if body != nil {
		rc, err := body()
		if err != nil {
			return nil, fmt.Errorf("[Transport] rewind request body: %w", err)
		}
		out.Body = rc
		out.GetBody = body
	}
	if authorization != "" {
		out.Header.Set(HeaderAuthorization, authorization)
	}
	out.Header.Set(HeaderRequestID, requestID)
	return out, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *zerolog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return &log.Logger
}

// replayableBody returns a function yielding a fresh copy of the request body
// for each attempt, or nil when there is no body. The caller's request is not
// modified beyond consuming and closing its body.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("[Transport] buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func bufferBody(resp *http.Response) error {
	if resp.Body == nil {
		resp.Body = http.NoBody
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("[Transport] read 401 body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return nil
}
