// Package apiclient is the HTTP client core: a bearer-token transport with
// single 401 recovery, and a small JSON client on top of it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/authmodel"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json"

	DefaultTimeout = 30 * time.Second
)

// Client issues JSON requests against a base URL. Any non-2xx response is
// returned as *authmodel.RequestError.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTransport uses rt with the default timeout.
func WithTransport(rt http.RoundTripper) Option {
	return func(cl *Client) {
		cl.httpClient = &http.Client{Transport: rt, Timeout: DefaultTimeout}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("[apiclient New] invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[apiclient New] base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// HTTPClient exposes the underlying client for callers that need raw access.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

func (c *Client) Patch(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends in as JSON (when non-nil) and decodes a 2xx body into out (when
// non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.DoWithHeader(ctx, method, path, nil, in, out)
}

// DoWithHeader is Do with extra request headers.
func (c *Client) DoWithHeader(ctx context.Context, method, path string, header http.Header, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if apperrors.IsContextDone(err) {
			return err
		}
		return apperrors.Mark(fmt.Errorf("%s %s: %w", method, path, err), authmodel.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := ResponseError(resp)
		reqErr.Method = method
		reqErr.Path = path
		c.logger.Debug().Int("status", resp.StatusCode).Str("method", method).Str("path", path).Msg(reqErr.Message)
		return reqErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("[apiclient Do] decode %s %s response: %w", method, path, err)
	}
	return nil
}

// NewRequest builds a request for path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("[apiclient NewRequest] encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("[apiclient NewRequest] %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if in != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	return req, nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("[apiclient] invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// ResponseError turns a non-2xx response into a RequestError, taking the
// message from the backend's error body when there is one.
func ResponseError(resp *http.Response) *authmodel.RequestError {
	reqErr := &authmodel.RequestError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body authmodel.ErrorResponse
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		reqErr.Message = body.Message()
	}
	if reqErr.Message == "" {
		reqErr.Message = http.StatusText(resp.StatusCode)
	}
	return reqErr
}
