package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parosapp/paros-go/backend"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const errorBodyLimit = 1 << 20 // never buffer more than 1MB of an error body

// Client issues JSON requests against a base URL. Every request passes
// through the client's interceptor chain.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	logger       zerolog.Logger
	interceptors []Interceptor
	do           Doer
}

// ClientOption modifies a Client at construction.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request issued through DoJSON.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithInterceptors installs the interceptor chain. The first interceptor is
// the outermost.
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return func(c *Client) {
		c.interceptors = interceptors
	}
}

func New(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    backend.DefaultRequestTimeout,
		logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.do = Chain(c.send, c.interceptors...)
	return c
}

// Endpoint joins path onto the client's base URL.
func (c *Client) Endpoint(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// NewRequest builds a JSON request. A non-nil body is marshaled and the
// request gains a rewindable body so the auth-retry interceptor can replay
// it.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "Client.NewRequest marshal")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint(path), reader)
	if err != nil {
		return nil, errors.Wrap(err, "Client.NewRequest")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends a prepared request through the interceptor chain. The caller owns
// the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req)
}

// DoJSON performs a full JSON round trip: build the request, run the chain,
// decode a 2xx body into out (when out is non-nil) or translate an error
// status into the SDK's error taxonomy.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrapf(err, "Client.DoJSON %s %s", method, path)
	}
	defer drainAndClose(resp.Body)

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "Client.DoJSON decode %s %s", method, path)
	}
	return nil
}

// DoDecode sends a prepared request through the chain and decodes a 2xx JSON
// body into out (when out is non-nil). Error statuses are translated exactly
// as DoJSON translates them. Callers that need a non-JSON request body, such
// as multipart uploads, build the request themselves and come through here.
func (c *Client) DoDecode(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrapf(err, "Client.DoDecode %s %s", req.Method, req.URL.Path)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "Client.DoDecode %s %s", req.Method, req.URL.Path)
	}
	return nil
}

// DoStream sends a prepared request and hands the 2xx response body to the
// caller, who must close it. Error statuses are drained and translated.
func (c *Client) DoStream(req *http.Request) (io.ReadCloser, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "Client.DoStream %s %s", req.Method, req.URL.Path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer drainAndClose(resp.Body)
		return nil, c.errorFromResponse(resp)
	}
	return resp.Body, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// errorEnvelope is the api backend's error response shape.
type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if err != nil {
		raw = nil
	}

	var envelope errorEnvelope
	message := strings.TrimSpace(string(raw))
	if jsonErr := json.Unmarshal(raw, &envelope); jsonErr == nil && envelope.Error != "" {
		message = envelope.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &backend.TransportError{
		Status:  resp.StatusCode,
		Code:    envelope.Code,
		Message: message,
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, errorBodyLimit))
	_ = body.Close()
}
