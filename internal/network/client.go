package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/recordkit/internal/otel"
	"github.com/mesh-intelligence/recordkit/internal/telemetry"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// RequestIDHeader carries a fresh UUID on every request.
const RequestIDHeader = "X-Request-Id"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 16 << 20

// Sender performs one API call and returns its envelope.
type Sender interface {
	Send(ctx context.Context, api API) (Envelope[json.RawMessage], error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClientTracer sets the tracer used for request spans.
func WithClientTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Client sends API requests and unwraps their envelopes.
type Client struct {
	base      *url.URL
	http      *http.Client
	authCodes []int
	log       *slog.Logger
	tracer    trace.Tracer

	mu    sync.RWMutex
	token string
}

var _ Sender = (*Client)(nil)

// NewClient builds a client from cfg. Zero fields take the package defaults.
func NewClient(cfg types.APIConfig, opts ...ClientOption) (*Client, error) {
	cfg = types.Config{API: cfg}.WithDefaults().API
	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		authCodes: append([]int{}, cfg.AuthExpiredCodes...),
		log:       telemetry.Discard(),
		tracer:    otel.Noop().Tracer,
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base url: %w", err)
		}
		c.base = base
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken sets the bearer token sent with every request. An empty token
// sends none.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Send performs api. A non-zero envelope code is a *BusinessError whatever
// the HTTP status. Network failures, and non-2xx statuses without such an
// envelope, wrap types.ErrTransport.
func (c *Client) Send(ctx context.Context, api API) (Envelope[json.RawMessage], error) {
	var env Envelope[json.RawMessage]

	ctx, span := otel.StartClientSpan(ctx, c.tracer, "recordkit.api", otel.AttrAPI.String(api.Path()))
	req, err := c.newRequest(ctx, api)
	if err != nil {
		otel.EndSpan(span, err)
		return env, err
	}
	reqID := req.Header.Get(RequestIDHeader)
	log := c.log.With("method", req.Method, "url", req.URL.Redacted(), "request_id", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %w", types.ErrTransport, err)
		log.Error("request failed", "error", err)
		otel.EndSpan(span, err)
		return env, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		err = fmt.Errorf("%w: reading body: %w", types.ErrTransport, err)
		log.Error("request failed", "error", err)
		otel.EndSpan(span, err)
		return env, err
	}
	decodeErr := json.Unmarshal(body, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// An error status carrying a failed envelope is reported by its code.
		if decodeErr == nil && env.Code != 0 {
			err = check(env, c.authCodes)
			log.Warn("api error", "status", resp.StatusCode, "code", env.Code, "error", err)
			otel.EndSpan(span, err)
			return env, err
		}
		err = fmt.Errorf("%w: status %d", types.ErrTransport, resp.StatusCode)
		log.Error("request failed", "status", resp.StatusCode)
		otel.EndSpan(span, err)
		return env, err
	}
	if decodeErr != nil {
		err = fmt.Errorf("%w: decoding envelope: %w", types.ErrDecode, decodeErr)
		log.Error("request failed", "error", err)
		otel.EndSpan(span, err)
		return env, err
	}
	if err := check(env, c.authCodes); err != nil {
		log.Warn("api error", "code", env.Code, "error", err)
		otel.EndSpan(span, err)
		return env, err
	}
	log.Debug("request succeeded", "status", resp.StatusCode)
	otel.EndSpan(span, nil)
	return env, nil
}

func (c *Client) newRequest(ctx context.Context, api API) (*http.Request, error) {
	u, err := c.resolve(api.Path())
	if err != nil {
		return nil, err
	}
	method := api.Method()
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	params := api.Params()
	if method == http.MethodGet {
		if len(params) > 0 {
			q := u.Query()
			for k, v := range params {
				s, err := cast.ToStringE(v)
				if err != nil {
					return nil, fmt.Errorf("%w: param %s: %w", types.ErrInvalidData, k, err)
				}
				q.Set(k, s)
			}
			u.RawQuery = q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		buf, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding params: %w", types.ErrInvalidData, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range api.Header() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if tok := c.Token(); tok != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing path %q: %w", types.ErrInvalidData, path, err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if c.base == nil {
		return nil, fmt.Errorf("%w: relative path %q without base url", types.ErrInvalidData, path)
	}
	return c.base.ResolveReference(u), nil
}
