// Package network is a small JSON API client whose requests share a single
// in-flight auth token refresh.
//
// Every response is an Envelope. A non-zero Code is a business failure; the
// codes configured as auth-expired make the Coalescer refresh the token once
// and replay every request that hit or waited on the expiry.
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// API describes one endpoint call. Path is either absolute or relative to
// the client's base URL.
type API interface {
	Path() string
	Method() string
	Header() http.Header
	Params() map[string]any
}

// Request is a plain API value.
type Request struct {
	URL     string
	Verb    string
	Headers http.Header
	Values  map[string]any
}

var _ API = Request{}

// Path returns the request URL.
func (r Request) Path() string { return r.URL }

// Method returns the HTTP method, GET by default.
func (r Request) Method() string {
	if r.Verb == "" {
		return http.MethodGet
	}
	return r.Verb
}

// Header returns the request-specific headers.
func (r Request) Header() http.Header { return r.Headers }

// Params returns the request parameters.
func (r Request) Params() map[string]any { return r.Values }

// Envelope is the response body shared by every endpoint.
type Envelope[T any] struct {
	Code     int    `json:"code"`
	Msg      string `json:"msg"`
	DebugMsg string `json:"debug_msg"`
	Data     T      `json:"data"`
}

// DefaultErrorMessage is used when a failed response carries no message.
const DefaultErrorMessage = "request failed"

// BusinessError is a response whose Code is not zero.
type BusinessError struct {
	Code        int
	Message     string
	AuthExpired bool
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Is matches types.ErrAuthExpired for auth-expired codes and
// types.ErrBusiness otherwise.
func (e *BusinessError) Is(target error) bool {
	if e.AuthExpired {
		return target == types.ErrAuthExpired
	}
	return target == types.ErrBusiness
}

// ErrRefreshTimeout fails every caller waiting on a refresh that did not
// finish in time.
var ErrRefreshTimeout = fmt.Errorf("%w: refresh timeout", types.ErrTransport)

// check converts a failed envelope into a BusinessError. The message is the
// debug message, then the message, then DefaultErrorMessage.
func check[T any](env Envelope[T], authCodes []int) error {
	if env.Code == 0 {
		return nil
	}
	msg := env.DebugMsg
	if msg == "" {
		msg = env.Msg
	}
	if msg == "" {
		msg = DefaultErrorMessage
	}
	return &BusinessError{
		Code:        env.Code,
		Message:     msg,
		AuthExpired: slices.Contains(authCodes, env.Code),
	}
}

// Decode converts a raw envelope into a typed one.
func Decode[T any](raw Envelope[json.RawMessage]) (Envelope[T], error) {
	env := Envelope[T]{Code: raw.Code, Msg: raw.Msg, DebugMsg: raw.DebugMsg}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return env, nil
	}
	if err := json.Unmarshal(raw.Data, &env.Data); err != nil {
		return env, fmt.Errorf("%w: decoding data: %w", types.ErrDecode, err)
	}
	return env, nil
}

// IsAuthExpired reports whether err signals an expired token.
func IsAuthExpired(err error) bool {
	return errors.Is(err, types.ErrAuthExpired)
}
