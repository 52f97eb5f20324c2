// Package types defines records, column kinds, predicates, the Store
// interface, configuration and standard errors for recordkit.
package types

import (
	"errors"
	"time"
)

// Config holds backend selection and parameters for opening a Store and an
// API client.
type Config struct {
	Backend     string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir     string        `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	DBFile      string        `json:"db_file" yaml:"db_file" mapstructure:"db_file"`
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout" mapstructure:"busy_timeout"`
	LogLevel    string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	API         APIConfig     `json:"api" yaml:"api" mapstructure:"api"`
}

// APIConfig configures the API client and its token refresh coalescing.
type APIConfig struct {
	BaseURL          string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	RefreshTimeout   time.Duration `json:"refresh_timeout" yaml:"refresh_timeout" mapstructure:"refresh_timeout"`
	AuthExpiredCodes []int         `json:"auth_expired_codes" yaml:"auth_expired_codes" mapstructure:"auth_expired_codes"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Defaults applied by WithDefaults.
const (
	DefaultDBFile         = "recordkit.sqlite3"
	DefaultBusyTimeout    = 5 * time.Second
	DefaultAPITimeout     = 15 * time.Second
	DefaultRefreshTimeout = 30 * time.Second
)

// DefaultAuthExpiredCodes are the response codes that signal an expired
// auth token.
var DefaultAuthExpiredCodes = []int{10003, 301013}

// Config validation errors.
var (
	ErrBackendEmpty       = errors.New("backend must not be empty")
	ErrBackendUnknown     = errors.New("unknown backend")
	ErrBusyTimeoutInvalid = errors.New("busy timeout must not be negative")
	ErrAPITimeoutInvalid  = errors.New("api timeouts must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.BusyTimeout < 0 {
		return ErrBusyTimeoutInvalid
	}
	if c.API.Timeout < 0 || c.API.RefreshTimeout < 0 {
		return ErrAPITimeoutInvalid
	}
	return nil
}

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.DBFile == "" {
		c.DBFile = DefaultDBFile
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.RefreshTimeout == 0 {
		c.API.RefreshTimeout = DefaultRefreshTimeout
	}
	if len(c.API.AuthExpiredCodes) == 0 {
		c.API.AuthExpiredCodes = append([]int{}, DefaultAuthExpiredCodes...)
	}
	return c
}
