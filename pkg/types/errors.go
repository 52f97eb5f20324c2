package types

import "errors"

// Persistence errors. Store operations log failures and return errors that
// wrap one of these, so callers test with errors.Is.
var (
	ErrConnectionUnavailable = errors.New("database connection unavailable")
	ErrSchema                = errors.New("schema error")
	ErrWrite                 = errors.New("write error")
	ErrDecode                = errors.New("decode error")
)

// Network errors.
var (
	ErrTransport   = errors.New("transport error")
	ErrAuthExpired = errors.New("auth token expired")
	ErrBusiness    = errors.New("business error")
)

// Argument errors.
var (
	ErrInvalidRowID      = errors.New("record has no rowid")
	ErrInvalidData       = errors.New("invalid record data")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrCoercion          = errors.New("value coerced to default")
)
