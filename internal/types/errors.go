package types

import (
	"errors"
	"fmt"
)

// Domain error kinds. Handlers map these onto HTTP statuses and the push
// server maps the auth ones onto websocket closure codes; everything else
// is an internal error to callers.
var (
	ErrInvalidInput             = errors.New("invalid input")
	ErrUnauthenticated          = errors.New("unauthenticated")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("conflict")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrPriceConstraintViolation = errors.New("price constraint violation")
	ErrQuotaExceeded            = errors.New("quota exceeded")
	ErrTimeout                  = errors.New("timeout")
	ErrDependencyUnavailable    = errors.New("dependency unavailable")
	ErrInternal                 = errors.New("internal error")

	ErrDuplicateActiveTrade = fmt.Errorf("%w: duplicate active trade", ErrConflict)
	ErrInvalidInstrument    = fmt.Errorf("%w: invalid instrument", ErrInvalidInput)
)

// WrapError attaches a human-readable message to a domain error kind.
func WrapError(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{kind}, args...)...)
}
