package orders

import "errors"

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrItemNotFound          = errors.New("item not found")
	ErrAlreadyCancelled      = errors.New("order already cancelled")
	ErrTerminalStateConflict = errors.New("order is in a terminal state")
	ErrNotEditable           = errors.New("order can no longer be edited")
	ErrAccessDenied          = errors.New("access denied")
	ErrInvalidInput          = errors.New("invalid input")
	ErrRequestInFlight       = errors.New("request with this idempotency key is still in progress")
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindAccessDenied
	KindInvalid
)

// Kind classifies an error returned by this package.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrItemNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrTerminalStateConflict),
		errors.Is(err, ErrNotEditable), errors.Is(err, ErrRequestInFlight):
		return KindConflict
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrInvalidInput):
		return KindInvalid
	default:
		return KindInternal
	}
}
