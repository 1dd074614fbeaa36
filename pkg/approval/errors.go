package approval

import "errors"

var (
	// ErrStoreUnavailable indicates the approval store could not be reached.
	ErrStoreUnavailable = errors.New("approval store unavailable")

	// ErrShortIDExhausted indicates short-id generation kept colliding with
	// live pendings.
	ErrShortIDExhausted = errors.New("could not generate unique approval short id")

	// ErrManagerStopped indicates the manager shut down while a request was
	// suspended.
	ErrManagerStopped = errors.New("approval manager stopped")
)
