package pool

import "errors"

var (
	ErrPoolExhausted        = errors.New("pool exhausted: no eligible credential")
	ErrCredentialNotFound   = errors.New("credential not found")
	ErrCredentialInactive   = errors.New("credential inactive")
	ErrCredentialExpired    = errors.New("credential expired")
	ErrCapacityExceeded     = errors.New("credential at capacity")
	ErrCredentialHeld       = errors.New("credential still has holders")
	ErrCapacityBelowHolders = errors.New("capacity below current holder count")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrInvalidIdentity      = errors.New("identity is required")
)

// Stale reports whether err means a previewed credential can no longer be
// confirmed and another candidate should be tried.
func Stale(err error) bool {
	return errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrCredentialInactive) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrCapacityExceeded)
}
