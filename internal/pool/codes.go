package pool

import (
	"errors"
	"net/http"

	"github.com/Checker-Finance/credpool/internal/store"
)

// Wire codes for pool errors. The HTTP API emits them and the pool client
// turns them back into the sentinels.
const (
	CodePoolExhausted        = "POOL_EXHAUSTED"
	CodeCredentialNotFound   = "CREDENTIAL_NOT_FOUND"
	CodeCredentialInactive   = "CREDENTIAL_INACTIVE"
	CodeCredentialExpired    = "CREDENTIAL_EXPIRED"
	CodeCapacityExceeded     = "CAPACITY_EXCEEDED"
	CodeCredentialHeld       = "CREDENTIAL_HELD"
	CodeCapacityBelowHolders = "CAPACITY_BELOW_HOLDERS"
	CodeInvalidCredential    = "INVALID_CREDENTIAL"
	CodeInvalidIdentity      = "INVALID_IDENTITY"
	CodeConflict             = "CONFLICT"
	CodeInternal             = "INTERNAL"
)

var codeTable = []struct {
	err    error
	code   string
	status int
}{
	{ErrPoolExhausted, CodePoolExhausted, http.StatusConflict},
	{ErrCredentialNotFound, CodeCredentialNotFound, http.StatusNotFound},
	{ErrCredentialInactive, CodeCredentialInactive, http.StatusConflict},
	{ErrCredentialExpired, CodeCredentialExpired, http.StatusConflict},
	{ErrCapacityExceeded, CodeCapacityExceeded, http.StatusConflict},
	{ErrCredentialHeld, CodeCredentialHeld, http.StatusConflict},
	{ErrCapacityBelowHolders, CodeCapacityBelowHolders, http.StatusConflict},
	{ErrInvalidCredential, CodeInvalidCredential, http.StatusBadRequest},
	{ErrInvalidIdentity, CodeInvalidIdentity, http.StatusBadRequest},
	{store.ErrConflict, CodeConflict, http.StatusServiceUnavailable},
}

// Code returns the wire code and HTTP status for err.
func Code(err error) (string, int) {
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code, e.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// FromCode returns the sentinel for a wire code, or nil if the code is unknown.
func FromCode(code string) error {
	for _, e := range codeTable {
		if e.code == code {
			return e.err
		}
	}
	return nil
}
