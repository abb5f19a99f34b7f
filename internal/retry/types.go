package retry

import (
	"context"
	"errors"
	"time"

	"github.com/Checker-Finance/credpool/pkg/model"
)

// Reason codes the orchestrator produces itself. Activators report their own.
const (
	ReasonActivationTimeout = "ACTIVATION_TIMEOUT"
	ReasonActivationError   = "ACTIVATION_ERROR"
	ReasonConfirmFailed     = "CONFIRM_FAILED"
	ReasonUnknown           = "UNKNOWN"
)

const (
	DefaultMaxAttempts       = 5
	DefaultBackoff           = 2 * time.Second
	DefaultActivationTimeout = 30 * time.Second
	DefaultProgressBuffer    = 32
	DefaultProgressDrain     = 500 * time.Millisecond
)

var (
	ErrCancelled = errors.New("login cancelled")
	ErrExhausted = errors.New("no credential could be activated")
)

// Status is the observable state of one login loop. A loop is idle until its
// first attempt; idle is never emitted as progress.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusTrying   Status = "trying"
	StatusRetrying Status = "retrying"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// Outcome is what the activation capability observed after applying a credential.
type Outcome struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// Activator applies a credential in the consumer's environment and reports
// whether it produced a working session. Implementations should honour ctx;
// the orchestrator abandons calls that outlive their deadline either way.
type Activator interface {
	Activate(ctx context.Context, cred model.Activation) (Outcome, error)
}

// Allocator is the slice of the pool the login loop needs. Both the in-process
// pool and the HTTP client implement it.
type Allocator interface {
	Preview(ctx context.Context, identityID string, exclude []string, skipCurrent bool) (*model.Credential, error)
	Confirm(ctx context.Context, identityID, credentialID string) (*model.Credential, error)
	ReportDead(ctx context.Context, credentialID, reason string) error
}

// Progress is emitted at every state transition.
type Progress struct {
	Status      Status `json:"status"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
	Ordinal     int    `json:"ordinal,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Message     string `json:"message"`
}

// Result is the terminal outcome of AttemptLogin.
type Result struct {
	Success    bool
	Credential *model.Credential
	Attempts   int
	Err        error
	// Message is safe to show to an end user.
	Message string
}
