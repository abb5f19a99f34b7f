package api

import "github.com/Checker-Finance/credpool/internal/pool"

// PreviewRequest asks which credential the caller would be given.
type PreviewRequest struct {
	Exclude     []string `json:"exclude"`
	SkipCurrent bool     `json:"skipCurrent"`
}

// ConfirmRequest commits the caller onto a previewed credential after a
// successful activation.
type ConfirmRequest struct {
	CredentialID string `json:"credentialId"`
}

// DeadRequest reports a credential that failed activation.
type DeadRequest struct {
	CredentialID string `json:"credentialId"`
	ErrorCode    string `json:"errorCode"`
}

// ImportRequest adds credentials in bulk. Raw entries use the "name=value" form.
type ImportRequest struct {
	Credentials []pool.CredentialInput `json:"credentials"`
	Raw         []string               `json:"raw"`
	Source      string                 `json:"source"`
}

type RetireRequest struct {
	Reason string `json:"reason"`
}

// AssignRequest moves an identity onto a credential.
type AssignRequest struct {
	IdentityID string `json:"identityId"`
}

// AutoAssignRequest places identities that hold nothing onto free slots.
type AutoAssignRequest struct {
	IdentityIDs []string `json:"identityIds"`
}
