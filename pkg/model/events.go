package model

import "time"

// Pool event types emitted after every committed ledger mutation.
const (
	EventConfirmed  = "credential.confirmed"
	EventReplaced   = "credential.replaced"
	EventDead       = "credential.dead"
	EventRetired    = "credential.retired"
	EventExpired    = "credential.expired"
	EventReleased   = "credential.released"
	EventReassigned = "credential.reassigned"
	EventImported   = "credential.imported"
	EventUpdated    = "credential.updated"
	EventDeleted    = "credential.deleted"
)

type PoolEvent struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	CredentialID string    `json:"credential_id"`
	IdentityID   string    `json:"identity_id,omitempty"`
	Ordinal      int       `json:"ordinal"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
