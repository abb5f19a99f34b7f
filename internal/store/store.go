package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/Checker-Finance/credpool/pkg/model"
)

var (
	// ErrNotFound is returned when a credential id has no record.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an optimistic transaction kept losing races.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrStale is returned by update functions whose read set no longer covers
	// the records they need; callers re-read and retry.
	ErrStale = errors.New("store: stale read set")
)

// Store defines the contract for the live credential pool and assignment ledger.
// All mutations go through Update so capacity and assignment invariants are
// checked against the state that is actually committed.
type Store interface {
	ListCredentials(ctx context.Context) ([]model.Credential, error)
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	NextOrdinal(ctx context.Context) (int, error)
	// ReserveOrdinal raises the ordinal counter to at least n so NextOrdinal
	// never hands out an ordinal that was set explicitly.
	ReserveOrdinal(ctx context.Context, n int) error
	// Update loads the identity (when identityID is non-empty) and the named
	// credentials, applies fn and commits every change atomically, or nothing
	// when fn returns an error.
	Update(ctx context.Context, identityID string, credentialIDs []string, fn func(*Tx) error) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Tx is the read/write set of one atomic update.
type Tx struct {
	Identity *model.Identity

	credentials map[string]*model.Credential
	deleted     map[string]bool
	snapshot    map[string][]byte
	identSnap   []byte
}

func newTx(identity *model.Identity, creds []model.Credential) *Tx {
	tx := &Tx{
		Identity:    identity,
		credentials: make(map[string]*model.Credential, len(creds)),
		deleted:     make(map[string]bool),
		snapshot:    make(map[string][]byte, len(creds)),
	}
	for i := range creds {
		c := creds[i].Clone()
		tx.credentials[c.ID] = &c
		tx.snapshot[c.ID], _ = json.Marshal(c)
	}
	if identity != nil {
		tx.identSnap, _ = json.Marshal(identity)
	}
	return tx
}

// Credential returns the loaded credential for id.
func (tx *Tx) Credential(id string) (*model.Credential, bool) {
	if tx.deleted[id] {
		return nil, false
	}
	c, ok := tx.credentials[id]
	return c, ok
}

// Put inserts or replaces a credential in the write set.
func (tx *Tx) Put(c model.Credential) {
	c = c.Clone()
	delete(tx.deleted, c.ID)
	tx.credentials[c.ID] = &c
}

// Delete removes a credential on commit.
func (tx *Tx) Delete(id string) {
	tx.deleted[id] = true
}

// changes returns the credentials to write, the ids to delete and whether the
// identity record changed. Output is sorted for deterministic commits.
func (tx *Tx) changes() (puts []model.Credential, dels []string, identityDirty bool) {
	for id, c := range tx.credentials {
		if tx.deleted[id] {
			continue
		}
		data, _ := json.Marshal(c)
		if prev, ok := tx.snapshot[id]; ok && bytes.Equal(prev, data) {
			continue
		}
		puts = append(puts, *c)
	}
	for id := range tx.deleted {
		if _, ok := tx.snapshot[id]; ok {
			dels = append(dels, id)
		}
	}
	sort.Slice(puts, func(i, j int) bool { return puts[i].ID < puts[j].ID })
	sort.Strings(dels)
	if tx.Identity != nil {
		data, _ := json.Marshal(tx.Identity)
		identityDirty = !bytes.Equal(data, tx.identSnap)
	}
	return puts, dels, identityDirty
}
