package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Checker-Finance/credpool/pkg/model"
)

// MemoryStore is a single-process Store. Update runs under one mutex, which
// gives the same all-or-nothing commit as the Redis transaction.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]model.Credential
	identities  map[string]model.Identity
	ordinal     int
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]model.Credential),
		identities:  make(map[string]model.Identity),
	}
}

func (s *MemoryStore) ListCredentials(_ context.Context) ([]model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Credential, 0, len(s.credentials))
	for _, c := range s.credentials {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetCredential(_ context.Context, id string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = c.Clone()
	return &c, nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, id string) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ident, ok := s.identities[id]; ok {
		return &ident, nil
	}
	return &model.Identity{ID: id}, nil
}

func (s *MemoryStore) NextOrdinal(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordinal++
	return s.ordinal, nil
}

func (s *MemoryStore) ReserveOrdinal(_ context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.ordinal {
		s.ordinal = n
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, identityID string, credentialIDs []string, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ident *model.Identity
	if identityID != "" {
		ident = &model.Identity{ID: identityID}
		if existing, ok := s.identities[identityID]; ok {
			ident = &existing
		}
	}
	creds := make([]model.Credential, 0, len(credentialIDs))
	for _, id := range credentialIDs {
		if c, ok := s.credentials[id]; ok {
			creds = append(creds, c)
		}
	}

	tx := newTx(ident, creds)
	if err := fn(tx); err != nil {
		return err
	}

	puts, dels, identityDirty := tx.changes()
	for _, c := range puts {
		s.credentials[c.ID] = c.Clone()
	}
	for _, id := range dels {
		delete(s.credentials, id)
	}
	if identityDirty {
		s.identities[tx.Identity.ID] = *tx.Identity
	}
	return nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
