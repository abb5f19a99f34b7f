package model

import (
	"slices"
	"time"
)

// Credential is one shareable pool slot: an opaque session token that up to
// Capacity identities may hold at the same time.
type Credential struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Value      string     `json:"value"`
	Domain     string     `json:"domain"`
	Path       string     `json:"path"`
	Secure     bool       `json:"secure"`
	HTTPOnly   bool       `json:"httpOnly"`
	Ordinal    int        `json:"ordinal"`
	Capacity   int        `json:"capacity"`
	Holders    []string   `json:"holders"`
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	UsageCount int64      `json:"usageCount"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Notes      string     `json:"notes"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Expired reports whether the credential is past its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// HasHolder reports whether identityID currently holds the credential.
func (c *Credential) HasHolder(identityID string) bool {
	return slices.Contains(c.Holders, identityID)
}

// SpareCapacity is the number of additional holders the credential can take.
func (c *Credential) SpareCapacity() int {
	n := c.Capacity - len(c.Holders)
	if n < 0 {
		return 0
	}
	return n
}

// Available reports whether the credential can be offered to a new holder.
func (c *Credential) Available(now time.Time) bool {
	return c.Active && !c.Expired(now) && c.SpareCapacity() > 0
}

// AddHolder appends identityID unless it is already present.
func (c *Credential) AddHolder(identityID string) bool {
	if c.HasHolder(identityID) {
		return false
	}
	c.Holders = append(c.Holders, identityID)
	return true
}

// RemoveHolder drops identityID and reports whether it was present.
func (c *Credential) RemoveHolder(identityID string) bool {
	i := slices.Index(c.Holders, identityID)
	if i < 0 {
		return false
	}
	c.Holders = slices.Delete(c.Holders, i, i+1)
	return true
}

// Clone returns a deep copy safe to mutate independently.
func (c Credential) Clone() Credential {
	c.Holders = slices.Clone(c.Holders)
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		c.ExpiresAt = &t
	}
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		c.LastUsedAt = &t
	}
	return c
}

// Activation is the subset of a credential handed to the activation capability.
type Activation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
}

// ToActivation projects the credential onto the activation contract.
func (c *Credential) ToActivation() Activation {
	return Activation{
		ID:       c.ID,
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
}

// Identity is a pool consumer. AssignedCredentialID mirrors its membership in
// exactly one Credential.Holders list, or is empty.
type Identity struct {
	ID                   string    `json:"id"`
	AssignedCredentialID string    `json:"assignedCredentialId"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// PoolStats summarises the pool for operators.
type PoolStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Available int `json:"available"`
	Used      int `json:"used"`
	Expired   int `json:"expired"`
	Holders   int `json:"holders"`
	Capacity  int `json:"capacity"`
}
