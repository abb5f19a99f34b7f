package model

import "time"

// AssignedCredential is what a pool consumer sees of a credential. Holder
// identities stay private to operators.
type AssignedCredential struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Value       string     `json:"value"`
	Domain      string     `json:"domain"`
	Path        string     `json:"path"`
	Secure      bool       `json:"secure"`
	HTTPOnly    bool       `json:"httpOnly"`
	Ordinal     int        `json:"ordinal"`
	Capacity    int        `json:"capacity"`
	HolderCount int        `json:"holderCount"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (c *Credential) ToAssigned() AssignedCredential {
	return AssignedCredential{
		ID:          c.ID,
		Name:        c.Name,
		Value:       c.Value,
		Domain:      c.Domain,
		Path:        c.Path,
		Secure:      c.Secure,
		HTTPOnly:    c.HTTPOnly,
		Ordinal:     c.Ordinal,
		Capacity:    c.Capacity,
		HolderCount: len(c.Holders),
		ExpiresAt:   c.ExpiresAt,
	}
}

// Credential rebuilds the consumer-visible part of a pool record.
func (a AssignedCredential) Credential() Credential {
	return Credential{
		ID:        a.ID,
		Name:      a.Name,
		Value:     a.Value,
		Domain:    a.Domain,
		Path:      a.Path,
		Secure:    a.Secure,
		HTTPOnly:  a.HTTPOnly,
		Ordinal:   a.Ordinal,
		Capacity:  a.Capacity,
		ExpiresAt: a.ExpiresAt,
		Active:    true,
	}
}

// APIError is the body of every non-2xx API response.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
