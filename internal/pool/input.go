package pool

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Checker-Finance/credpool/pkg/model"
)

const (
	DefaultName     = "SessionId"
	DefaultPath     = "/"
	DefaultCapacity = 4
)

var (
	rawCredentialRegex = regexp.MustCompile(`^([^=]+)=(.+)$`)
	tokenNameRegex     = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)
	validSources       = map[string]bool{"manual": true, "api": true, "import": true, "generated": true}
)

// CredentialInput is the only shape in which external credential data enters
// the pool. Zero values take the service defaults.
type CredentialInput struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	Domain    string     `json:"domain"`
	Path      string     `json:"path"`
	Secure    *bool      `json:"secure,omitempty"`
	HTTPOnly  bool       `json:"httpOnly"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Capacity  int        `json:"capacity"`
	Ordinal   int        `json:"ordinal"`
	Notes     string     `json:"notes"`
}

func (in CredentialInput) Validate() error {
	if name := strings.TrimSpace(in.Name); name != "" && !tokenNameRegex.MatchString(name) {
		return fmt.Errorf("%w: name %q contains invalid characters", ErrInvalidCredential, name)
	}
	value := strings.TrimSpace(in.Value)
	if value == "" {
		return fmt.Errorf("%w: value is required", ErrInvalidCredential)
	}
	if strings.ContainsAny(value, "; \t\r\n") {
		return fmt.Errorf("%w: value must not contain separators or whitespace", ErrInvalidCredential)
	}
	if in.Path != "" && !strings.HasPrefix(in.Path, "/") {
		return fmt.Errorf("%w: path must start with '/'", ErrInvalidCredential)
	}
	if in.Capacity < 0 {
		return fmt.Errorf("%w: capacity must be >= 1", ErrInvalidCredential)
	}
	if in.Ordinal < 0 {
		return fmt.Errorf("%w: ordinal must be >= 0", ErrInvalidCredential)
	}
	return nil
}

// ParseRawCredential accepts the "name=value" form operators paste from a browser.
func ParseRawCredential(raw string) (CredentialInput, error) {
	m := rawCredentialRegex.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return CredentialInput{}, fmt.Errorf("%w: expected name=value", ErrInvalidCredential)
	}
	in := CredentialInput{
		Name:  strings.TrimSpace(m[1]),
		Value: strings.TrimSpace(m[2]),
	}
	return in, in.Validate()
}

// build turns a validated input into a fresh pool record.
func (in CredentialInput) build(defaults Options, source string, ordinal int, now time.Time) model.Credential {
	c := model.Credential{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Value:     strings.TrimSpace(in.Value),
		Domain:    in.Domain,
		Path:      in.Path,
		Secure:    true,
		HTTPOnly:  in.HTTPOnly,
		Ordinal:   ordinal,
		Capacity:  in.Capacity,
		Holders:   []string{},
		Active:    true,
		ExpiresAt: in.ExpiresAt,
		Notes:     in.Notes,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Domain == "" {
		c.Domain = defaults.DefaultDomain
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if in.Secure != nil {
		c.Secure = *in.Secure
	}
	if c.Capacity == 0 {
		c.Capacity = defaults.DefaultCapacity
	}
	return c
}

// CredentialPatch is an operator edit. Holders, usage and last-use are not patchable.
type CredentialPatch struct {
	Name         *string    `json:"name,omitempty"`
	Value        *string    `json:"value,omitempty"`
	Domain       *string    `json:"domain,omitempty"`
	Path         *string    `json:"path,omitempty"`
	Secure       *bool      `json:"secure,omitempty"`
	HTTPOnly     *bool      `json:"httpOnly,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	ClearExpires bool       `json:"clearExpiresAt,omitempty"`
	Active       *bool      `json:"active,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	Capacity     *int       `json:"capacity,omitempty"`
	Ordinal      *int       `json:"ordinal,omitempty"`
}

func (p CredentialPatch) Validate() error {
	check := CredentialInput{Value: "x", Path: "/"}
	if p.Name != nil {
		check.Name = *p.Name
	}
	if p.Value != nil {
		check.Value = *p.Value
	}
	if p.Path != nil {
		check.Path = *p.Path
	}
	if p.Ordinal != nil {
		check.Ordinal = *p.Ordinal
	}
	if err := check.Validate(); err != nil {
		return err
	}
	if p.Capacity != nil && *p.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be >= 1", ErrInvalidCredential)
	}
	return nil
}

func (p CredentialPatch) apply(c *model.Credential) {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Value != nil {
		c.Value = strings.TrimSpace(*p.Value)
	}
	if p.Domain != nil {
		c.Domain = *p.Domain
	}
	if p.Path != nil {
		c.Path = *p.Path
	}
	if p.Secure != nil {
		c.Secure = *p.Secure
	}
	if p.HTTPOnly != nil {
		c.HTTPOnly = *p.HTTPOnly
	}
	if p.ClearExpires {
		c.ExpiresAt = nil
	} else if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.Capacity != nil {
		c.Capacity = *p.Capacity
	}
	if p.Ordinal != nil {
		c.Ordinal = *p.Ordinal
	}
}
