package api

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxExclude    = 100
	maxImportRows = 1000
	maxAutoAssign = 500
)

var reasonRegex = regexp.MustCompile(`^[A-Za-z0-9_.\- ]{0,64}$`)

func (r PreviewRequest) Validate() error {
	if len(r.Exclude) > maxExclude {
		return fmt.Errorf("exclude accepts at most %d ids", maxExclude)
	}
	for _, id := range r.Exclude {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("exclude must not contain empty ids")
		}
	}
	return nil
}

func (r ConfirmRequest) Validate() error {
	if strings.TrimSpace(r.CredentialID) == "" {
		return fmt.Errorf("credentialId is required")
	}
	return nil
}

func (r DeadRequest) Validate() error {
	if strings.TrimSpace(r.CredentialID) == "" {
		return fmt.Errorf("credentialId is required")
	}
	if !reasonRegex.MatchString(r.ErrorCode) {
		return fmt.Errorf("errorCode must be at most 64 letters, digits, '_', '-', '.' or spaces")
	}
	return nil
}

func (r ImportRequest) Validate() error {
	n := len(r.Credentials) + len(r.Raw)
	if n == 0 {
		return fmt.Errorf("credentials or raw is required")
	}
	if n > maxImportRows {
		return fmt.Errorf("at most %d rows per import", maxImportRows)
	}
	return nil
}

func (r RetireRequest) Validate() error {
	if !reasonRegex.MatchString(r.Reason) {
		return fmt.Errorf("reason must be at most 64 letters, digits, '_', '-', '.' or spaces")
	}
	return nil
}

func (r AssignRequest) Validate() error {
	if strings.TrimSpace(r.IdentityID) == "" {
		return fmt.Errorf("identityId is required")
	}
	return nil
}

func (r AutoAssignRequest) Validate() error {
	if len(r.IdentityIDs) == 0 {
		return fmt.Errorf("identityIds is required")
	}
	if len(r.IdentityIDs) > maxAutoAssign {
		return fmt.Errorf("at most %d identities per request", maxAutoAssign)
	}
	return nil
}
