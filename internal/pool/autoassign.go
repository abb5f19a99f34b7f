package pool

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/metrics"
)

// maxAutoAssignRaces bounds how often one identity chases a candidate that
// filled up between preview and assignment.
const maxAutoAssignRaces = 3

const (
	AutoAssigned = "assigned"
	AutoSkipped  = "skipped"
	AutoFailed   = "failed"
)

// AutoAssignDetail is the outcome for one identity.
type AutoAssignDetail struct {
	IdentityID   string `json:"identityId"`
	Status       string `json:"status"`
	CredentialID string `json:"credentialId,omitempty"`
	Ordinal      int    `json:"ordinal,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type AutoAssignResult struct {
	Assigned int                `json:"assigned"`
	Skipped  int                `json:"skipped"`
	Failed   int                `json:"failed"`
	Details  []AutoAssignDetail `json:"details"`
}

// AutoAssign places every listed identity that holds nothing onto the
// credential Preview would pick for it. Identities that already hold a
// credential are skipped. Placement does not activate anything, so it goes
// through Reassign and never retires a credential.
func (a *Allocator) AutoAssign(ctx context.Context, identityIDs []string) (AutoAssignResult, error) {
	res := AutoAssignResult{Details: make([]AutoAssignDetail, 0, len(identityIDs))}
	seen := make(map[string]struct{}, len(identityIDs))

	for _, raw := range identityIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			res.add(AutoAssignDetail{IdentityID: raw, Status: AutoFailed, Reason: ErrInvalidIdentity.Error()})
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			return res, err
		}
		held, err := a.Assignment(ctx, id)
		if err != nil {
			return res, err
		}
		if held != nil {
			res.add(AutoAssignDetail{IdentityID: id, Status: AutoSkipped, CredentialID: held.ID, Ordinal: held.Ordinal, Reason: "already assigned"})
			continue
		}

		detail, err := a.autoAssignOne(ctx, id)
		if err != nil {
			return res, err
		}
		res.add(detail)
	}

	metrics.IncAllocatorOp("auto_assign", "ok")
	a.logger.Info("pool.auto_assign.completed",
		zap.Int("assigned", res.Assigned),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (a *Allocator) autoAssignOne(ctx context.Context, identityID string) (AutoAssignDetail, error) {
	var lost []string
	for race := 0; race <= maxAutoAssignRaces; race++ {
		cand, err := a.Preview(ctx, identityID, lost, false)
		if errors.Is(err, ErrPoolExhausted) {
			return AutoAssignDetail{IdentityID: identityID, Status: AutoFailed, Reason: "no available slots"}, nil
		}
		if err != nil {
			return AutoAssignDetail{}, err
		}
		cred, err := a.Reassign(ctx, identityID, cand.ID)
		if err == nil {
			return AutoAssignDetail{IdentityID: identityID, Status: AutoAssigned, CredentialID: cred.ID, Ordinal: cred.Ordinal}, nil
		}
		if !Stale(err) {
			return AutoAssignDetail{}, err
		}
		lost = append(lost, cand.ID)
	}
	return AutoAssignDetail{IdentityID: identityID, Status: AutoFailed, Reason: "candidates kept filling up"}, nil
}

func (r *AutoAssignResult) add(d AutoAssignDetail) {
	switch d.Status {
	case AutoAssigned:
		r.Assigned++
	case AutoSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Details = append(r.Details, d)
}
