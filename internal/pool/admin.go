package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/metrics"
	"github.com/Checker-Finance/credpool/internal/store"
	"github.com/Checker-Finance/credpool/pkg/model"
)

// ImportError describes one rejected import row (1-based).
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportResult struct {
	Success     int                `json:"success"`
	Failed      int                `json:"failed"`
	Errors      []ImportError      `json:"errors"`
	Credentials []model.Credential `json:"credentials"`
}

// Import validates and inserts credentials row by row; a bad row does not
// abort the batch.
func (a *Allocator) Import(ctx context.Context, inputs []CredentialInput, source string) (ImportResult, error) {
	res := ImportResult{Errors: []ImportError{}, Credentials: []model.Credential{}}
	if source == "" {
		source = "manual"
	}
	if !validSources[source] {
		return res, fmt.Errorf("%w: unknown source %q", ErrInvalidCredential, source)
	}

	for i, in := range inputs {
		row := i + 1
		if err := in.Validate(); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ImportError{Row: row, Error: err.Error()})
			continue
		}
		ordinal := in.Ordinal
		if ordinal == 0 {
			n, err := a.store.NextOrdinal(ctx)
			if err != nil {
				return res, fmt.Errorf("import row %d: %w", row, err)
			}
			ordinal = n
		} else if err := a.store.ReserveOrdinal(ctx, ordinal); err != nil {
			return res, fmt.Errorf("import row %d: %w", row, err)
		}
		now := a.now()
		c := in.build(a.opts, source, ordinal, now)
		if c.Notes == "" && source == "import" {
			c.Notes = fmt.Sprintf("imported row %d", row)
		}
		err := a.store.Update(ctx, "", []string{c.ID}, func(tx *store.Tx) error {
			tx.Put(c)
			return nil
		})
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ImportError{Row: row, Error: err.Error()})
			continue
		}
		res.Success++
		res.Credentials = append(res.Credentials, c)
		a.publish(a.event(model.EventImported, &c, "", source, now))
	}

	metrics.IncAllocatorOp("import", "ok")
	a.logger.Info("pool.import.completed",
		zap.String("source", source),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed))
	return res, nil
}

// Update applies an operator patch.
func (a *Allocator) Update(ctx context.Context, credentialID string, patch CredentialPatch) (*model.Credential, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var out model.Credential
	err := a.store.Update(ctx, "", []string{credentialID}, func(tx *store.Tx) error {
		c, ok := tx.Credential(credentialID)
		if !ok {
			return ErrCredentialNotFound
		}
		patch.apply(c)
		if c.Capacity < len(c.Holders) {
			return ErrCapacityBelowHolders
		}
		c.UpdatedAt = a.now()
		out = c.Clone()
		return nil
	})
	if err != nil {
		metrics.IncAllocatorOp("update", resultLabel(err))
		return nil, err
	}
	metrics.IncAllocatorOp("update", "ok")
	a.logger.Info("pool.update.success", zap.String("credential", credentialID))
	a.publish(a.event(model.EventUpdated, &out, "", "", out.UpdatedAt))
	return &out, nil
}

// Retire deactivates a credential on operator request.
func (a *Allocator) Retire(ctx context.Context, credentialID, reason string) error {
	return a.deactivate(ctx, "retired", credentialID, reason, model.EventRetired)
}

// Delete removes a credential with no holders.
func (a *Allocator) Delete(ctx context.Context, credentialID string) error {
	var gone model.Credential
	err := a.store.Update(ctx, "", []string{credentialID}, func(tx *store.Tx) error {
		c, ok := tx.Credential(credentialID)
		if !ok {
			return ErrCredentialNotFound
		}
		if len(c.Holders) > 0 {
			return ErrCredentialHeld
		}
		gone = c.Clone()
		tx.Delete(credentialID)
		return nil
	})
	if err != nil {
		metrics.IncAllocatorOp("delete", resultLabel(err))
		return err
	}
	metrics.IncAllocatorOp("delete", "ok")
	a.logger.Info("pool.delete.success", zap.String("credential", credentialID))
	a.publish(a.event(model.EventDeleted, &gone, "", "", a.now()))
	return nil
}

// Vacate releases every holder of a credential and returns how many were removed.
func (a *Allocator) Vacate(ctx context.Context, credentialID string) (int, error) {
	c, err := a.Get(ctx, credentialID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, holder := range c.Holders {
		var ev *model.PoolEvent
		err := a.store.Update(ctx, holder, []string{credentialID}, func(tx *store.Tx) error {
			ev = nil
			cur, ok := tx.Credential(credentialID)
			if !ok {
				return ErrCredentialNotFound
			}
			if !cur.RemoveHolder(holder) {
				return nil
			}
			now := a.now()
			cur.UpdatedAt = now
			if tx.Identity.AssignedCredentialID == credentialID {
				tx.Identity.AssignedCredentialID = ""
				tx.Identity.UpdatedAt = now
			}
			e := a.event(model.EventReleased, cur, holder, "VACATED", now)
			ev = &e
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("vacate %s: %w", holder, err)
		}
		if ev != nil {
			removed++
			a.publish(*ev)
		}
	}
	a.logger.Info("pool.vacate.success",
		zap.String("credential", credentialID),
		zap.Int("removed", removed))
	return removed, nil
}

// Status filters for List.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusAvailable = "available"
	StatusUsed      = "used"
	StatusExpired   = "expired"
)

type ListFilter struct {
	Status string
	Search string
	Page   int
	Limit  int
}

type ListResult struct {
	Credentials []model.Credential `json:"credentials"`
	Total       int                `json:"total"`
	Page        int                `json:"page"`
	Limit       int                `json:"limit"`
	Pages       int                `json:"pages"`
	Stats       model.PoolStats    `json:"stats"`
}

// List pages through the pool in ordinal order.
func (a *Allocator) List(ctx context.Context, f ListFilter) (ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 500 {
		f.Limit = 50
	}
	creds, err := a.store.ListCredentials(ctx)
	if err != nil {
		return ListResult{}, err
	}
	now := a.now()
	search := strings.ToLower(strings.TrimSpace(f.Search))

	matched := make([]model.Credential, 0, len(creds))
	for _, c := range creds {
		if !matchStatus(&c, f.Status, now) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Notes), search) &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(c.ID, search) {
			continue
		}
		matched = append(matched, c)
	}

	res := ListResult{
		Total:       len(matched),
		Page:        f.Page,
		Limit:       f.Limit,
		Pages:       int(math.Ceil(float64(len(matched)) / float64(f.Limit))),
		Stats:       computeStats(creds, now),
		Credentials: []model.Credential{},
	}
	lo := (f.Page - 1) * f.Limit
	if lo < len(matched) {
		hi := min(lo+f.Limit, len(matched))
		res.Credentials = matched[lo:hi]
	}
	return res, nil
}

func matchStatus(c *model.Credential, status string, now time.Time) bool {
	switch status {
	case "":
		return true
	case StatusActive:
		return c.Active
	case StatusInactive:
		return !c.Active
	case StatusAvailable:
		return c.Available(now)
	case StatusUsed:
		return len(c.Holders) > 0
	case StatusExpired:
		return c.Expired(now)
	default:
		return false
	}
}

// Stats summarises the pool and refreshes the pool gauges.
func (a *Allocator) Stats(ctx context.Context) (model.PoolStats, error) {
	creds, err := a.store.ListCredentials(ctx)
	if err != nil {
		return model.PoolStats{}, err
	}
	s := computeStats(creds, a.now())
	metrics.SetPoolStats(s)
	return s, nil
}

func computeStats(creds []model.Credential, now time.Time) model.PoolStats {
	var s model.PoolStats
	for i := range creds {
		c := &creds[i]
		s.Total++
		if c.Active {
			s.Active++
			s.Capacity += c.Capacity
		}
		if c.Available(now) {
			s.Available++
		}
		if len(c.Holders) > 0 {
			s.Used++
		}
		if c.Expired(now) {
			s.Expired++
		}
		s.Holders += len(c.Holders)
	}
	return s
}

// SweepExpired retires active credentials past their expiry.
func (a *Allocator) SweepExpired(ctx context.Context) (int, error) {
	creds, err := a.store.ListCredentials(ctx)
	if err != nil {
		return 0, err
	}
	now := a.now()
	retired := 0
	for i := range creds {
		c := &creds[i]
		if !c.Active || !c.Expired(now) {
			continue
		}
		err := a.deactivate(ctx, "expired", c.ID, "EXPIRED", model.EventExpired)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return retired, err
		}
		retired++
	}
	return retired, nil
}
