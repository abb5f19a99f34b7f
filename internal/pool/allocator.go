package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/metrics"
	"github.com/Checker-Finance/credpool/internal/store"
	"github.com/Checker-Finance/credpool/pkg/model"
	"github.com/Checker-Finance/credpool/pkg/utils"
)

// maxStaleRetries bounds re-reads when an identity's assignment moves between
// the ledger read and the transaction.
const maxStaleRetries = 8

// EventSink receives pool events after each committed mutation.
type EventSink interface {
	Publish(event model.PoolEvent)
}

type Options struct {
	DefaultCapacity int
	DefaultDomain   string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Allocator owns every mutation of the pool and the assignment ledger.
type Allocator struct {
	store  store.Store
	sink   EventSink
	logger *zap.Logger
	opts   Options
}

func NewAllocator(st store.Store, sink EventSink, logger *zap.Logger, opts Options) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Allocator{store: st, sink: sink, logger: logger, opts: opts}
}

func (a *Allocator) now() time.Time {
	return a.opts.Now().UTC()
}

// Preview picks the credential identityID would be given, without touching
// holders. Among active, unexpired credentials with spare capacity that are not
// excluded (and, with skipCurrent, not already held by the identity) it returns
// the lowest ordinal, then the lowest usage count.
func (a *Allocator) Preview(ctx context.Context, identityID string, exclude []string, skipCurrent bool) (*model.Credential, error) {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.AllocatorOpDuration, start, "preview")

	if identityID == "" {
		return nil, ErrInvalidIdentity
	}
	creds, err := a.store.ListCredentials(ctx)
	if err != nil {
		metrics.IncAllocatorOp("preview", "error")
		return nil, fmt.Errorf("preview: %w", err)
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	now := a.now()
	var best *model.Credential
	for i := range creds {
		c := &creds[i]
		if !c.Available(now) {
			continue
		}
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if skipCurrent && c.HasHolder(identityID) {
			continue
		}
		if best == nil || preferred(c, best) {
			best = c
		}
	}

	if best == nil {
		metrics.IncAllocatorOp("preview", "exhausted")
		a.logger.Warn("pool.preview.exhausted",
			zap.String("identity", identityID),
			zap.Int("excluded", len(excluded)))
		return nil, ErrPoolExhausted
	}

	metrics.IncAllocatorOp("preview", "ok")
	a.logger.Debug("pool.preview.candidate",
		zap.String("identity", identityID),
		zap.String("credential", best.ID),
		zap.Int("ordinal", best.Ordinal))
	out := best.Clone()
	return &out, nil
}

func preferred(c, than *model.Credential) bool {
	if c.Ordinal != than.Ordinal {
		return c.Ordinal < than.Ordinal
	}
	if c.UsageCount != than.UsageCount {
		return c.UsageCount < than.UsageCount
	}
	return c.ID < than.ID
}

// Confirm commits identityID onto credentialID after a successful activation.
// A different credential the identity held before is vacated and, when still
// active, retired as replaced since the identity only moves off it after it
// stopped working.
func (a *Allocator) Confirm(ctx context.Context, identityID, credentialID string) (*model.Credential, error) {
	return a.assign(ctx, "confirm", identityID, credentialID, true)
}

// Reassign moves identityID onto credentialID on operator request. The
// previous credential is vacated but stays active.
func (a *Allocator) Reassign(ctx context.Context, identityID, credentialID string) (*model.Credential, error) {
	return a.assign(ctx, "reassign", identityID, credentialID, false)
}

func (a *Allocator) assign(ctx context.Context, op, identityID, credentialID string, retirePrevious bool) (*model.Credential, error) {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.AllocatorOpDuration, start, op)

	if identityID == "" {
		return nil, ErrInvalidIdentity
	}

	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		ident, err := a.store.GetIdentity(ctx, identityID)
		if err != nil {
			metrics.IncAllocatorOp(op, "error")
			return nil, fmt.Errorf("%s: load identity: %w", op, err)
		}
		prev := ident.AssignedCredentialID
		ids := []string{credentialID}
		if prev != "" && prev != credentialID {
			ids = append(ids, prev)
		}

		var (
			result model.Credential
			events []model.PoolEvent
		)
		err = a.store.Update(ctx, identityID, ids, func(tx *store.Tx) error {
			events = events[:0]
			if tx.Identity.AssignedCredentialID != prev {
				return store.ErrStale
			}
			now := a.now()

			target, ok := tx.Credential(credentialID)
			if !ok {
				return ErrCredentialNotFound
			}
			if !target.Active {
				return ErrCredentialInactive
			}
			if target.Expired(now) {
				return ErrCredentialExpired
			}

			if !target.HasHolder(identityID) {
				if target.SpareCapacity() == 0 {
					return ErrCapacityExceeded
				}
				if prev != "" && prev != credentialID {
					if old, ok := tx.Credential(prev); ok {
						old.RemoveHolder(identityID)
						old.UpdatedAt = now
						if retirePrevious && old.Active {
							old.Active = false
							old.Notes = annotate("replaced", fmt.Sprintf("moved to #%d", target.Ordinal), now)
							events = append(events, a.event(model.EventReplaced, old, identityID, "REPLACED", now))
						}
					}
				}
				target.AddHolder(identityID)
				target.UsageCount++
				target.LastUsedAt = &now
				target.UpdatedAt = now
			} else if prev != "" && prev != credentialID {
				// Ledger pointed elsewhere while the identity already held the
				// target: drop the stray membership without judging it.
				if old, ok := tx.Credential(prev); ok {
					old.RemoveHolder(identityID)
					old.UpdatedAt = now
				}
			}

			if tx.Identity.AssignedCredentialID != credentialID {
				tx.Identity.AssignedCredentialID = credentialID
				tx.Identity.UpdatedAt = now
			}
			result = target.Clone()

			evType := model.EventConfirmed
			if op == "reassign" {
				evType = model.EventReassigned
			}
			events = append(events, a.event(evType, target, identityID, "", now))
			return nil
		})

		if errors.Is(err, store.ErrStale) {
			continue
		}
		if err != nil {
			metrics.IncAllocatorOp(op, resultLabel(err))
			a.logger.Warn("pool."+op+".rejected",
				zap.String("identity", identityID),
				zap.String("credential", credentialID),
				zap.Error(err))
			if Stale(err) {
				return nil, err
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		metrics.IncAllocatorOp(op, "ok")
		a.logger.Info("pool."+op+".success",
			zap.String("identity", identityID),
			zap.String("credential", credentialID),
			zap.Int("ordinal", result.Ordinal),
			zap.Int("holders", len(result.Holders)),
			zap.String("value", utils.MaskSecret(result.Value)),
			zap.String("previous", prev))
		a.publish(events...)
		return &result, nil
	}

	metrics.IncAllocatorOp(op, "conflict")
	return nil, fmt.Errorf("%s: %w", op, store.ErrConflict)
}

// ReportDead retires a credential after a failed activation. Holders are left
// in place; they move off it through Confirm or Release.
func (a *Allocator) ReportDead(ctx context.Context, credentialID, reason string) error {
	return a.deactivate(ctx, "dead", credentialID, reason, model.EventDead)
}

func (a *Allocator) deactivate(ctx context.Context, kind, credentialID, reason, eventType string) error {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.AllocatorOpDuration, start, kind)

	reason = normalizeReason(reason)
	var (
		ev         model.PoolEvent
		transition bool
	)
	err := a.store.Update(ctx, "", []string{credentialID}, func(tx *store.Tx) error {
		c, ok := tx.Credential(credentialID)
		if !ok {
			return ErrCredentialNotFound
		}
		now := a.now()
		transition = c.Active
		c.Active = false
		c.Notes = annotate(kind, reason, now)
		c.UpdatedAt = now
		ev = a.event(eventType, c, "", reason, now)
		return nil
	})
	if err != nil {
		metrics.IncAllocatorOp(kind, resultLabel(err))
		if errors.Is(err, ErrCredentialNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", kind, err)
	}

	metrics.IncAllocatorOp(kind, "ok")
	if transition {
		metrics.IncDead(reason)
	}
	a.logger.Info("pool."+kind+".marked",
		zap.String("credential", credentialID),
		zap.Int("ordinal", ev.Ordinal),
		zap.String("reason", reason),
		zap.Bool("transition", transition))
	a.publish(ev)
	return nil
}

// Release vacates whatever credential identityID holds. No-op when it holds nothing.
func (a *Allocator) Release(ctx context.Context, identityID string) error {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.AllocatorOpDuration, start, "release")

	if identityID == "" {
		return ErrInvalidIdentity
	}

	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		ident, err := a.store.GetIdentity(ctx, identityID)
		if err != nil {
			return fmt.Errorf("release: load identity: %w", err)
		}
		prev := ident.AssignedCredentialID
		if prev == "" {
			metrics.IncAllocatorOp("release", "noop")
			return nil
		}

		var ev *model.PoolEvent
		err = a.store.Update(ctx, identityID, []string{prev}, func(tx *store.Tx) error {
			ev = nil
			if tx.Identity.AssignedCredentialID != prev {
				return store.ErrStale
			}
			now := a.now()
			if c, ok := tx.Credential(prev); ok {
				c.RemoveHolder(identityID)
				c.UpdatedAt = now
				e := a.event(model.EventReleased, c, identityID, "", now)
				ev = &e
			}
			tx.Identity.AssignedCredentialID = ""
			tx.Identity.UpdatedAt = now
			return nil
		})
		if errors.Is(err, store.ErrStale) {
			continue
		}
		if err != nil {
			metrics.IncAllocatorOp("release", "error")
			return fmt.Errorf("release: %w", err)
		}

		metrics.IncAllocatorOp("release", "ok")
		a.logger.Info("pool.release.success",
			zap.String("identity", identityID),
			zap.String("credential", prev))
		if ev != nil {
			a.publish(*ev)
		}
		return nil
	}
	return fmt.Errorf("release: %w", store.ErrConflict)
}

// Get returns one credential.
func (a *Allocator) Get(ctx context.Context, credentialID string) (*model.Credential, error) {
	c, err := a.store.GetCredential(ctx, credentialID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCredentialNotFound
	}
	return c, err
}

// Assignment returns the credential identityID holds, or nil.
func (a *Allocator) Assignment(ctx context.Context, identityID string) (*model.Credential, error) {
	ident, err := a.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if ident.AssignedCredentialID == "" {
		return nil, nil
	}
	c, err := a.Get(ctx, ident.AssignedCredentialID)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, nil
	}
	return c, err
}

func (a *Allocator) event(eventType string, c *model.Credential, identityID, reason string, now time.Time) model.PoolEvent {
	return model.PoolEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		CredentialID: c.ID,
		IdentityID:   identityID,
		Ordinal:      c.Ordinal,
		Reason:       reason,
		Timestamp:    now,
	}
}

func (a *Allocator) publish(events ...model.PoolEvent) {
	if a.sink == nil {
		return
	}
	for _, ev := range events {
		a.sink.Publish(ev)
	}
}

func annotate(kind, reason string, now time.Time) string {
	return fmt.Sprintf("%s: %s @ %s", kind, reason, now.Format(time.RFC3339))
}

func normalizeReason(reason string) string {
	reason = strings.ToUpper(strings.TrimSpace(reason))
	if reason == "" {
		return "UNKNOWN"
	}
	return reason
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		return "not_found"
	case errors.Is(err, ErrCredentialInactive):
		return "inactive"
	case errors.Is(err, ErrCredentialExpired):
		return "expired"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrCredentialHeld):
		return "held"
	default:
		return "error"
	}
}
