package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/metrics"
	"github.com/Checker-Finance/credpool/internal/pool"
	"github.com/Checker-Finance/credpool/pkg/model"
)

// Config bounds one login loop. Zero values take the defaults.
type Config struct {
	MaxAttempts       int
	Backoff           time.Duration
	ActivationTimeout time.Duration
	// SkipCurrent makes every preview pass over the credential the identity
	// already holds.
	SkipCurrent    bool
	ProgressBuffer int
	// ProgressDrain bounds how long AttemptLogin waits for queued progress to
	// reach the callback before returning. Negative means do not wait.
	ProgressDrain time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	} else if c.Backoff == 0 {
		c.Backoff = DefaultBackoff
	}
	if c.ActivationTimeout <= 0 {
		c.ActivationTimeout = DefaultActivationTimeout
	}
	if c.ProgressBuffer <= 0 {
		c.ProgressBuffer = DefaultProgressBuffer
	}
	if c.ProgressDrain == 0 {
		c.ProgressDrain = DefaultProgressDrain
	}
	return c
}

// Orchestrator runs the bounded preview, activate, confirm loop. It holds no
// per-login state, so one instance serves any number of concurrent identities.
type Orchestrator struct {
	alloc     Allocator
	activator Activator
	cfg       Config
	logger    *zap.Logger
}

func New(alloc Allocator, activator Activator, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		alloc:     alloc,
		activator: activator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// loop is the transient context of one AttemptLogin call.
type loop struct {
	identity string
	attempt  int
	tried    []string
	notifier *Notifier
	max      int
	status   Status
}

func (l *loop) emit(status Status, ordinal int, code, msg string) {
	l.status = status
	l.notifier.Notify(Progress{
		Status:      status,
		Attempt:     l.attempt,
		MaxAttempts: l.max,
		Ordinal:     ordinal,
		ErrorCode:   code,
		Message:     msg,
	})
}

// AttemptLogin obtains a working credential for identity. onProgress may be
// nil; it runs on a separate goroutine and never stalls the loop.
func (o *Orchestrator) AttemptLogin(ctx context.Context, identity string, onProgress func(Progress)) Result {
	l := &loop{
		identity: identity,
		notifier: NewNotifier(onProgress, o.cfg.ProgressBuffer),
		max:      o.cfg.MaxAttempts,
		status:   StatusIdle,
	}
	res := o.run(ctx, l)
	if dropped := l.notifier.Close(o.cfg.ProgressDrain); dropped > 0 {
		o.logger.Warn("retry.progress.dropped",
			zap.String("identity", identity),
			zap.Int64("dropped", dropped))
	}
	metrics.LoginsTotal.WithLabelValues(resultStatus(res)).Inc()
	return res
}

func (o *Orchestrator) run(ctx context.Context, l *loop) Result {
	for l.attempt < l.max {
		if ctx.Err() != nil {
			return o.cancelled(l)
		}
		l.attempt++
		l.emit(StatusTrying, 0, "", fmt.Sprintf("Trying to sign in (attempt %d/%d)...", l.attempt, l.max))

		cand, err := o.alloc.Preview(ctx, l.identity, l.tried, o.cfg.SkipCurrent)
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelled(l)
			}
			if errors.Is(err, pool.ErrPoolExhausted) {
				// The preview found nothing, so this attempt never happened.
				l.attempt--
				return o.failed(l, pool.ErrPoolExhausted, "No credentials are available right now. Please try again later.")
			}
			o.logger.Warn("retry.preview.failed",
				zap.String("identity", l.identity),
				zap.Int("attempt", l.attempt),
				zap.Error(err))
			metrics.LoginAttemptsTotal.WithLabelValues("preview_error").Inc()
			if !o.next(ctx, l, 0, ReasonUnknown, "Could not reach the pool, retrying...") {
				return o.cancelled(l)
			}
			continue
		}

		outcome := o.activate(ctx, cand)
		if ctx.Err() != nil {
			// The credential's state is unknown, so it is neither confirmed nor reported.
			return o.cancelled(l)
		}

		if outcome.Success {
			confirmed, err := o.alloc.Confirm(ctx, l.identity, cand.ID)
			if err == nil {
				metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
				o.logger.Info("retry.login.success",
					zap.String("identity", l.identity),
					zap.String("credential", confirmed.ID),
					zap.Int("ordinal", confirmed.Ordinal),
					zap.Int("attempt", l.attempt))
				l.emit(StatusSuccess, confirmed.Ordinal, "", "Signed in.")
				return Result{Success: true, Credential: confirmed, Attempts: l.attempt, Message: "Signed in."}
			}
			if ctx.Err() != nil {
				return o.cancelled(l)
			}
			// Activation worked but the slot was lost; try elsewhere without blaming the credential.
			o.logger.Warn("retry.confirm.failed",
				zap.String("identity", l.identity),
				zap.String("credential", cand.ID),
				zap.Bool("stale", pool.Stale(err)),
				zap.Error(err))
			metrics.LoginAttemptsTotal.WithLabelValues("confirm_failed").Inc()
			l.tried = append(l.tried, cand.ID)
			if !o.next(ctx, l, cand.Ordinal, ReasonConfirmFailed,
				fmt.Sprintf("Credential #%d was taken, trying another...", cand.Ordinal)) {
				return o.cancelled(l)
			}
			continue
		}

		code := outcome.ErrorCode
		if strings.TrimSpace(code) == "" {
			code = ReasonUnknown
		}
		metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
		if err := o.alloc.ReportDead(ctx, cand.ID, code); err != nil {
			o.logger.Error("retry.report_dead.failed",
				zap.String("credential", cand.ID),
				zap.String("reason", code),
				zap.Error(err))
		}
		l.tried = append(l.tried, cand.ID)
		o.logger.Info("retry.attempt.failed",
			zap.String("identity", l.identity),
			zap.String("credential", cand.ID),
			zap.Int("ordinal", cand.Ordinal),
			zap.String("reason", code),
			zap.Int("attempt", l.attempt))
		if !o.next(ctx, l, cand.Ordinal, code,
			fmt.Sprintf("Credential #%d failed, trying another...", cand.Ordinal)) {
			return o.cancelled(l)
		}
	}
	return o.failed(l, ErrExhausted, "Every attempt failed. Please try again later.")
}

// activate runs the capability under the per-attempt deadline. A call that
// ignores its context is abandoned at the deadline.
func (o *Orchestrator) activate(ctx context.Context, cand *model.Credential) Outcome {
	actx, cancel := context.WithTimeout(ctx, o.cfg.ActivationTimeout)
	defer cancel()

	type reply struct {
		out Outcome
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		out, err := o.activator.Activate(actx, cand.ToActivation())
		ch <- reply{out, err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-actx.Done():
		r.err = actx.Err()
	}

	switch {
	case r.err == nil:
		return r.out
	case errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return Outcome{ErrorCode: ReasonActivationTimeout}
	default:
		if ctx.Err() == nil {
			o.logger.Warn("retry.activate.error",
				zap.String("credential", cand.ID),
				zap.Error(r.err))
		}
		return Outcome{ErrorCode: ReasonActivationError}
	}
}

// next emits the retrying transition and waits out the backoff. It reports
// false when the loop was cancelled during the wait. No wait follows the last attempt.
func (o *Orchestrator) next(ctx context.Context, l *loop, ordinal int, code, msg string) bool {
	if l.attempt >= l.max {
		return true
	}
	l.emit(StatusRetrying, ordinal, code, msg)
	if o.cfg.Backoff == 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(o.cfg.Backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) cancelled(l *loop) Result {
	o.logger.Info("retry.login.cancelled",
		zap.String("identity", l.identity),
		zap.String("from", string(l.status)),
		zap.Int("attempt", l.attempt))
	l.emit(StatusFailed, 0, "CANCELLED", "Sign-in was cancelled.")
	return Result{Attempts: l.attempt, Err: ErrCancelled, Message: "Sign-in was cancelled."}
}

func (o *Orchestrator) failed(l *loop, err error, msg string) Result {
	o.logger.Warn("retry.login.failed",
		zap.String("identity", l.identity),
		zap.Int("attempts", l.attempt),
		zap.Strings("tried", l.tried),
		zap.Error(err))
	l.emit(StatusFailed, 0, "", msg)
	return Result{Attempts: l.attempt, Err: err, Message: msg}
}

func resultStatus(r Result) string {
	switch {
	case r.Success:
		return "success"
	case errors.Is(r.Err, ErrCancelled):
		return "cancelled"
	case errors.Is(r.Err, pool.ErrPoolExhausted):
		return "exhausted"
	default:
		return "failed"
	}
}
