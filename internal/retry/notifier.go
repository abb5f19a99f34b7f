package retry

import (
	"sync/atomic"
	"time"
)

// Notifier delivers progress to a callback on its own goroutine. Notify never
// blocks: events are dropped when the buffer is full.
type Notifier struct {
	ch        chan Progress
	done      chan struct{}
	dropped   atomic.Int64
	abandoned atomic.Bool
}

// NewNotifier returns nil when fn is nil; a nil Notifier discards everything.
func NewNotifier(fn func(Progress), size int) *Notifier {
	if fn == nil {
		return nil
	}
	if size <= 0 {
		size = DefaultProgressBuffer
	}
	n := &Notifier{
		ch:   make(chan Progress, size),
		done: make(chan struct{}),
	}
	go func() {
		defer close(n.done)
		for p := range n.ch {
			if n.abandoned.Load() {
				n.dropped.Add(1)
				continue
			}
			fn(p)
		}
	}()
	return n
}

func (n *Notifier) Notify(p Progress) {
	if n == nil {
		return
	}
	select {
	case n.ch <- p:
	default:
		n.dropped.Add(1)
	}
}

// Close stops intake and waits up to wait for queued events to be delivered.
// A negative wait returns at once. Past the deadline the delivery goroutine is
// abandoned: it finishes the callback it is in and discards the rest. The
// returned count covers dropped events plus those still queued.
func (n *Notifier) Close(wait time.Duration) int64 {
	if n == nil {
		return 0
	}
	close(n.ch)
	if wait >= 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-n.done:
			return n.dropped.Load()
		case <-t.C:
		}
	}
	n.abandoned.Store(true)
	return n.dropped.Load() + int64(len(n.ch))
}
