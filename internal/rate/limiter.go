package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines rate limiting parameters for one key (identity or client).
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown keeps a key blocked for this long after it was refused.
	Cooldown time.Duration
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu        sync.Mutex
	tokens    float64
	last      time.Time
	rate      float64
	burst     float64
	cooldown  time.Duration
	lastBlock time.Time
	now       func() time.Time
}

// New creates a new limiter with a full bucket.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		tokens:   float64(cfg.Burst),
		last:     time.Now(),
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(cfg.Burst),
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.cooldown > 0 && !l.lastBlock.IsZero() && now.Sub(l.lastBlock) < l.cooldown {
		return false
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return true
	}

	if l.cooldown > 0 {
		l.lastBlock = now
	}
	return false
}

// RetryAfter reports how long until Allow can next succeed. Zero means now.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	if l.cooldown > 0 && !l.lastBlock.IsZero() {
		if left := l.cooldown - now.Sub(l.lastBlock); left > 0 {
			wait = left
		}
	}

	tokens := l.tokens + now.Sub(l.last).Seconds()*l.rate
	if tokens < 1 {
		if l.rate <= 0 {
			return maxWaitStep
		}
		if refill := time.Duration((1 - tokens) / l.rate * float64(time.Second)); refill > wait {
			wait = refill
		}
	}
	return wait
}

const (
	minWaitStep = 5 * time.Millisecond
	maxWaitStep = time.Second
)

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		step := l.RetryAfter()
		if step < minWaitStep {
			step = minWaitStep
		}
		if step > maxWaitStep {
			step = maxWaitStep
		}
		t := time.NewTimer(step)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per key.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Wait blocks until key may proceed.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Allow reports whether key may proceed now, without waiting.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// RetryAfter reports how long key has to wait before it may proceed.
func (m *Manager) RetryAfter(key string) time.Duration {
	return m.GetLimiter(key).RetryAfter()
}
