// Package ratelimit enforces per-identity and global request ceilings over
// fixed 60-second windows kept in a shared counter store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WindowSize is the length of one accounting window.
const WindowSize = 60 * time.Second

// AnonymousIdentity is used for requests without a caller identity.
const AnonymousIdentity = "anonymous"

// ErrRateLimited matches every LimitError.
var ErrRateLimited = errors.New("rate limit exceeded")

// Scope names the ceiling that rejected a request.
type Scope string

const (
	ScopeIdentity Scope = "identity"
	ScopeGlobal   Scope = "global"
)

// LimitError is returned by Admit when a ceiling is breached.
type LimitError struct {
	Scope Scope
	Count int64
	Limit int64
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (scope=%s count=%d limit=%d)", e.Scope, e.Count, e.Limit)
}

// Is lets errors.Is(err, ErrRateLimited) match any LimitError.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// CounterStore is the shared store the limiter counts in. Incr must be a
// single atomic increment-and-get.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Config holds the limiter ceilings.
type Config struct {
	UserLimit    int64
	GlobalLimit  int64
	SafetyMargin int64
	KeyPrefix    string
}

// DefaultConfig returns the default ceilings: 10 per identity, 100 global
// with a margin of 5.
func DefaultConfig() Config {
	return Config{UserLimit: 10, GlobalLimit: 100, SafetyMargin: 5, KeyPrefix: "rl"}
}

// Limiter admits or rejects requests. It holds no locks; all coordination
// happens through the store's atomic increment.
type Limiter struct {
	store CounterStore
	cfg   Config
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. Zero UserLimit, GlobalLimit and KeyPrefix take
// their defaults; a zero SafetyMargin is kept.
func New(store CounterStore, cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.UserLimit == 0 {
		cfg.UserLimit = def.UserLimit
	}
	if cfg.GlobalLimit == 0 {
		cfg.GlobalLimit = def.GlobalLimit
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective ceilings.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Window returns the window id for t and the time left until its boundary.
func Window(t time.Time) (int64, time.Duration) {
	now := t.Unix()
	return now / 60, time.Duration(60-now%60) * time.Second
}

// UserKey returns the per-identity counter key for a window.
func (l *Limiter) UserKey(identity string, window int64) string {
	return fmt.Sprintf("%s:user:%s:%d", l.cfg.KeyPrefix, normalizeIdentity(identity), window)
}

// GlobalKey returns the global counter key for a window.
func (l *Limiter) GlobalKey(window int64) string {
	return fmt.Sprintf("%s:global:%d", l.cfg.KeyPrefix, window)
}

// Admit counts one request for identity. It returns a *LimitError when the
// per-identity or global ceiling is breached. A request rejected on its
// identity ceiling never touches the global counter.
func (l *Limiter) Admit(ctx context.Context, identity string) error {
	window, remaining := Window(l.now())

	userCount, err := l.incrementWithExpiry(ctx, l.UserKey(identity, window), remaining)
	if err != nil {
		return err
	}
	if userCount > l.cfg.UserLimit {
		return &LimitError{Scope: ScopeIdentity, Count: userCount, Limit: l.cfg.UserLimit, RetryAfter: remaining}
	}

	globalCount, err := l.incrementWithExpiry(ctx, l.GlobalKey(window), remaining)
	if err != nil {
		return err
	}
	ceiling := l.cfg.GlobalLimit - l.cfg.SafetyMargin
	if globalCount > ceiling {
		return &LimitError{Scope: ScopeGlobal, Count: globalCount, Limit: ceiling, RetryAfter: remaining}
	}

	return nil
}

// incrementWithExpiry bumps key and sets its TTL only on the call that
// created it (the one that observed 1).
func (l *Limiter) incrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("rate limit increment %s: %w", key, err)
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, ttl); err != nil {
			return 0, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
	}
	return count, nil
}

func normalizeIdentity(identity string) string {
	if identity == "" {
		return AnonymousIdentity
	}
	return identity
}
