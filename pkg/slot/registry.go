// Package slot issues and redeems the one-time upload tokens.
package slot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/messages"
)

// Gate reports whether downstream capacity is exhausted. The result cache
// implements it.
type Gate interface {
	Full() bool
}

// Observer is notified when the number of pending slots changes.
type Observer interface {
	SetPendingSlots(n int)
}

// Registry holds the set of issued, not yet submitted upload tokens.
type Registry struct {
	mu       sync.Mutex
	pending  map[string]time.Time // token -> issued at
	ttl      time.Duration
	gate     Gate
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
	newToken func() (string, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL expires slots that were not submitted within ttl. Zero keeps slots
// until they are consumed.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithObserver reports the pending slot count after every change.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTokenSource overrides token generation.
func WithTokenSource(fn func() (string, error)) Option {
	return func(r *Registry) { r.newToken = fn }
}

// NewRegistry creates an empty registry admitting new slots while gate is not
// full. A nil gate never rejects.
func NewRegistry(gate Gate, logger *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		pending:  make(map[string]time.Time),
		gate:     gate,
		logger:   logger,
		now:      time.Now,
		newToken: newUUIDv6,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newUUIDv6() (string, error) {
	id, err := uuid.NewV6()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Issue mints a new token and records it as pending. It fails with a queue
// full error when the gate is saturated.
func (r *Registry) Issue() (string, error) {
	if r.gate != nil && r.gate.Full() {
		return "", apperrors.NewQueueFullError(messages.RespQueueFull)
	}

	token, err := r.newToken()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrInternal, "unable to allocate upload slot")
	}

	r.mu.Lock()
	r.pending[token] = r.now()
	n := len(r.pending)
	r.mu.Unlock()

	r.report(n)
	r.logger.Debug(messages.MsgSlotIssued, "token", token, "pending", n)
	return token, nil
}

// Pending reports whether token is issued, unexpired and not yet consumed.
func (r *Registry) Pending(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	issued, ok := r.pending[token]
	return ok && !r.expired(issued)
}

// Consume removes token from the pending set. It returns true exactly once per
// issued token and false for unknown, reused or expired tokens.
func (r *Registry) Consume(token string) bool {
	r.mu.Lock()
	issued, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	n := len(r.pending)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.report(n)
	if r.expired(issued) {
		return false
	}
	r.logger.Debug(messages.MsgSlotConsumed, "token", token, "pending", n)
	return true
}

// Len returns the number of outstanding slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Sweep drops slots issued more than ttl before now and returns how many were
// removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	removed := 0
	for token, issued := range r.pending {
		if now.Sub(issued) >= r.ttl {
			delete(r.pending, token)
			removed++
		}
	}
	n := len(r.pending)
	r.mu.Unlock()

	if removed > 0 {
		r.report(n)
		r.logger.Debug(messages.MsgSlotsSwept, "removed", removed, "pending", n)
	}
	return removed
}

// Run sweeps expired slots until ctx is cancelled. It returns immediately when
// slot expiry is disabled.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}

	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug(messages.MsgSlotSweepStop)
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// expired must be called with r.mu held or on a value already removed.
func (r *Registry) expired(issued time.Time) bool {
	return r.ttl > 0 && r.now().Sub(issued) >= r.ttl
}

func (r *Registry) report(n int) {
	if r.observer != nil {
		r.observer.SetPendingSlots(n)
	}
}
