// Package limiter bounds concurrency with timed admission. Waiters are served
// first-come-first-served.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// WaitForever disables the admission timeout; only the caller's context bounds the wait.
const WaitForever time.Duration = -1

var ErrAdmissionTimeout = errors.New("admission timeout")

type Limiter struct {
	name     string
	capacity int64
	sem      *semaphore.Weighted
	held     atomic.Int64
	waiting  atomic.Int64
}

func New(name string, capacity int) (*Limiter, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("limiter %s: capacity must be positive, got %d", name, capacity)
	}
	return &Limiter{
		name:     name,
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}, nil
}

// Token is one held slot. Release is safe to call more than once; only the
// first call returns the slot.
type Token struct {
	owner      *Limiter
	acquiredAt time.Time
	waited     time.Duration
	once       sync.Once
}

func (t *Token) Release() {
	t.once.Do(func() {
		t.owner.held.Add(-1)
		t.owner.sem.Release(1)
	})
}

// Waited is how long the holder queued before admission.
func (t *Token) Waited() time.Duration { return t.waited }

func (t *Token) AcquiredAt() time.Time { return t.acquiredAt }

// Acquire obtains a slot. With timeout > 0 the wait is bounded and expiry
// yields ErrAdmissionTimeout. With timeout == 0 only a free slot is taken.
// With WaitForever the caller waits until ctx ends, and ctx's error is returned.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) (*Token, error) {
	start := time.Now()
	if timeout == 0 {
		if !l.sem.TryAcquire(1) {
			return nil, fmt.Errorf("%s: %w", l.name, ErrAdmissionTimeout)
		}
		return l.grant(start), nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrAdmissionTimeout)
		defer cancel()
	}

	l.waiting.Add(1)
	err := l.sem.Acquire(waitCtx, 1)
	l.waiting.Add(-1)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(waitCtx), ErrAdmissionTimeout) {
			return nil, fmt.Errorf("%s: %w after %s", l.name, ErrAdmissionTimeout, timeout)
		}
		return nil, err
	}
	return l.grant(start), nil
}

func (l *Limiter) grant(start time.Time) *Token {
	l.held.Add(1)
	now := time.Now()
	return &Token{owner: l, acquiredAt: now, waited: now.Sub(start)}
}

func (l *Limiter) Name() string { return l.name }

func (l *Limiter) Capacity() int { return int(l.capacity) }

// InUse is the number of tokens currently held.
func (l *Limiter) InUse() int { return int(l.held.Load()) }

// Waiting is the number of callers currently suspended in Acquire.
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }
