package core

// import_limiter.go bounds how many previews and executes run at once.
//
// Each import holds a whole file in memory and fans out into resolver
// workers, so unbounded parallel imports exhaust memory and store
// connections long before CPU. Callers wait up to maxWait for a slot and
// then fail with ErrTooManyImports. On shutdown, Close stops new admissions
// and WaitForDrain blocks until in-flight imports finish.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyImports is returned when all import slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// ErrLimiterClosed is returned once the service has begun shutting down.
var ErrLimiterClosed = errors.New("import service is shutting down")

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 10 * time.Second

// ImportLimiter is a counting semaphore over import slots.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
	closed  atomic.Bool
}

// NewImportLimiter allows at most maxConcurrent simultaneous imports.
// Non-positive arguments fall back to the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, maxWait elapses (ErrTooManyImports)
// or ctx ends (ctx.Err()). Every nil return must be paired with Release.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	if l.closed.Load() {
		return ErrLimiterClosed
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *ImportLimiter) TryAcquire() bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *ImportLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Do runs fn while holding a slot.
func (l *ImportLimiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Close stops admitting new imports. In-flight imports are unaffected.
func (l *ImportLimiter) Close() {
	l.closed.Store(true)
}

// ActiveCount returns the number of imports holding a slot.
func (l *ImportLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *ImportLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// Available returns the number of free slots.
func (l *ImportLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until no import holds a slot or ctx ends.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a point-in-time snapshot for health output.
type ImportLimiterStatus struct {
	Active        int  `json:"active"`
	Available     int  `json:"available"`
	MaxConcurrent int  `json:"maxConcurrent"`
	Closed        bool `json:"closed"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	return ImportLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
		Closed:        l.closed.Load(),
	}
}
