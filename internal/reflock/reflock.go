// Package reflock provides a reference-counted lock with an exclusive mode.
//
// Any number of holders may take a shared reference. An exclusive holder
// waits until no references remain; while it waits, new shared references
// are still granted (only a held exclusive lock blocks them), so a steady
// stream of short readers can delay the writer. Callers that must let a
// pending writer in first use WaitIdle before taking their reference.
//
// The zero value is not usable; call New.
package reflock

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned to waiters once the lock has been closed.
var ErrClosed = errors.New("reflock: closed")

// Lock is a shared/exclusive lock built on a reference count.
type Lock struct {
	mu   sync.Mutex
	cond *sync.Cond

	usecnt      int  // shared references held
	locked      bool // exclusive lock held
	exclWaiters int  // goroutines blocked in AcquireExclusive
	closed      bool
}

// New returns an unlocked Lock.
func New() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Lock) broadcast() {
	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
}

// wait blocks on the condition until woken or ctx is done. l.mu must be held.
func (l *Lock) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.cond.Wait()
	if l.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// wanted reports whether an exclusive lock is held or being waited for.
func (l *Lock) wanted() bool {
	return l.locked || l.exclWaiters > 0
}

// AcquireExclusive takes the exclusive lock, waiting until it is free and
// every shared reference has been released.
func (l *Lock) AcquireExclusive(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.broadcast)
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if !l.locked && l.usecnt == 0 {
		l.locked = true
		return nil
	}

	l.exclWaiters++
	defer func() {
		l.exclWaiters--
		if l.exclWaiters == 0 {
			// WaitIdle callers may be waiting on the wanted flag alone.
			l.cond.Broadcast()
		}
	}()
	for {
		if err := l.wait(ctx); err != nil {
			return err
		}
		if !l.locked && l.usecnt == 0 {
			l.locked = true
			return nil
		}
	}
}

// ReleaseExclusive drops the exclusive lock. With incref the caller keeps a
// shared reference, downgrading atomically so no other exclusive holder can
// slip in between.
func (l *Lock) ReleaseExclusive(incref bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		panic("reflock: release of unlocked exclusive lock")
	}
	l.locked = false
	if incref {
		l.usecnt++
	}
	l.cond.Broadcast()
}

// AcquireShared takes a shared reference, waiting only while an exclusive
// lock is held.
func (l *Lock) AcquireShared(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked && !l.closed {
		l.usecnt++
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, l.broadcast)
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.locked || l.closed {
		if l.closed {
			return ErrClosed
		}
		if err := l.wait(ctx); err != nil {
			return err
		}
	}
	l.usecnt++
	return nil
}

// TryAcquireShared takes a shared reference if no exclusive lock is held.
func (l *Lock) TryAcquireShared() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked || l.closed {
		return false
	}
	l.usecnt++
	return true
}

// ReleaseShared drops a shared reference.
func (l *Lock) ReleaseShared() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.usecnt == 0 {
		panic("reflock: release of unheld shared reference")
	}
	l.usecnt--
	if l.usecnt == 0 && l.exclWaiters > 0 {
		l.cond.Broadcast()
	}
}

// WaitIdle blocks until no exclusive lock is held or wanted. It takes no
// reference; callers follow it with AcquireShared when they need one.
func (l *Lock) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.broadcast)
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.wanted() {
		if l.closed {
			return ErrClosed
		}
		if err := l.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// IsLocked reports whether the lock is held in either mode.
func (l *Lock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked || l.usecnt > 0
}

// HeldExclusive reports whether the exclusive lock is held.
func (l *Lock) HeldExclusive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Refs returns the number of shared references held.
func (l *Lock) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usecnt
}

// Close wakes every waiter with ErrClosed and makes later acquisitions
// fail. References already held stay valid and may still be released.
func (l *Lock) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}
