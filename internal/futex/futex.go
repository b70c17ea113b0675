// Package futex provides a 32-bit atomic word with futex-style wait/notify.
//
// A waiter parks only while the word still holds the value it expects, and a
// notifier wakes it after changing the value. A notify that lands before the
// waiter parks is kept as a pending token, so the store-then-notify sequence
// can never lose a wakeup.
//
// Each Word supports a single parked waiter at a time. That is all the agent
// pool needs: only the agent that owns a slot ever waits on its flag.
package futex

import (
	"sync"
	"sync/atomic"
	"time"
)

// WaitResult mirrors the return codes of memory.atomic.wait32.
type WaitResult int32

const (
	// OK means the waiter was woken by a notify after the value changed.
	OK WaitResult = 0
	// NotEqual means the value did not match at call time.
	NotEqual WaitResult = 1
	// TimedOut means the timeout elapsed while the value still matched.
	TimedOut WaitResult = 2
)

func (r WaitResult) String() string {
	switch r {
	case OK:
		return "ok"
	case NotEqual:
		return "not-equal"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Forever is the timeout that makes Wait block until notified.
const Forever time.Duration = -1

// Word is an int32 that can be waited on. The zero value holds 0 and is ready
// to use.
type Word struct {
	v       atomic.Int32
	waiters atomic.Int32

	initOnce sync.Once
	wake     chan struct{}
}

// Load atomically reads the value.
func (w *Word) Load() int32 { return w.v.Load() }

// Store atomically writes the value. It does not wake anyone; call Notify.
func (w *Word) Store(v int32) { w.v.Store(v) }

// CompareAndSwap atomically replaces old with new.
func (w *Word) CompareAndSwap(old, new int32) bool { return w.v.CompareAndSwap(old, new) }

// Wait blocks while the value equals expected. A negative timeout waits
// forever.
func (w *Word) Wait(expected int32, timeout time.Duration) WaitResult {
	if w.v.Load() != expected {
		return NotEqual
	}
	ch := w.channel()

	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	w.waiters.Add(1)
	defer w.waiters.Add(-1)

	for w.v.Load() == expected {
		select {
		case <-ch:
			// A stale token from an earlier notify; re-check the value.
		case <-deadline:
			if w.v.Load() != expected {
				return OK
			}
			return TimedOut
		}
	}
	return OK
}

// Notify wakes the parked waiter, if any, and reports how many waiters were
// parked at the time of the call. The wake token is retained when nobody is
// parked yet.
func (w *Word) Notify() int {
	ch := w.channel()
	select {
	case ch <- struct{}{}:
	default:
		// A token is already pending.
	}
	return int(w.waiters.Load())
}

func (w *Word) channel() chan struct{} {
	w.initOnce.Do(func() { w.wake = make(chan struct{}, 1) })
	return w.wake
}
