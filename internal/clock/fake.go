package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock. Time stands still until Advance is called.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline order,
// with the fake's lock released, so a callback may schedule further timers.
// Do not call Advance from within a callback.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	seq      int
	callback func()
	channel  chan time.Time
	stopped  bool
	fired    bool
}

// NewFake returns a Fake set to initial.
func NewFake(initial time.Time) *Fake {
	f := &Fake{current: initial}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// After returns a channel that receives once the clock passes now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.current
		return ch
	}
	f.addLocked(&waiter{deadline: f.current.Add(d), channel: ch})
	return ch
}

// AfterFunc schedules fn for now+d. If d <= 0, fn runs before AfterFunc returns.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	if d <= 0 {
		fn()
		return &fakeTimer{fake: f, w: &waiter{fired: true}}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w := &waiter{deadline: f.current.Add(d), callback: fn}
	f.addLocked(w)
	return &fakeTimer{fake: f, w: w}
}

func (f *Fake) addLocked(w *waiter) {
	w.seq = len(f.waiters)
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.current.Add(d)
	for {
		next := f.nextDueLocked(target)
		if next == nil {
			break
		}
		next.fired = true
		if next.deadline.After(f.current) {
			f.current = next.deadline
		}
		now := f.current
		f.mu.Unlock()
		if next.callback != nil {
			next.callback()
		} else {
			next.channel <- now
		}
		f.mu.Lock()
	}
	f.current = target
	f.compactLocked()
	f.mu.Unlock()
}

func (f *Fake) nextDueLocked(target time.Time) *waiter {
	var due []*waiter
	for _, w := range f.waiters {
		if !w.stopped && !w.fired && !w.deadline.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (f *Fake) compactLocked() {
	live := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	f.waiters = live
}

// PendingCount returns the number of timers that have not fired or been stopped.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

// WaitForTimers blocks until at least n timers are pending. It closes the
// race between a goroutine registering a timer and the test advancing.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	fake *Fake
	w    *waiter
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.w.stopped || t.w.fired {
		return false
	}
	t.w.stopped = true
	t.fake.changed.Broadcast()
	return true
}
