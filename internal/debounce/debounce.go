// Package debounce collapses bursts of calls into one execution after a
// quiet period.
package debounce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/confchat/internal/clock"
)

// DefaultDelay is used when New is given a non-positive delay.
const DefaultDelay = 500 * time.Millisecond

var (
	// ErrSuperseded is delivered to a scheduled call replaced by a newer
	// one before its delay elapsed.
	ErrSuperseded = errors.New("debounce: superseded by a newer call")
	// ErrCancelled is delivered to a scheduled call dropped by Cancel.
	ErrCancelled = errors.New("debounce: cancelled")
)

// Op is the debounced operation.
type Op[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one scheduled call.
type Result[T any] struct {
	Value T
	Err   error
}

type call[T any] struct {
	ctx     context.Context
	op      Op[T]
	done    chan Result[T]
	timer   clock.Timer
	stopCtx func() bool
}

func (c *call[T]) settle(r Result[T]) {
	if c.stopCtx != nil {
		c.stopCtx()
	}
	c.done <- r
}

// Executor runs at most one scheduled operation per quiet period. Only the
// most recently scheduled operation runs; earlier pending ones resolve
// with ErrSuperseded.
type Executor[T any] struct {
	delay time.Duration
	clock clock.Clock

	mu       sync.Mutex
	pending  *call[T]
	inflight int
	err      error
}

// New returns an Executor with the given quiet period.
func New[T any](delay time.Duration, c clock.Clock) *Executor[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Executor[T]{delay: delay, clock: clock.OrReal(c)}
}

// Schedule replaces any pending call with op, to run once the delay passes
// without another Schedule. The returned channel receives exactly one Result.
func (e *Executor[T]) Schedule(ctx context.Context, op Op[T]) <-chan Result[T] {
	c := &call[T]{ctx: ctx, op: op, done: make(chan Result[T], 1)}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropPendingLocked(ErrSuperseded)
	e.pending = c
	c.stopCtx = context.AfterFunc(ctx, func() { e.abandon(c, ctx.Err()) })
	c.timer = e.clock.AfterFunc(e.delay, func() { e.fire(c) })
	return c.done
}

// Execute schedules op and waits for its result.
func (e *Executor[T]) Execute(ctx context.Context, op Op[T]) (T, error) {
	r := <-e.Schedule(ctx, op)
	return r.Value, r.Err
}

// ExecuteImmediate drops any pending call and runs op now.
func (e *Executor[T]) ExecuteImmediate(ctx context.Context, op Op[T]) (T, error) {
	c := &call[T]{ctx: ctx, op: op, done: make(chan Result[T], 1)}

	e.mu.Lock()
	e.dropPendingLocked(ErrSuperseded)
	e.startLocked()
	e.mu.Unlock()

	e.run(c)
	r := <-c.done
	return r.Value, r.Err
}

// Cancel drops the pending call, if any. Calls already running are not
// interrupted; cancel their context instead.
func (e *Executor[T]) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropPendingLocked(ErrCancelled)
}

// IsLoading reports whether a call is scheduled or running.
func (e *Executor[T]) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil || e.inflight > 0
}

// Err returns the error of the last failed run, cleared when the next run starts.
func (e *Executor[T]) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Executor[T]) ClearError() {
	e.mu.Lock()
	e.err = nil
	e.mu.Unlock()
}

func (e *Executor[T]) dropPendingLocked(reason error) {
	p := e.pending
	if p == nil {
		return
	}
	e.pending = nil
	p.timer.Stop()
	p.settle(Result[T]{Err: reason})
}

func (e *Executor[T]) startLocked() {
	e.inflight++
	e.err = nil
}

func (e *Executor[T]) fire(c *call[T]) {
	e.mu.Lock()
	if e.pending != c {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	e.startLocked()
	e.mu.Unlock()

	e.run(c)
}

func (e *Executor[T]) run(c *call[T]) {
	v, err := c.op(c.ctx)

	e.mu.Lock()
	e.inflight--
	if err != nil {
		e.err = err
	}
	e.mu.Unlock()

	c.settle(Result[T]{Value: v, Err: err})
}

// abandon resolves a still-pending call whose context ended.
func (e *Executor[T]) abandon(c *call[T], err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != c {
		return
	}
	e.pending = nil
	c.timer.Stop()
	c.done <- Result[T]{Err: err}
}
