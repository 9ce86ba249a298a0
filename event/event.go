// Package event provides a single-fire synchronization primitive for
// cooperative tasks: any number of tasks can wait for one result from
// another. An Event is similar to a queue that can only hold one item, but
// differs in two important ways:
//
//  1. Send never unschedules the sending task; waiters are woken on a later
//     scheduler turn.
//  2. Send can only be called once per arming; use Reset to prepare the
//     event for another Send.
//
// The package knows nothing about a concrete runtime. It talks to the
// surrounding scheduler through the Scheduler and Waiter ports, which the
// hub package satisfies.
package event

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Contract violations. These are raised with panic at the offending call
// site and are never delivered to waiters.
var (
	ErrAlreadyFired  = errors.New("event: send on an already-fired event")
	ErrNotFired      = errors.New("event: reset on an event that was never fired")
	ErrNoCurrentTask = errors.New("event: wait would suspend outside any task")
)

// Scheduler is the port into the surrounding cooperative runtime.
type Scheduler interface {
	// Schedule enqueues fn to run on a later scheduler turn. It must never
	// run fn synchronously within the call.
	Schedule(fn func())

	// Current returns the handle of the task the scheduler is running right
	// now, or nil when called from outside any task.
	Current() Waiter

	// Suspend parks the calling task until other code resumes it with a
	// value or throws an error into it, and returns whichever was delivered.
	Suspend() (any, error)
}

// Waiter is the opaque handle of a task suspended on an Event. Handles
// compare by task identity and are usable as map keys. Resume and Throw may
// only be invoked by scheduler machinery, while the task is suspended.
type Waiter interface {
	Resume(val any)
	Throw(err error)
}

type kind int

const (
	unset kind = iota // armed, nothing delivered yet
	value
	failure
)

// outcome is the delivery state. The kind discriminant keeps "never sent"
// distinguishable from a deliberately sent nil value.
type outcome struct {
	kind kind
	val  any
	err  error
}

// Event lets an arbitrary number of tasks wait for one result from another.
type Event struct {
	sched   Scheduler
	outcome outcome
	waiters map[Waiter]struct{}
}

// New returns an armed Event bound to the given scheduler.
func New(sched Scheduler) *Event {
	return &Event{sched: sched, waiters: make(map[Waiter]struct{})}
}

func (e *Event) String() string {
	switch e.outcome.kind {
	case value:
		return fmt.Sprintf("<Event value=%v waiters=%d>", e.outcome.val, len(e.waiters))
	case failure:
		return fmt.Sprintf("<Event error=%v waiters=%d>", e.outcome.err, len(e.waiters))
	default:
		return fmt.Sprintf("<Event unset waiters=%d>", len(e.waiters))
	}
}

// Ready reports whether Wait would return without suspending.
func (e *Event) Ready() bool { return e.outcome.kind != unset }

// HasResult reports whether a value has been delivered.
func (e *Event) HasResult() bool { return e.outcome.kind == value }

// HasException reports whether an error has been delivered.
func (e *Event) HasException() bool { return e.outcome.kind == failure }

// Wait blocks the calling task until another task calls Send, then returns
// the delivered value or error. If the event has already fired, Wait returns
// immediately without touching the scheduler, so it may be called repeatedly
// and from outside any task.
func (e *Event) Wait() (any, error) {
	if e.outcome.kind == unset {
		w := e.sched.Current()
		if w == nil {
			panic(ErrNoCurrentTask)
		}
		e.waiters[w] = struct{}{}
		// Dropped on every resumption path, including an error thrown in by
		// cancellation, so a stale sweep can never resume this task twice.
		defer delete(e.waiters, w)
		return e.sched.Suspend()
	}
	if e.outcome.kind == failure {
		return nil, e.outcome.err
	}
	return e.outcome.val, nil
}

// Poll returns what Wait would return if the event has fired, else notReady.
// It never suspends.
func (e *Event) Poll(notReady any) (any, error) {
	if e.Ready() {
		return e.Wait()
	}
	return notReady, nil
}

// PollResult returns the delivered value if one has been delivered, else
// notReady.
func (e *Event) PollResult(notReady any) any {
	if e.HasResult() {
		val, _ := e.Wait()
		return val
	}
	return notReady
}

// PollException returns the delivered error if one has been delivered, else
// notReady.
func (e *Event) PollException(notReady error) error {
	if e.HasException() {
		_, err := e.Wait()
		return err
	}
	return notReady
}

// Send delivers val to every current waiter and makes it available to every
// later Wait. It returns to its caller immediately: waiters are woken by a
// sweep on a later scheduler turn, so the sender always finishes its own
// turn first. Sending twice without a Reset in between panics with
// ErrAlreadyFired.
func (e *Event) Send(val any) {
	e.fire(outcome{kind: value, val: val})
}

// SendError is Send for an error payload. The error is ordinary data here:
// it is handed verbatim to every current and future waiter.
func (e *Event) SendError(err error) {
	e.fire(outcome{kind: failure, err: err})
}

func (e *Event) fire(out outcome) {
	if e.outcome.kind != unset {
		panic(ErrAlreadyFired)
	}
	e.outcome = out
	if len(e.waiters) == 0 {
		return
	}
	// Snapshot the waiter set and the outcome together. Tasks that start
	// waiting after this point take the immediate-return path in Wait, and a
	// Reset racing the sweep on a later turn cannot change what this
	// delivery wakes its waiters with.
	snapshot := make([]Waiter, 0, len(e.waiters))
	for w := range e.waiters {
		snapshot = append(snapshot, w)
	}
	log.Trace().Stringer("event", e).Int("waiters", len(snapshot)).Msg("Event fired, scheduling wake sweep")
	e.sched.Schedule(func() { e.sweep(out, snapshot) })
}

// sweep wakes the waiters captured at delivery time. It runs on its own
// scheduler turn, strictly after the sender's. A waiter that left the live
// set in the meantime (its wait was cancelled) is skipped.
func (e *Event) sweep(out outcome, snapshot []Waiter) {
	for _, w := range snapshot {
		if _, live := e.waiters[w]; !live {
			continue
		}
		if out.kind == failure {
			w.Throw(out.err)
		} else {
			w.Resume(out.val)
		}
	}
}

// Reset rearms a fired event so it can Send again. Resetting an event that
// has not fired panics with ErrNotFired. Waiters are untouched: by the time
// a reset is legitimate every prior waiter has already been swept.
func (e *Event) Reset() {
	if e.outcome.kind == unset {
		panic(ErrNotFired)
	}
	log.Trace().Stringer("event", e).Msg("Resetting event")
	e.outcome = outcome{}
}
