package hub

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

type taskState int

const (
	stateParked taskState = iota // waiting for a switch, including before the first turn
	stateRunning
	stateDead
)

// result is what a parked task wakes up with: a value or an error, never
// both.
type result struct {
	val any
	err error
}

// Task is a green task. Its goroutine runs only while it holds the hub's
// baton.
type Task struct {
	id    uint64
	name  string
	hub   *Hub
	state taskState
	wakec chan result
}

// ID returns the task's hub-unique identity.
func (t *Task) ID() uint64 { return t.id }

// Name returns the name given at Spawn.
func (t *Task) Name() string { return t.name }

// Dead reports whether the task has ended.
func (t *Task) Dead() bool { return t.state == stateDead }

func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.id, t.name)
}

// Resume wakes t with a value. Only scheduler machinery may call it: code
// running on the hub's own turn, such as a scheduled callback, and only
// while t is parked.
func (t *Task) Resume(val any) {
	t.hub.switchTo(t, result{val: val})
}

// Throw wakes t by delivering err into its suspension point: the pending
// Suspend returns err. Same calling rules as Resume.
func (t *Task) Throw(err error) {
	t.hub.switchTo(t, result{err: err})
}

// Cancel arranges for err to be thrown into t on a later turn, if t is still
// parked by then. Unlike Throw it is safe to call from any running task.
func (t *Task) Cancel(err error) {
	t.hub.Schedule(func() {
		if t.state == stateParked {
			t.Throw(err)
		}
	})
}

// run is the task goroutine body: block until the hub switches in for the
// first time, run fn, and hand the baton back when fn returns or panics.
func (t *Task) run(fn func()) {
	if first := <-t.wakec; first.err != nil {
		// Cancelled before its first turn.
		t.finish(first.err)
		return
	}
	t.finish(t.invoke(fn))
}

func (t *Task) invoke(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	fn()
	return nil
}

func (t *Task) finish(err error) {
	if err != nil {
		log.Error().Uint64("task", t.id).Str("name", t.name).Err(err).Msg("Task died")
	} else {
		log.Trace().Uint64("task", t.id).Str("name", t.name).Msg("Task finished")
	}
	t.state = stateDead
	t.hub.yieldc <- yield{task: t, ended: true}
}
