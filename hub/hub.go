// Package hub implements a strictly single-threaded cooperative scheduler:
// a run queue of callbacks, a timer heap, and green tasks that run one at a
// time. It satisfies the Scheduler and Waiter ports of the event package.
//
// Tasks are backed by goroutines but serialized by a baton: at any instant
// either the hub loop or exactly one task is running, so no state transition
// can be preempted between a check and a mutation.
package hub

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"greenev/event"
)

var (
	// ErrStalled is returned by Run when live tasks remain parked but the
	// run queue and the timer heap are both empty, so nothing can ever wake
	// them.
	ErrStalled = errors.New("hub: all tasks parked with nothing scheduled")

	// ErrNoCurrentTask is the panic value of Suspend and Sleep when called
	// from outside any task.
	ErrNoCurrentTask = errors.New("hub: no task is running on this hub")

	// ErrNotHubTurn is the panic value of Resume and Throw when called while
	// a task is running. Switching into a task is reserved for scheduler
	// machinery: callbacks run by the hub loop itself.
	ErrNotHubTurn = errors.New("hub: switch attempted outside the hub's own turn")

	// ErrNotParked is the panic value of Resume and Throw when the target
	// task cannot accept a switch.
	ErrNotParked = errors.New("hub: switch into a task that is not parked")
)

// Stats are cumulative counters over the life of the hub.
type Stats struct {
	Spawned     uint64 // tasks created
	Switches    uint64 // baton handoffs into tasks
	Callbacks   uint64 // scheduled callbacks run
	TimersFired uint64 // timers moved onto the run queue
}

// Hub drives tasks, callbacks and timers from a single goroutine.
type Hub struct {
	clock   clock.Clock
	runq    []func()
	timers  timerHeap
	current *Task
	yieldc  chan yield
	live    int
	nextID  uint64
	stats   Stats
}

// yield is what a task hands back with the baton: either it parked or it
// ended.
type yield struct {
	task  *Task
	ended bool
}

// New returns a hub on the wall clock.
func New() *Hub {
	return NewWithClock(clock.New())
}

// NewWithClock returns a hub whose timers read c, typically a mock in tests.
func NewWithClock(c clock.Clock) *Hub {
	return &Hub{clock: c, yieldc: make(chan yield)}
}

var _ event.Scheduler = (*Hub)(nil)

// Spawn creates a green task running fn. The task gets its first turn on a
// later turn of the hub loop; until then it counts as parked and may already
// be cancelled.
func (h *Hub) Spawn(name string, fn func()) *Task {
	h.nextID++
	t := &Task{
		id:    h.nextID,
		name:  name,
		hub:   h,
		state: stateParked,
		wakec: make(chan result),
	}
	h.live++
	h.stats.Spawned++
	log.Trace().Uint64("task", t.id).Str("name", t.name).Msg("Spawning task")
	go t.run(fn)
	h.Schedule(func() {
		if t.state == stateParked {
			h.switchTo(t, result{})
		}
	})
	return t
}

// Schedule enqueues fn to run on a later turn of the hub loop. It never runs
// fn within the call, even when invoked from the loop itself.
func (h *Hub) Schedule(fn func()) {
	h.runq = append(h.runq, fn)
}

// Current returns the handle of the running task, or nil from outside any
// task.
func (h *Hub) Current() event.Waiter {
	if h.current == nil {
		return nil
	}
	return h.current
}

// Suspend parks the calling task until a switch hands it a value or an
// error. It must be called from a running task.
func (h *Hub) Suspend() (any, error) {
	t := h.current
	if t == nil {
		panic(ErrNoCurrentTask)
	}
	t.state = stateParked
	h.yieldc <- yield{task: t}
	r := <-t.wakec
	return r.val, r.err
}

// Run drives the loop on the calling goroutine until every task has ended.
// It returns ErrStalled if parked tasks remain that no callback or timer can
// ever wake.
func (h *Hub) Run() error {
	log.Trace().Msg("Hub loop starting")
	for {
		if len(h.runq) > 0 {
			q := h.runq
			h.runq = nil
			for _, fn := range q {
				h.stats.Callbacks++
				fn()
			}
			continue
		}
		if h.live == 0 {
			log.Trace().Msg("Hub loop finished")
			return nil
		}
		if h.timers.Len() > 0 {
			h.fireTimers()
			continue
		}
		log.Error().Int("parked", h.live).Msg("Hub stalled")
		return ErrStalled
	}
}

// Live returns the number of tasks that have been spawned and not yet ended.
func (h *Hub) Live() int { return h.live }

// Stats returns a copy of the hub's counters.
func (h *Hub) Stats() Stats { return h.stats }

// switchTo hands the baton to a parked task and blocks until that task parks
// again or ends. It may only run on the hub's own turn.
func (h *Hub) switchTo(t *Task, r result) {
	if h.current != nil {
		panic(ErrNotHubTurn)
	}
	if t.state != stateParked {
		panic(ErrNotParked)
	}
	h.stats.Switches++
	h.current = t
	t.state = stateRunning
	t.wakec <- r
	y := <-h.yieldc
	h.current = nil
	if y.ended {
		h.live--
	}
}
