package hub

import (
	"container/heap"
	"time"
)

// Timer is a pending CallLater entry.
type Timer struct {
	when    time.Time
	fn      func()
	stopped bool
}

// Stop cancels the timer. It is a no-op once the timer has moved onto the
// run queue.
func (tm *Timer) Stop() { tm.stopped = true }

type timerHeap []*Timer

func (th timerHeap) Len() int            { return len(th) }
func (th timerHeap) Less(i, j int) bool  { return th[i].when.Before(th[j].when) }
func (th timerHeap) Swap(i, j int)       { th[i], th[j] = th[j], th[i] }
func (th *timerHeap) Push(x any) { *th = append(*th, x.(*Timer)) }

func (th *timerHeap) Pop() any {
	old := *th
	n := len(old)
	tm := old[n-1]
	old[n-1] = nil
	*th = old[:n-1]
	return tm
}

// CallLater schedules fn to run on the hub's own turn once d has elapsed.
// With d <= 0 the timer is due immediately but still fires no earlier than
// the next pass of the loop, after every already-queued callback.
func (h *Hub) CallLater(d time.Duration, fn func()) *Timer {
	tm := &Timer{when: h.clock.Now().Add(d), fn: fn}
	heap.Push(&h.timers, tm)
	return tm
}

// Sleep parks the current task for at least d. Sleep(0) yields one full
// scheduler turn, letting every queued callback and runnable task go first.
// It returns early with the delivered error if the task is thrown into
// while asleep.
func (h *Hub) Sleep(d time.Duration) error {
	t := h.current
	if t == nil {
		panic(ErrNoCurrentTask)
	}
	tm := h.CallLater(d, func() {
		if t.state == stateParked {
			t.Resume(nil)
		}
	})
	if _, err := h.Suspend(); err != nil {
		tm.Stop()
		return err
	}
	return nil
}

// fireTimers blocks the loop until the earliest deadline, then moves every
// due timer onto the run queue. Only called with a non-empty heap and an
// empty run queue.
func (h *Hub) fireTimers() {
	// Stopped timers must not hold the loop hostage until their deadline.
	for h.timers.Len() > 0 && h.timers[0].stopped {
		heap.Pop(&h.timers)
	}
	if h.timers.Len() == 0 {
		return
	}
	if d := h.timers[0].when.Sub(h.clock.Now()); d > 0 {
		tm := h.clock.Timer(d)
		<-tm.C
	}
	now := h.clock.Now()
	for h.timers.Len() > 0 && !h.timers[0].when.After(now) {
		tm := heap.Pop(&h.timers).(*Timer)
		if tm.stopped {
			continue
		}
		h.stats.TimersFired++
		h.Schedule(tm.fn)
	}
}
