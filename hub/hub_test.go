package hub

import (
	"errors"
	"testing"
)

func TestRunCompletesSpawnedTasks(t *testing.T) {
	h := New()
	var order []string
	h.Spawn("first", func() { order = append(order, "first") })
	h.Spawn("second", func() { order = append(order, "second") })

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected both tasks to run in spawn order, got %v", order)
	}
	if h.Live() != 0 {
		t.Errorf("Expected no live tasks after Run, got %d", h.Live())
	}
	stats := h.Stats()
	if stats.Spawned != 2 || stats.Switches < 2 {
		t.Errorf("Expected counters to reflect two tasks, got %+v", stats)
	}
}

func TestScheduleNeverRunsSynchronously(t *testing.T) {
	h := New()
	ran := false
	h.Spawn("scheduler", func() {
		h.Schedule(func() { ran = true })
		if ran {
			t.Errorf("Expected the callback to be deferred past the Schedule call")
		}
	})

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if !ran {
		t.Errorf("Expected the scheduled callback to run before Run returned")
	}
}

func TestResumeFromCallback(t *testing.T) {
	h := New()
	var got any
	tk := h.Spawn("waiter", func() { got, _ = h.Suspend() })
	h.Spawn("resumer", func() {
		h.Schedule(func() { tk.Resume("hi") })
	})

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if got != "hi" {
		t.Errorf("Expected the suspended task to wake with hi, got %v", got)
	}
}

func TestThrowDeliversError(t *testing.T) {
	h := New()
	errWake := errors.New("wake up")
	var got error
	tk := h.Spawn("waiter", func() { _, got = h.Suspend() })
	h.Spawn("thrower", func() {
		h.Schedule(func() { tk.Throw(errWake) })
	})

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if got != errWake {
		t.Errorf("Expected the thrown error out of Suspend, got %v", got)
	}
}

func TestCancelParkedTask(t *testing.T) {
	h := New()
	errCancel := errors.New("cancelled")
	var got error
	tk := h.Spawn("stuck", func() { _, got = h.Suspend() })
	h.Spawn("canceller", func() { tk.Cancel(errCancel) })

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if got != errCancel {
		t.Errorf("Expected the cancellation error, got %v", got)
	}
	if !tk.Dead() {
		t.Errorf("Expected the cancelled task to have ended")
	}
}

func TestCancelDeadTaskIsNoop(t *testing.T) {
	h := New()
	tk := h.Spawn("quick", func() {})
	h.Spawn("canceller", func() { tk.Cancel(errors.New("too late")) })

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
}

func TestThrowBeforeFirstTurn(t *testing.T) {
	h := New()
	errEarly := errors.New("early")
	ran := false
	var tk *Task
	h.Schedule(func() { tk.Throw(errEarly) })
	tk = h.Spawn("doomed", func() { ran = true })

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if ran {
		t.Errorf("Expected the task body never to run")
	}
	if !tk.Dead() {
		t.Errorf("Expected the task to count as ended")
	}
}

func TestRunStallsWhenNothingCanWake(t *testing.T) {
	h := New()
	h.Spawn("stuck", func() { h.Suspend() })

	if err := h.Run(); err != ErrStalled {
		t.Errorf("Expected ErrStalled, got %v", err)
	}
}

func TestResumeFromTaskIsRefused(t *testing.T) {
	h := New()
	tk := h.Spawn("waiter", func() { h.Suspend() })
	// A running task may not switch directly into another task; the panic
	// kills only the offender, leaving the waiter parked for good.
	h.Spawn("offender", func() { tk.Resume("stolen baton") })

	if err := h.Run(); err != ErrStalled {
		t.Errorf("Expected ErrStalled after the refused switch, got %v", err)
	}
	if tk.Dead() {
		t.Errorf("Expected the waiter to stay parked")
	}
}

func TestTaskPanicIsContained(t *testing.T) {
	h := New()
	survived := false
	h.Spawn("bomb", func() { panic("kaboom") })
	h.Spawn("survivor", func() { survived = true })

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if !survived {
		t.Errorf("Expected the second task to run despite the panic")
	}
}

func TestSpawnFromTask(t *testing.T) {
	h := New()
	var order []string
	h.Spawn("parent", func() {
		order = append(order, "parent")
		h.Spawn("child", func() { order = append(order, "child") })
	})

	if err := h.Run(); err != nil {
		t.Fatalf("Expected a clean run, got %v", err)
	}
	if len(order) != 2 || order[1] != "child" {
		t.Errorf("Expected the child to run after the parent, got %v", order)
	}
}
