package ksync

import (
	"testing"

	"simplix/defs"
	"simplix/hwint"
	"simplix/proc"
)

func drive(t *testing.T) {
	t.Helper()
	g := hwint.Off()
	proc.ScheduleLocked()
	g.Restore()
}

func TestSemaDownUpNoBlock(t *testing.T) {
	proc.Init()
	s := NewSema(1)
	s.Down()
	if s.Value() != 0 {
		t.Fatalf("value = %d, want 0", s.Value())
	}
	s.Up()
	if s.Value() != 1 {
		t.Fatalf("value = %d, want 1", s.Value())
	}
}

// A Down against a zero-valued semaphore blocks the caller until a
// matching Up arrives; the waiter's own decrement happens only after it is
// re-scheduled, so the net value after both calls settles back to zero.
// S3-equivalent: a waiter parked on Down resumes after Up and observes the
// pre-Up value==0 without decrementing past it.
func TestSemaBlocksAndWakes(t *testing.T) {
	proc.Init()
	s := NewSema(0)

	acquired := false
	proc.KernelThread(func() {
		s.Down()
		acquired = true
		proc.Exit(0)
	})
	drive(t)
	if acquired {
		t.Fatal("Down returned before Up was ever called")
	}
	if s.Waiters() != 1 {
		t.Fatalf("waiters = %d, want 1", s.Waiters())
	}

	s.Up()
	// Up only marks the waiter runnable; it takes a reschedule point (a
	// tick boundary, in real use) to actually run it.
	for i := 0; i < proc.SchedTicks; i++ {
		proc.Tick()
	}
	if !acquired {
		t.Fatal("waiter did not resume after Up")
	}
	if s.Value() != 0 {
		t.Fatalf("value after wake = %d, want 0", s.Value())
	}
}

// FIFO waking (SPEC_FULL.md §8, property 7): wake order among multiple
// waiters on one semaphore.
func TestSemaFIFOWakeOrder(t *testing.T) {
	proc.Init()
	s := NewSema(0)
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		proc.KernelThread(func() {
			s.Down()
			order = append(order, i)
			proc.Exit(0)
		})
		drive(t)
	}
	if s.Waiters() != 3 {
		t.Fatalf("waiters = %d, want 3", s.Waiters())
	}

	for i := 0; i < 3; i++ {
		s.Up()
		for j := 0; j < proc.SchedTicks; j++ {
			proc.Tick()
		}
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("wake order = %v, want [0 1 2]", order)
	}
}

func TestMutexExcludes(t *testing.T) {
	proc.Init()
	m := NewMutex()
	m.Lock()

	entered := false
	proc.KernelThread(func() {
		m.Lock()
		entered = true
		m.Unlock()
		proc.Exit(0)
	})
	drive(t)
	if entered {
		t.Fatal("second locker entered critical section while mutex held")
	}

	m.Unlock()
	for i := 0; i < proc.SchedTicks; i++ {
		proc.Tick()
	}
	if !entered {
		t.Fatal("second locker never entered critical section after Unlock")
	}
}

func TestFreeReportsBusyWithWaiters(t *testing.T) {
	proc.Init()
	s := NewSema(0)
	proc.KernelThread(func() {
		s.Down()
		proc.Exit(0)
	})
	drive(t)
	if s.Free() != defs.Busy {
		t.Fatal("Free did not report Busy with an active waiter")
	}
}
