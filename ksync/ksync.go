// Package ksync implements the kernel's two synchronization primitives: a
// counting semaphore with a FIFO waiter queue, and a mutex expressed as a
// semaphore with initial value 1. Neither may be called from interrupt
// context on the blocking path (Down/Lock); Up/Unlock is interrupt-safe and
// is the only mechanism an IRQ handler uses to wake a task.
package ksync

import (
	"simplix/defs"
	"simplix/hwint"
	"simplix/proc"
)

// Sema is a non-negative counting semaphore.
type Sema struct {
	value   int
	waiters []*proc.Task
}

func NewSema(v int) *Sema {
	if v < 0 {
		panic("ksync: negative initial semaphore value")
	}
	return &Sema{value: v}
}

// Down blocks the calling task until value is positive, then decrements
// it. The decrement happens strictly after the task has been re-woken and
// re-elected: by the time a waiter resumes, the matching Up has already
// incremented value, and the waiter's own decrement merely balances it.
// This is also what makes the "IRQ fires before the requester sleeps" race
// in the IDE driver resolve harmlessly (by the time the task calls Down,
// value is already >= 1 and it does not sleep).
func (s *Sema) Down() {
	g := hwint.Off()
	if s.value == 0 {
		t := proc.CurrentLocked()
		s.waiters = append(s.waiters, t)
		proc.SetUninterruptibleLocked(t)
		proc.ScheduleLocked()
		// ScheduleLocked parks us here until re-elected; hwint.L is held
		// again on return.
	}
	s.value--
	g.Restore()
}

// Up increments value and, if any task is waiting, wakes the one at the
// head of the FIFO queue. It does not itself reschedule: dispatch happens
// at the next schedule call.
func (s *Sema) Up() {
	g := hwint.Off()
	defer g.Restore()
	s.value++
	if len(s.waiters) > 0 {
		t := s.waiters[0]
		s.waiters = s.waiters[1:]
		proc.SetRunnableLocked(t)
	}
}

// Free reports whether the semaphore may be destroyed: the caller's own
// contract is to ensure no racing waiter can arrive between the check and
// the actual release (Design Notes §9b).
func (s *Sema) Free() defs.Err_t {
	g := hwint.Off()
	defer g.Restore()
	if len(s.waiters) > 0 {
		return defs.Busy
	}
	return defs.OK
}

// Value reports the current count, for tests.
func (s *Sema) Value() int {
	g := hwint.Off()
	defer g.Restore()
	return s.value
}

// Waiters reports the current waiter count, for tests.
func (s *Sema) Waiters() int {
	g := hwint.Off()
	defer g.Restore()
	return len(s.waiters)
}

// Mutex is a binary semaphore: Lock == Down, Unlock == Up, initial value 1.
type Mutex struct {
	s *Sema
}

func NewMutex() *Mutex {
	return &Mutex{s: NewSema(1)}
}

func (m *Mutex) Lock()   { m.s.Down() }
func (m *Mutex) Unlock() { m.s.Up() }
func (m *Mutex) Free() defs.Err_t {
	return m.s.Free()
}
