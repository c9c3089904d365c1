// Package hwint models the kernel's one locking discipline: "hardware
// interrupts disabled". On the real uniprocessor target this is a single
// EFLAGS bit; here it is a single shared mutex that every subsystem's
// mutator acquires around its own critical section.
//
// Unlike disable_hwint/restore_hwint, this guard is not reentrant: Go's
// sync.Mutex deadlocks on self-relock. Subsystems must not call into another
// subsystem's self-locking API while already holding the guard; instead,
// release it before calling down into a lower layer and, if needed,
// reacquire briefly afterward. Because only one goroutine is ever actually
// running kernel code at a time in this model (every other task is parked
// on its own sync.Cond), that release/reacquire window is unobservable.
package hwint

import "sync"

var L sync.Mutex

// Guard is the token returned by Off; call Restore exactly once to release
// the guard.
type Guard struct{}

// Off disables interrupts: it acquires the global guard and returns a
// token whose Restore call releases it.
func Off() Guard {
	L.Lock()
	return Guard{}
}

// Restore re-enables interrupts by releasing the global guard.
func (Guard) Restore() {
	L.Unlock()
}
