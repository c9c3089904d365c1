// Package acct accumulates per-task CPU usage. Unlike a real multiprocessor
// kernel with a cycle counter per core, this target has one CPU and a
// fixed tick rate, so usage is counted in whole ticks rather than
// nanoseconds; Utadd/Systadd still take a signed delta so a record can be
// corrected downward by passing a negative delta.
package acct

import "sync"

// Accnt_t accumulates one task's user and system tick counts. The embedded
// mutex lets Add and Fetch take a consistent snapshot.
type Accnt_t struct {
	Userticks int64
	Systicks  int64
	mu        sync.Mutex
}

// Utadd adds delta ticks to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	a.mu.Lock()
	a.Userticks += int64(delta)
	a.mu.Unlock()
}

// Systadd adds delta ticks to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	a.mu.Lock()
	a.Systicks += int64(delta)
	a.mu.Unlock()
}

// Add merges n's counts into a, for reaping a child's usage into its
// parent's on waitpid.
func (a *Accnt_t) Add(n *Accnt_t) {
	n.mu.Lock()
	u, s := n.Userticks, n.Systicks
	n.mu.Unlock()

	a.mu.Lock()
	a.Userticks += u
	a.Systicks += s
	a.mu.Unlock()
}

// Rusage is a point-in-time snapshot safe to hand to a caller outside the
// lock. There is no userspace address space to copy a wire-format rusage
// struct into on this target (paging VM is out of scope), so Fetch returns
// a plain struct rather than a serialized byte buffer.
type Rusage struct {
	UserTicks int64
	SysTicks  int64
}

// Fetch takes a consistent snapshot of a's counters.
func (a *Accnt_t) Fetch() Rusage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Rusage{UserTicks: a.Userticks, SysTicks: a.Systicks}
}
