// Package proc implements task lifecycle and the round-robin scheduler.
//
// A "task" here is a goroutine plus a Task descriptor. Only one task's
// goroutine ever runs kernel code at a time: ScheduleLocked elects a task,
// wakes it by broadcasting its own sync.Cond, and parks the previously
// running goroutine by waiting on ITS OWN Cond — both bound to hwint.L, the
// same lock that stands in for "interrupts disabled". A brand-new task's
// goroutine parks in the analogous wait loop until first elected. Because
// exactly one goroutine is ever unparked, reading the package-level current
// pointer without an explicit "self" argument is safe.
package proc

import (
	"sync"

	"simplix/acct"
	"simplix/defs"
	"simplix/hwint"
)

type State int

const (
	Runnable State = iota
	InterruptibleSleep
	UninterruptibleSleep
	Dead
)

const (
	// timeslice bounds and refresh increment, from the original scheduler.
	MaxTimeslice       = 150
	TimesliceIncrement = 30
	// SchedTicks is how many timer ticks elapse between reschedule points.
	SchedTicks = 10
	// InitialTimeslice is the slice every new non-idle task starts with.
	InitialTimeslice = 100
)

// Task is one schedulable kernel thread of control.
type Task struct {
	Pid       defs.Pid_t
	Ppid      defs.Pid_t
	State     State
	Timeslice int
	CPUTime   int
	Timeout   int // ticks remaining on a Sleep(), 0 if none
	ExitCode  int

	// DataSeg stands in for a task's private data segment: Fork copies it
	// into the child so S4 (fork/data isolation) has something concrete to
	// assert on.
	DataSeg []byte

	Acct *acct.Accnt_t

	cond   *sync.Cond
	reaped bool
}

var (
	tasks   []*Task
	current *Task
	idle    *Task
	nextPid defs.Pid_t = defs.InitTaskPid
	ticks   int
)

// Init creates the idle task and makes it current. Must run before any
// other proc call.
func Init() {
	g := hwint.Off()
	defer g.Restore()

	tasks = nil
	idle = &Task{Pid: defs.IdleTaskPid, State: Runnable, cond: sync.NewCond(&hwint.L), Acct: &acct.Accnt_t{}}
	tasks = append(tasks, idle)
	current = idle
	nextPid = defs.InitTaskPid
	ticks = 0
}

// allocPid linearly probes upward from the last assigned pid, wrapping at
// MaxPid back to InitTaskPid, skipping any pid still held by a task in the
// global list (including a Dead task awaiting reap — its pid stays live
// until WaitPid actually removes it). Caller must hold hwint.L.
func allocPid() defs.Pid_t {
	for {
		if nextPid < defs.MaxPid {
			nextPid++
		} else {
			nextPid = defs.InitTaskPid
		}
		collision := false
		for _, t := range tasks {
			if t.Pid == nextPid {
				collision = true
				break
			}
		}
		if !collision {
			return nextPid
		}
	}
}

// newTaskLocked builds a Task descriptor for pid/ppid and appends it to the
// global task list. Caller must hold hwint.L.
func newTaskLocked(pid, ppid defs.Pid_t) *Task {
	t := &Task{
		Pid:       pid,
		Ppid:      ppid,
		State:     Runnable,
		Timeslice: InitialTimeslice,
		cond:      sync.NewCond(&hwint.L),
		Acct:      &acct.Accnt_t{},
	}
	tasks = append(tasks, t)
	return t
}

// KernelThread creates a new task running fn and returns its pid. The task
// is runnable immediately; it begins executing fn only once ScheduleLocked
// elects it. Always allocates its pid through allocPid's probe, unlike
// Fork, which special-cases the very first task created from idle.
func KernelThread(fn func()) defs.Pid_t {
	g := hwint.Off()
	parent := currentLocked()
	t := newTaskLocked(allocPid(), parent.Pid)
	g.Restore()

	go runTask(t, fn)
	return t.Pid
}

// runTask is the goroutine body backing every task but idle. It parks until
// first elected, runs fn, then exits with status 0 unless fn already called
// Exit itself (Exit never returns, so this line only reaches for fn that
// returns normally).
func runTask(t *Task, fn func()) {
	hwint.L.Lock()
	for current != t {
		t.cond.Wait()
	}
	hwint.L.Unlock()

	fn()
	Exit(0)
}

// Fork starts child as a new task sharing the caller's DataSeg by value
// copy (Go cannot duplicate a live goroutine stack the way a real fork
// duplicates an address space, so the child's body is an explicit closure
// rather than a second return from one call, per the documented
// adaptation). Returns the child's pid.
func Fork(child func()) defs.Pid_t {
	g := hwint.Off()
	parent := currentLocked()
	childData := make([]byte, len(parent.DataSeg))
	copy(childData, parent.DataSeg)

	// A fork performed by the idle task gets the reserved init pid
	// directly, rather than through allocPid's probe, guaranteeing init
	// has a known pid even though it is the very first task ever forked.
	var pid defs.Pid_t
	if parent.Pid == defs.IdleTaskPid {
		pid = defs.InitTaskPid
	} else {
		pid = allocPid()
	}
	t := newTaskLocked(pid, parent.Pid)
	t.DataSeg = childData
	g.Restore()

	go runTask(t, child)
	return t.Pid
}

// Exit marks the calling task dead, records its status, reparents its
// surviving children onto init (InitTaskPid), wakes any task blocked in WaitPid (a spurious
// wake is harmless: WaitPid re-checks its condition and sleeps again if it
// still doesn't hold), and reschedules. It never returns: the goroutine
// parks forever afterward (ScheduleLocked never re-elects a Dead task), to
// be garbage collected once unreferenced.
func Exit(status int) {
	g := hwint.Off()
	t := currentLocked()
	t.State = Dead
	t.ExitCode = status
	for _, c := range tasks {
		if c.Ppid == t.Pid {
			c.Ppid = defs.InitTaskPid
		}
	}
	for _, w := range tasks {
		if w.State == InterruptibleSleep {
			w.State = Runnable
		}
	}
	ScheduleLocked()
	g.Restore()

	hwint.L.Lock()
	for {
		t.cond.Wait()
	}
}

// WaitPid blocks until a child of the calling task with the given pid (or
// any child, if pid is -1) exits, reaps it, and returns its pid and exit
// status. Reaping removes the task from the global list. Returns (-1, 0)
// if the calling task has no matching child at all.
func WaitPid(pid defs.Pid_t) (defs.Pid_t, int) {
	g := hwint.Off()
	parent := currentLocked()

	var target *Task
	for {
		target = nil
		anyMatch := false
		for _, c := range tasks {
			if c == parent || c.Ppid != parent.Pid || c.reaped || (pid != -1 && c.Pid != pid) {
				continue
			}
			anyMatch = true
			if c.State == Dead {
				target = c
				break
			}
		}
		if target != nil {
			break
		}
		if !anyMatch {
			g.Restore()
			return -1, 0
		}
		parent.State = InterruptibleSleep
		ScheduleLocked()
	}

	target.reaped = true
	status := target.ExitCode
	childPid := target.Pid
	parent.Acct.Add(target.Acct)
	removeTask(target)
	g.Restore()
	return childPid, status
}

func removeTask(t *Task) {
	for i, x := range tasks {
		if x == t {
			tasks = append(tasks[:i], tasks[i+1:]...)
			return
		}
	}
}

// Sleep blocks the calling task for approximately msec milliseconds,
// modeled as ticks (1 tick == 1ms, matching the original PIT configuration
// at HZ=1000): each Tick call counts one millisecond off the timeout.
func Sleep(msec int) {
	g := hwint.Off()
	t := currentLocked()
	t.Timeout = msec
	t.State = UninterruptibleSleep
	for t.Timeout > 0 {
		ScheduleLocked()
	}
	t.State = Runnable
	g.Restore()
}

func currentLocked() *Task {
	return current
}

// CurrentLocked returns the running task. Caller must hold hwint.L.
func CurrentLocked() *Task { return currentLocked() }

// Current returns the running task, taking hwint.L itself.
func Current() *Task {
	g := hwint.Off()
	defer g.Restore()
	return current
}

// GetPid and GetPpid read the calling goroutine's own task, which is always
// current by construction while it runs kernel code.
func GetPid() defs.Pid_t  { return Current().Pid }
func GetPpid() defs.Pid_t { return Current().Ppid }

// SetRunnableLocked and SetUninterruptibleLocked are the two state
// transitions ksync drives directly; exported because semaphore wake/sleep
// crosses the package boundary. Caller must hold hwint.L.
func SetRunnableLocked(t *Task) {
	if t.State != Dead {
		t.State = Runnable
	}
}

func SetUninterruptibleLocked(t *Task) {
	t.State = UninterruptibleSleep
}

// ScheduleLocked implements the scheduler's election algorithm and performs
// the "context switch". Caller must hold hwint.L; it is held again when
// ScheduleLocked returns, possibly after the calling goroutine has spent an
// arbitrary amount of real time parked.
//
// Primary scan: the first Runnable, non-idle task with strictly the
// greatest positive Timeslice. Secondary scan, only if no task qualifies:
// every non-idle task's Timeslice is bumped by TimesliceIncrement (capped
// at MaxTimeslice), and the LAST Runnable non-idle task encountered in that
// scan is elected — an intentional scan-order asymmetry carried over
// unchanged (see design notes: "unspecified" tie-break behavior).
// Otherwise idle runs.
func ScheduleLocked() {
	next := electLocked()
	if next == current {
		return
	}
	prev := current
	current = next
	next.cond.Broadcast()
	if prev.State == Dead {
		// prev's goroutine parks forever in Exit; nothing to wait for here.
		return
	}
	prev.cond.Wait()
}

func electLocked() *Task {
	var best *Task
	for _, t := range tasks {
		if t == idle || t.State != Runnable {
			continue
		}
		if t.Timeslice > 0 && (best == nil || t.Timeslice > best.Timeslice) {
			best = t
		}
	}
	if best != nil {
		return best
	}

	var last *Task
	for _, t := range tasks {
		if t == idle {
			continue
		}
		if t.State == Runnable {
			t.Timeslice += TimesliceIncrement
			if t.Timeslice > MaxTimeslice {
				t.Timeslice = MaxTimeslice
			}
			last = t
		}
	}
	if last != nil {
		return last
	}
	return idle
}

// Tick is the timer-interrupt analogue: called once per simulated clock
// tick. It decrements the running task's timeslice, counts down sleeping
// tasks' timeouts waking them at zero, and reschedules every SchedTicks
// ticks.
func Tick() {
	g := hwint.Off()
	defer g.Restore()

	ticks++
	if current != idle {
		current.CPUTime++
		current.Acct.Utadd(1)
		if current.Timeslice > 0 {
			current.Timeslice--
		}
	}
	for _, t := range tasks {
		if t.State == UninterruptibleSleep && t.Timeout > 0 {
			t.Timeout--
			if t.Timeout == 0 {
				t.State = Runnable
			}
		}
	}
	if ticks%SchedTicks == 0 {
		ScheduleLocked()
	}
}
