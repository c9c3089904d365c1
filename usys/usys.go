// Package usys is the syscall surface: the int 0x80 entry points
// re-expressed as Go functions over an explicit register-file Context,
// one function per syscall, dispatching into proc for the actual task
// operations. The trap gate that decodes int 0x80 into a Context and the
// privilege-switch assembly around it are an out-of-scope external
// collaborator, same as the GDT/IDT/LDT setup; usys starts at the point
// where a Context is already in hand.
package usys

import (
	"simplix/defs"
	"simplix/proc"
)

// Context mirrors the register file a syscall trap hands to the kernel:
// argument registers in the original's EBX/ECX/EDX convention, plus the
// return value slot the trap gate writes back into EAX.
type Context struct {
	EAX int64 // syscall number in, return value out
	EBX int64
	ECX int64
	EDX int64
}

// realtime is the wall clock Time/Stime read and write. An RTC driver
// (out of scope here) is what would keep it advancing; usys only
// exposes the get/set syscalls over it.
var realtime int64

// Exit terminates the calling task with the exit status in ctx.EBX. It
// never returns to the caller, matching do_exit/proc.Exit.
func Exit(ctx *Context) int64 {
	proc.Exit(int(ctx.EBX))
	return 0
}

// Fork is not wired to ctx: unlike the original, which duplicates the
// current task's kernel stack and data segment to produce a second
// return in the child, this module's Fork takes the child's body as an
// explicit closure (see proc.Fork) because Go cannot clone a live call
// stack. There is no register-file-only Fork syscall to expose; callers
// that want a child task call proc.Fork directly.

// Waitpid blocks until the child identified by ctx.EBX (or any child, if
// -1) exits, returning its pid and writing its exit status to
// ctx.ECX — the original writes the status through a validated user
// virtual address; with no paging VM, the status round-trips through
// the Context itself instead.
func Waitpid(ctx *Context) int64 {
	pid, status := proc.WaitPid(defs.Pid_t(ctx.EBX))
	ctx.ECX = int64(status)
	return int64(pid)
}

// Getpid returns the calling task's pid.
func Getpid(ctx *Context) int64 {
	return int64(proc.GetPid())
}

// Getppid returns the calling task's parent's pid.
func Getppid(ctx *Context) int64 {
	return int64(proc.GetPpid())
}

// Time returns the current wall-clock value.
func Time(ctx *Context) int64 {
	return realtime
}

// Stime sets the wall clock to ctx.EBX.
func Stime(ctx *Context) int64 {
	realtime = ctx.EBX
	return 0
}

// Sleep puts the calling task to sleep for ctx.EBX milliseconds. This
// syscall cannot fail.
func Sleep(ctx *Context) int64 {
	proc.Sleep(int(ctx.EBX))
	return 0
}

// Brk is a Non-goal stub: growing/shrinking a task's data segment is a
// paging-VM operation (explicit Non-goal), and this module's DataSeg is
// a fixed-size byte slice copied whole at fork time. Reports the current
// size and never grows it, which is the original's own fallback when a
// requested size can't be satisfied.
func Brk(ctx *Context) int64 {
	t := proc.Current()
	return int64(len(t.DataSeg))
}
