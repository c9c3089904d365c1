package proc

import (
	"sync"
	"testing"

	"simplix/acct"
	"simplix/defs"
	"simplix/hwint"
)

// drive advances the scheduler from the calling goroutine's perspective,
// which stands in for the idle task until some other task becomes current.
func drive(t *testing.T) {
	t.Helper()
	g := hwint.Off()
	ScheduleLocked()
	g.Restore()
}

func TestKernelThreadRunsToCompletion(t *testing.T) {
	Init()
	var ran bool
	KernelThread(func() { ran = true })
	drive(t)
	if !ran {
		t.Fatal("kernel thread body did not run")
	}
}

// S4: fork a child, exit it with a status, wait for it and observe the
// status; the child's DataSeg is a private copy of the parent's.
func TestForkExitWaitPid(t *testing.T) {
	Init()
	cur := Current()
	cur.DataSeg = []byte{1, 2, 3}

	var childSawData []byte
	pid := Fork(func() {
		childSawData = Current().DataSeg
		childSawData[0] = 0xff
		Exit(42)
	})
	drive(t)

	if len(childSawData) != 3 || childSawData[0] != 0xff || childSawData[1] != 2 {
		t.Fatalf("child did not see a copy of parent DataSeg: %v", childSawData)
	}
	if cur.DataSeg[0] != 1 {
		t.Fatalf("fork mutated parent DataSeg: %v", cur.DataSeg)
	}

	gotPid, status := WaitPid(pid)
	if gotPid != pid {
		t.Fatalf("WaitPid returned pid %d, want %d", gotPid, pid)
	}
	if status != 42 {
		t.Fatalf("WaitPid returned status %d, want 42", status)
	}
}

// Exit must reparent its live children onto init rather than leaving them
// permanently orphaned. Three generations: outer (forked from idle, so it
// is init) forks mid, mid forks leaf and exits immediately (while outer is
// still alive), so leaf's Ppid must become init's pid, not stay pinned to
// dead mid's.
func TestExitReparentsChildrenOntoGrandparent(t *testing.T) {
	Init()
	var midPid, leafPid defs.Pid_t
	outerPid := Fork(func() {
		midPid = Fork(func() {
			leafPid = Fork(func() {
				Sleep(1_000_000)
			})
			Exit(9)
		})
		Sleep(1_000_000)
	})
	drive(t)

	var mid, leaf *Task
	for _, tk := range tasks {
		switch tk.Pid {
		case midPid:
			mid = tk
		case leafPid:
			leaf = tk
		}
	}
	if mid == nil || mid.State != Dead {
		t.Fatal("mid task should be dead, awaiting reap")
	}
	if leaf == nil {
		t.Fatalf("leaf task (pid %d) not found", leafPid)
	}
	if leaf.Ppid != outerPid {
		t.Fatalf("leaf.Ppid = %d after mid exited, want %d (init)", leaf.Ppid, outerPid)
	}
}

func TestWaitPidNoChildren(t *testing.T) {
	Init()
	pid, status := WaitPid(-1)
	if pid != -1 || status != 0 {
		t.Fatalf("WaitPid with no children = (%d, %d), want (-1, 0)", pid, status)
	}
}

func TestWaitPidBlocksUntilChildExits(t *testing.T) {
	Init()
	pid := Fork(func() {
		Exit(7)
	})
	// Don't drive the scheduler yet: the child hasn't run. WaitPid must
	// itself reschedule until the child exits, rather than return early.
	gotPid, status := WaitPid(pid)
	if gotPid != pid || status != 7 {
		t.Fatalf("WaitPid = (%d, %d), want (%d, 7)", gotPid, status, pid)
	}
}

func TestTickDecrementsRunningTimeslice(t *testing.T) {
	Init()
	g := hwint.Off()
	fake := &Task{Pid: 99, State: Runnable, Timeslice: 5, cond: sync.NewCond(&hwint.L), Acct: &acct.Accnt_t{}}
	tasks = append(tasks, fake)
	current = fake
	g.Restore()

	Tick()
	if fake.Timeslice != 4 {
		t.Fatalf("Timeslice after one tick = %d, want 4", fake.Timeslice)
	}
	if fake.CPUTime != 1 {
		t.Fatalf("CPUTime after one tick = %d, want 1", fake.CPUTime)
	}
}

func TestTickDoesNotDecrementIdle(t *testing.T) {
	Init()
	before := idle.Timeslice
	Tick()
	if idle.Timeslice != before || idle.CPUTime != 0 {
		t.Fatal("Tick accounted CPU time to the idle task")
	}
}

func TestAcctMergesOnReap(t *testing.T) {
	Init()
	pid := Fork(func() {
		g := hwint.Off()
		CurrentLocked().Acct.Utadd(5)
		g.Restore()
		Exit(0)
	})
	drive(t)
	WaitPid(pid)

	parent := Current()
	if got := parent.Acct.Fetch().UserTicks; got != 5 {
		t.Fatalf("parent user ticks after reap = %d, want 5", got)
	}
}

func TestSleepWakesAfterTimeout(t *testing.T) {
	Init()
	woke := false
	KernelThread(func() {
		Sleep(3)
		woke = true
		Exit(0)
	})
	drive(t)
	if woke {
		t.Fatal("task woke before its timeout elapsed")
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < SchedTicks; j++ {
			Tick()
		}
	}
	if !woke {
		t.Fatal("task did not wake after its sleep timeout elapsed")
	}
}
