// Command kernel wires the CORE subsystems together in boot order and
// drives a short demo workload, standing in for the assembly/linker boot
// path (GDT/IDT setup, PIC remap, trap stubs) that is this module's own
// out-of-scope external collaborator.
package main

import (
	"fmt"
	"log"

	"simplix/blkdev"
	"simplix/defs"
	"simplix/hwint"
	"simplix/ide"
	"simplix/ioport"
	"simplix/kmem"
	"simplix/kstats"
	"simplix/mem"
	"simplix/proc"
	"simplix/usys"
)

const (
	memBytes  = 16 * 1024 * 1024
	kernelEnd = 0x10000
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("kernel: ")

	mem.Init(memBytes, kernelEnd)
	kmem.Init(mem.Pmm)
	proc.Init()

	var buses [ide.NRControllers]ioport.Bus
	buses[0] = ide.NewSimBus(ide.PrimaryIobase, ide.NewSimDisk(2048, "SIMPLIX VDISK"), nil)
	if err := ide.Init(buses); err != defs.OK {
		log.Fatalf("ide.Init: %v", err)
	}

	proc.KernelThread(demoWriter)
	proc.KernelThread(demoReader)

	run()
}

// run drives the scheduler from the boot thread's perspective, the same
// role the idle task plays in the tests: elect, let the elected task run
// to completion or its next yield point, repeat until every demo task
// has exited and been reaped.
func run() {
	for {
		hwint.L.Lock()
		proc.ScheduleLocked()
		hwint.L.Unlock()

		pid, status := proc.WaitPid(-1)
		if pid == -1 {
			return
		}
		log.Printf("reaped pid %d (status %d)", pid, status)
	}
}

func demoWriter() {
	payload := []byte("hello from the demo writer task\n")
	if err := blkdev.Write(ide.BlkdevIDEMajor, 0, 0, payload); err != defs.OK {
		log.Fatalf("demoWriter: blkdev.Write: %v", err)
	}
	ctx := &usys.Context{EBX: 0}
	usys.Exit(ctx)
}

func demoReader() {
	buf := make([]byte, 64)
	if err := blkdev.Read(ide.BlkdevIDEMajor, 0, 0, buf); err != defs.OK {
		log.Fatalf("demoReader: blkdev.Read: %v", err)
	}
	fmt.Printf("demo disk read back: %q\n", buf)
	if kstats.Enabled {
		fmt.Print(kstats.Stats2String(kstats.Kernel))
	}
	ctx := &usys.Context{EBX: 0}
	usys.Exit(ctx)
}
