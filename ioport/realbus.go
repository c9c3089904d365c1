package ioport

import (
	"golang.org/x/sys/unix"
)

// RealBus is the production Bus: its register accessors are meant to
// compile down to the x86 in/out instructions, which only exist as
// inline assembly emitted by the boot/IDT layer this module does not
// implement (an out-of-scope external collaborator, same as the GDT/IDT
// setup and the PIC remap). Constructing one is a placeholder for that
// wiring; UDelay alone has a real implementation, since a hosted test
// harness driving this code against genuine hardware still needs to
// pace retries against the wall clock rather than a simulated one.
type RealBus struct {
	In8Func   func(port uint16) uint8
	Out8Func  func(port uint16, v uint8)
	In16Func  func(port uint16) uint16
	Out16Func func(port uint16, v uint16)
}

func (b *RealBus) In8(port uint16) uint8 {
	if b.In8Func == nil {
		panic("ioport: RealBus.In8 not wired to a port-I/O backend")
	}
	return b.In8Func(port)
}

func (b *RealBus) Out8(port uint16, v uint8) {
	if b.Out8Func == nil {
		panic("ioport: RealBus.Out8 not wired to a port-I/O backend")
	}
	b.Out8Func(port, v)
}

func (b *RealBus) In16(port uint16) uint16 {
	if b.In16Func == nil {
		panic("ioport: RealBus.In16 not wired to a port-I/O backend")
	}
	return b.In16Func(port)
}

func (b *RealBus) Out16(port uint16, v uint16) {
	if b.Out16Func == nil {
		panic("ioport: RealBus.Out16 not wired to a port-I/O backend")
	}
	b.Out16Func(port, v)
}

// UDelay sleeps for usec microseconds against the real wall clock (via
// nanosleep, resumed after EINTR), the way the ATA protocol's own timing
// constants assume.
func (b *RealBus) UDelay(usec int) {
	ts := unix.NsecToTimespec(int64(usec) * 1000)
	rem := ts
	for {
		err := unix.Nanosleep(&rem, &rem)
		if err == nil {
			return
		}
		if err != unix.EINTR {
			return
		}
	}
}
