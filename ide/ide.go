// Package ide is a PIO-mode ATA/ATAPI-4 driver for up to two IDE
// controllers, each addressable at its standard PC I/O port base and each
// serving up to two devices (master/slave). It registers itself with
// blkdev as a Driver and exposes IDENTIFY-derived device geometry.
package ide

import (
	"fmt"

	"simplix/blkdev"
	"simplix/defs"
	"simplix/ioport"
	"simplix/ksync"
	"simplix/kstats"
)

const (
	NRControllers       = 2
	NRDevicesPerCtrl    = 2
	PrimaryIobase       = 0x1F0
	SecondaryIobase     = 0x170

	regData    = 0
	regError   = 1
	regNSector = 2
	regSector  = 3
	regLCyl    = 4
	regHCyl    = 5
	regDrvHead = 6
	regStatus  = 7
	regCommand = 7
	regDevCtl  = 0x206

	cmdIdentify    = 0xEC
	cmdAtapiIdent  = 0xA1
	cmdReadBlock   = 0x20
	cmdWriteBlock  = 0x30

	statusBSY  = 0x80
	statusDRDY = 0x40
	statusDRQ  = 0x08
	statusERR  = 0x01

	ctlSRST = 0x04

	// ATATimeoutUsec is the maximum time any command is allowed to spend
	// polling for completion.
	ATATimeoutUsec = 30_000_000

	BlockSize  = 512
	MaxNBlocks = 256

	positionMaster = 0
	positionSlave  = 1
)

// Device is one ATA device (master or slave) on a controller.
type Device struct {
	controller *Controller
	position   int

	Present bool
	ATAPI   bool
	LBA     bool
	DMA     bool

	Model    string
	Serial   string
	Firmware string

	Cylinders int
	Heads     int
	Sectors   int
	Capacity  int // in blocks
}

// Controller is one IDE controller: a port base, up to two devices, and
// the mutex/semaphore pair serializing and signaling I/O against it.
type Controller struct {
	bus     ioport.Bus
	iobase  uint16
	Devices [NRDevicesPerCtrl]*Device

	mutex  *ksync.Mutex
	ioSema *ksync.Sema
}

var controllers [NRControllers]*Controller

// Init probes both controllers on the given buses for attached devices
// and registers the IDE block device class with blkdev. buses[i] is the
// I/O space for controller i; a nil entry skips that controller.
func Init(buses [NRControllers]ioport.Bus) defs.Err_t {
	if err := blkdev.RegisterClass(BlkdevIDEMajor, "IDE Hard Disk Driver", driverAdapter{}); err != defs.OK && err != defs.Fail {
		return err
	}

	iobases := [NRControllers]uint16{PrimaryIobase, SecondaryIobase}
	for i := 0; i < NRControllers; i++ {
		if buses[i] == nil {
			continue
		}
		c := &Controller{bus: buses[i], iobase: iobases[i], mutex: ksync.NewMutex(), ioSema: ksync.NewSema(0)}
		controllers[i] = c
		if sb, ok := buses[i].(*SimBus); ok {
			idx := i
			sb.SetInterruptSink(func() { HandleInterrupt(idx) })
		}
		for j := 0; j < NRDevicesPerCtrl; j++ {
			d := &Device{controller: c, position: j}
			c.Devices[j] = d
			identifyDevice(d)
			if !d.Present || d.ATAPI {
				continue
			}
			minor := i*NRDevicesPerCtrl + j
			desc := fmt.Sprintf("Hard Disk [%d-%d]: %s (%d/%d/%d - %d sectors) LBA:%v DMA:%v",
				i, j, d.Model, d.Cylinders, d.Heads, d.Sectors, d.Capacity, d.LBA, d.DMA)
			blkdev.RegisterInstance(BlkdevIDEMajor, minor, desc, BlockSize, uint64(d.Capacity))
		}
	}
	return defs.OK
}

// BlkdevIDEMajor is the major number the IDE class registers under.
const BlkdevIDEMajor = 3

func getDevice(minor int) *Device {
	ctrl := controllers[minor/NRDevicesPerCtrl]
	if ctrl == nil {
		return nil
	}
	return ctrl.Devices[minor%NRDevicesPerCtrl]
}

// fixIdeString un-swaps the byte-swapped ASCII fields the IDENTIFY command
// returns and trims trailing space/NUL padding, exactly as the ATA spec's
// "two-byte-swap" string encoding requires.
func fixIdeString(raw []byte) string {
	b := make([]byte, len(raw)&^1)
	copy(b, raw)
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
	end := len(b)
	for end > 0 {
		c := b[end-1]
		if c > 32 && c < 127 {
			break
		}
		end--
	}
	return string(b[:end])
}

// waitForController polls the status register until (status & mask) ==
// value or timeout polls have elapsed, matching the original's do/while
// short-circuit: a match on the very first read succeeds without
// consuming any of the timeout budget.
func waitForController(c *Controller, mask, value uint8, timeout int) bool {
	for {
		status := c.bus.In8(c.iobase + regStatus)
		c.bus.UDelay(1)
		if status&mask == value {
			return true
		}
		timeout--
		if timeout <= 0 {
			return false
		}
	}
}

func resetController(c *Controller) bool {
	c.bus.Out8(c.iobase+regDevCtl, ctlSRST)
	c.bus.UDelay(2000)
	if !waitForController(c, statusBSY, statusBSY, 1) {
		return false
	}
	c.bus.Out8(c.iobase+regDevCtl, 0)
	return waitForController(c, statusBSY, 0, ATATimeoutUsec)
}

func selectDevice(d *Device) bool {
	c := d.controller
	if c.bus.In8(c.iobase+regStatus)&(statusBSY|statusDRQ) != 0 {
		return false
	}
	c.bus.Out8(c.iobase+regDrvHead, 0xA0|uint8(d.position<<4))
	c.bus.UDelay(1)
	return c.bus.In8(c.iobase+regStatus)&(statusBSY|statusDRQ) == 0
}

// identifyDevice runs the device-detection and IDENTIFY-command protocol
// against d, populating its fields on success and leaving Present false on
// any failure.
func identifyDevice(d *Device) {
	c := d.controller
	d.Present = false

	c.bus.Out8(c.iobase+regNSector, 0xAB)
	if c.bus.In8(c.iobase+regNSector) != 0xAB {
		return
	}

	resetController(c)
	if !selectDevice(d) {
		return
	}

	if c.bus.In8(c.iobase+regNSector) == 1 && c.bus.In8(c.iobase+regSector) == 1 {
		cl := c.bus.In8(c.iobase + regLCyl)
		ch := c.bus.In8(c.iobase + regHCyl)
		status := c.bus.In8(c.iobase + regStatus)
		switch {
		case cl == 0x14 && ch == 0xEB:
			d.Present = true
			d.ATAPI = true
		case cl == 0 && ch == 0 && status != 0:
			d.Present = true
		}
	}
	if !d.Present {
		return
	}

	cmd := uint8(cmdIdentify)
	if d.ATAPI {
		cmd = cmdAtapiIdent
	}
	c.bus.Out8(c.iobase+regCommand, cmd)
	c.bus.UDelay(1)

	if !waitForController(c, statusBSY|statusDRQ|statusERR, statusDRQ, ATATimeoutUsec) {
		d.Present = false
		return
	}

	var info [256]uint16
	for i := range info {
		info[i] = c.bus.In16(c.iobase + regData)
	}

	d.LBA = (info[49]>>9)&1 != 0
	d.DMA = (info[49]>>8)&1 != 0
	d.Cylinders = int(info[1])
	d.Heads = int(info[3])
	d.Sectors = int(info[6])
	if d.LBA {
		d.Capacity = int(info[60]) | int(info[61])<<16
	} else {
		d.Capacity = d.Heads * d.Sectors * d.Cylinders
	}

	d.Model = fixIdeString(u16ToBytes(info[27:27+20]))
	d.Serial = fixIdeString(u16ToBytes(info[10:10+10]))
	d.Firmware = fixIdeString(u16ToBytes(info[23:23+4]))
}

func u16ToBytes(words []uint16) []byte {
	b := make([]byte, len(words)*2)
	for i, w := range words {
		b[2*i] = byte(w >> 8)
		b[2*i+1] = byte(w)
	}
	return b
}

// readWriteBlocks is the shared body of ReadBlocks/WriteBlocks: select the
// device, program the registers, push or pull the data window, and wait
// on the controller's completion semaphore exactly as the PIO protocol
// requires.
func readWriteBlocks(minor int, block uint64, nblocks int, buf []byte, write bool) (int, error) {
	d := getDevice(minor)
	if d == nil || !d.Present {
		return 0, fmt.Errorf("ide: no such device (minor %d)", minor)
	}
	if nblocks == 0 {
		return 0, nil
	}
	if nblocks > MaxNBlocks {
		nblocks = MaxNBlocks
	}
	if block+uint64(nblocks) > uint64(d.Capacity) {
		return 0, fmt.Errorf("ide: request past device capacity")
	}

	c := d.controller
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !selectDevice(d) {
		return 0, fmt.Errorf("ide: device selection failed")
	}

	var sc, cl, ch, hd uint8
	if d.LBA {
		sc = uint8(block)
		cl = uint8(block >> 8)
		ch = uint8(block >> 16)
		hd = uint8(block>>24) & 0xF
	} else {
		perCyl := d.Heads * d.Sectors
		cyl := int(block) / perCyl
		tmp := int(block) % perCyl
		sc = uint8(tmp%d.Sectors + 1)
		cl = uint8(cyl)
		ch = uint8(cyl >> 8)
		hd = uint8(tmp / d.Sectors)
	}

	cmd := uint8(cmdReadBlock)
	if write {
		cmd = cmdWriteBlock
	}

	var lbaBit uint8
	if d.LBA {
		lbaBit = 1
	}
	c.bus.Out8(c.iobase+regNSector, uint8(nblocks))
	c.bus.Out8(c.iobase+regSector, sc)
	c.bus.Out8(c.iobase+regLCyl, cl)
	c.bus.Out8(c.iobase+regHCyl, ch)
	c.bus.Out8(c.iobase+regDrvHead, (lbaBit<<6)|(uint8(d.position)<<4)|hd)
	c.bus.Out8(c.iobase+regCommand, cmd)
	kstats.Kernel.IdeCommands.Inc()
	c.bus.UDelay(1)

	if !waitForController(c, statusBSY, 0, ATATimeoutUsec) {
		return 0, fmt.Errorf("ide: command timed out")
	}
	if c.bus.In8(c.iobase+regStatus)&statusERR != 0 {
		return 0, fmt.Errorf("ide: device reported error")
	}

	if write {
		writeDataWindow(c, nblocks, buf)
	}

	// The device may raise its completion IRQ before this line is even
	// reached (a simulated bus resolves the command synchronously inside
	// Out8); Down then simply does not block, matching the original
	// driver's own comment about this race on real hardware too.
	c.ioSema.Down()

	if c.bus.In8(c.iobase+regStatus)&statusERR != 0 {
		return 0, fmt.Errorf("ide: device reported error after completion")
	}

	if !write {
		readDataWindow(c, nblocks, buf)
	}

	return nblocks, nil
}

func writeDataWindow(c *Controller, nblocks int, buf []byte) {
	for i := 0; i < nblocks*BlockSize; i += 2 {
		w := uint16(buf[i]) | uint16(buf[i+1])<<8
		c.bus.Out16(c.iobase+regData, w)
	}
}

func readDataWindow(c *Controller, nblocks int, buf []byte) {
	for i := 0; i < nblocks*BlockSize; i += 2 {
		w := c.bus.In16(c.iobase + regData)
		buf[i] = byte(w)
		buf[i+1] = byte(w >> 8)
	}
}

// HandleInterrupt is the IRQ handler an out-of-scope interrupt dispatcher
// invokes once per completed PIO command; it simply wakes the task parked
// in ioSema.Down above.
func HandleInterrupt(controllerIndex int) {
	c := controllers[controllerIndex]
	if c == nil {
		return
	}
	kstats.Kernel.IdeIRQs.Inc()
	c.ioSema.Up()
}

type driverAdapter struct{}

func (driverAdapter) ReadBlocks(minor int, block uint64, nblocks int, buf []byte) (int, error) {
	return readWriteBlocks(minor, block, nblocks, buf, false)
}

func (driverAdapter) WriteBlocks(minor int, block uint64, nblocks int, buf []byte) (int, error) {
	return readWriteBlocks(minor, block, nblocks, buf, true)
}
