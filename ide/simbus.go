package ide

// SimBus is a software stand-in for a real ATA port-mapped I/O space: it
// answers the exact register protocol identifyDevice and readWriteBlocks
// drive, backed by up to two in-memory disks, so the driver above can be
// exercised without real hardware. Commands resolve synchronously inside
// Out8/Out16 — which, for a READ or a completed WRITE, includes invoking
// the attached interrupt sink before control even returns to the driver.
// That mirrors the original driver's own observation that on real
// hardware (Bochs) the IRQ can already have fired by the time the caller
// reaches ksema_down.
type SimBus struct {
	iobase uint16
	disks  [NRDevicesPerCtrl]*SimDisk
	irq    func()

	selected int
	regs     struct {
		nsector, sector, lcyl, hcyl, drvhead, status uint8
	}

	dataWords       []uint16
	dataIdx         int
	pendingWriteLBA int
	pendingWriteAt  *SimDisk

	// justReset is set when SRST completes and cleared the next time the
	// drive/head register is written (selectDevice): only at that point
	// do we know which disk's signature is now visible on the shared
	// register file, and that write never recurs once a read/write
	// command is in flight, so it never clobbers live LBA registers.
	justReset bool
}

// SimDisk is a fixed-geometry, in-memory-backed simulated LBA disk.
type SimDisk struct {
	Cylinders, Heads, Sectors int
	Capacity                  int // blocks
	Model, Serial, Firmware   string
	data                      []byte
}

// NewSimDisk builds a simulated disk of the given capacity in 512-byte
// blocks, with a synthetic CHS geometry (unused by the LBA path but
// reported by IDENTIFY the way a real drive would).
func NewSimDisk(capacityBlocks int, model string) *SimDisk {
	const heads, sectors = 16, 63
	cyl := capacityBlocks/(heads*sectors) + 1
	return &SimDisk{
		Cylinders: cyl, Heads: heads, Sectors: sectors,
		Capacity: capacityBlocks,
		Model:    model, Serial: "SIM0001", Firmware: "1.0",
		data: make([]byte, capacityBlocks*BlockSize),
	}
}

// NewSimBus builds a simulated controller at iobase with the given master
// and slave disks (either may be nil for "not present").
func NewSimBus(iobase uint16, master, slave *SimDisk) *SimBus {
	b := &SimBus{iobase: iobase}
	b.disks[positionMaster] = master
	b.disks[positionSlave] = slave
	return b
}

// SetInterruptSink wires the callback SimBus invokes when a command
// completes, standing in for the real IRQ line.
func (b *SimBus) SetInterruptSink(irq func()) {
	b.irq = irq
}

func (b *SimBus) regOffset(port uint16) int {
	if port == b.iobase+regDevCtl {
		return regDevCtl
	}
	return int(port - b.iobase)
}

func (b *SimBus) In8(port uint16) uint8 {
	switch b.regOffset(port) {
	case regNSector:
		return b.regs.nsector
	case regSector:
		return b.regs.sector
	case regLCyl:
		return b.regs.lcyl
	case regHCyl:
		return b.regs.hcyl
	case regDrvHead:
		return b.regs.drvhead
	case regStatus:
		return b.regs.status
	default:
		return 0
	}
}

func (b *SimBus) Out8(port uint16, v uint8) {
	switch b.regOffset(port) {
	case regNSector:
		b.regs.nsector = v
	case regSector:
		b.regs.sector = v
	case regLCyl:
		b.regs.lcyl = v
	case regHCyl:
		b.regs.hcyl = v
	case regDrvHead:
		b.regs.drvhead = v
		b.selected = int((v >> 4) & 1)
		if b.justReset {
			b.applySignature()
			b.justReset = false
		}
	case regDevCtl:
		if v&ctlSRST != 0 {
			b.regs.status |= statusBSY
		} else {
			b.completeReset()
		}
	case regCommand:
		b.doCommand(v)
	}
}

func (b *SimBus) completeReset() {
	// BSY drops immediately; which device's signature becomes visible
	// depends on whichever drive/head selection happens next, so that's
	// deferred to applySignature via justReset.
	b.regs.status = 0
	b.justReset = true
}

// applySignature makes the currently selected disk's post-reset
// signature visible on the shared register file: nsector=1, sector=1,
// cyl=0 and a nonzero status for a present ATA device, all-zero for an
// empty slot — exactly the pattern identifyDevice's presence check
// looks for.
func (b *SimBus) applySignature() {
	d := b.disks[b.selected]
	if d == nil {
		b.regs.status = 0
		b.regs.nsector, b.regs.sector, b.regs.lcyl, b.regs.hcyl = 0, 0, 0, 0
		return
	}
	b.regs.status = statusDRDY
	b.regs.nsector = 1
	b.regs.sector = 1
	b.regs.lcyl = 0
	b.regs.hcyl = 0
}

func (b *SimBus) doCommand(cmd uint8) {
	d := b.disks[b.selected]
	if d == nil {
		b.regs.status = statusERR
		return
	}
	switch cmd {
	case cmdIdentify:
		b.prepareIdentify(d)
	case cmdReadBlock:
		b.doRead(d)
	case cmdWriteBlock:
		b.prepareWrite(d)
	}
}

func (b *SimBus) currentLBA() int {
	hd := int(b.regs.drvhead & 0xF)
	return int(b.regs.sector) | int(b.regs.lcyl)<<8 | int(b.regs.hcyl)<<16 | hd<<24
}

func (b *SimBus) currentNBlocks() int {
	n := int(b.regs.nsector)
	if n == 0 {
		n = 256
	}
	return n
}

func (b *SimBus) prepareIdentify(d *SimDisk) {
	var info [256]uint16
	info[1] = uint16(d.Cylinders)
	info[3] = uint16(d.Heads)
	info[6] = uint16(d.Sectors)
	info[49] = 1 << 9 // LBA supported, DMA not
	info[60] = uint16(d.Capacity)
	info[61] = uint16(d.Capacity >> 16)
	packSwappedString(info[27:27+20], d.Model)
	packSwappedString(info[10:10+10], d.Serial)
	packSwappedString(info[23:23+4], d.Firmware)

	b.dataWords = info[:]
	b.dataIdx = 0
	b.regs.status = statusDRQ
}

func (b *SimBus) doRead(d *SimDisk) {
	lba := b.currentLBA()
	nblocks := b.currentNBlocks()
	off := lba * BlockSize
	raw := d.data[off : off+nblocks*BlockSize]

	words := make([]uint16, nblocks*BlockSize/2)
	for i := range words {
		words[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	b.dataWords = words
	b.dataIdx = 0
	b.regs.status = statusDRQ
	if b.irq != nil {
		b.irq()
	}
}

func (b *SimBus) prepareWrite(d *SimDisk) {
	nblocks := b.currentNBlocks()
	b.dataWords = make([]uint16, nblocks*BlockSize/2)
	b.dataIdx = 0
	b.pendingWriteLBA = b.currentLBA()
	b.pendingWriteAt = d
	b.regs.status = statusDRQ
}

func (b *SimBus) In16(port uint16) uint16 {
	if b.dataIdx >= len(b.dataWords) {
		return 0
	}
	v := b.dataWords[b.dataIdx]
	b.dataIdx++
	if b.dataIdx == len(b.dataWords) {
		b.regs.status = statusDRDY
	}
	return v
}

func (b *SimBus) Out16(port uint16, v uint16) {
	if b.dataIdx >= len(b.dataWords) {
		return
	}
	b.dataWords[b.dataIdx] = v
	b.dataIdx++
	if b.dataIdx == len(b.dataWords) {
		raw := make([]byte, len(b.dataWords)*2)
		for i, w := range b.dataWords {
			raw[2*i] = byte(w)
			raw[2*i+1] = byte(w >> 8)
		}
		off := b.pendingWriteLBA * BlockSize
		copy(b.pendingWriteAt.data[off:off+len(raw)], raw)
		b.regs.status = statusDRDY
		if b.irq != nil {
			b.irq()
		}
	}
}

func (b *SimBus) UDelay(usec int) {}

// packSwappedString writes s, space-padded to len(dst)*2 bytes, into dst
// as IDENTIFY's byte-swapped ASCII fields: u16ToBytes emits each word
// as (high, low) and fixIdeString swaps that pair back, so storing
// word i as s[2i] | s[2i+1]<<8 here is what makes the round trip
// through identifyDevice recover s exactly.
func packSwappedString(dst []uint16, s string) {
	n := len(dst) * 2
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	for i := range dst {
		dst[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
}
