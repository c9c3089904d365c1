// Package blkdev is the generic block-device layer: a registry of device
// classes (one per driver, keyed by major number) and instances (one per
// physical or simulated disk, keyed by major+minor), plus a byte-granular
// read/write path that maps onto a driver's block-aligned
// ReadBlocks/WriteBlocks implementation.
package blkdev

import (
	"fmt"

	"simplix/defs"
	"simplix/hwint"
	"simplix/kmem"
	"simplix/kstats"
)

const maxMajor = 16

// Driver is what a block device class registers: block-aligned,
// block-counted read/write, keyed by minor number and starting block
// index. Returns the number of blocks actually transferred.
type Driver interface {
	ReadBlocks(minor int, block uint64, nblocks int, buf []byte) (int, error)
	WriteBlocks(minor int, block uint64, nblocks int, buf []byte) (int, error)
}

type class struct {
	major       int
	description string
	driver      Driver
	instances   map[int]*Instance
}

// Instance is one registered block device: a specific minor number within
// a class, with a fixed block size and capacity.
type Instance struct {
	Major       int
	Minor       int
	Description string
	BlockSize   int
	Capacity    uint64 // in blocks

	refcnt int
}

var classes [maxMajor]*class

// RegisterClass registers a new block device class under major, backed by
// driver. Returns Fail if major is already registered.
func RegisterClass(major int, description string, driver Driver) defs.Err_t {
	if major < 0 || major >= maxMajor {
		return defs.InvalidArg
	}
	g := hwint.Off()
	defer g.Restore()

	if classes[major] != nil {
		return defs.Fail
	}
	classes[major] = &class{major: major, description: description, driver: driver, instances: map[int]*Instance{}}
	return defs.OK
}

// RegisterInstance registers a new device instance of an already
// registered class. Re-registering an existing (major, minor) pair is a
// no-op that succeeds.
func RegisterInstance(major, minor int, description string, blockSize int, capacity uint64) defs.Err_t {
	if major < 0 || major >= maxMajor || blockSize <= 0 || capacity == 0 {
		return defs.InvalidArg
	}
	g := hwint.Off()
	defer g.Restore()

	c := classes[major]
	if c == nil {
		return defs.InvalidArg
	}
	if _, ok := c.instances[minor]; ok {
		return defs.OK
	}
	c.instances[minor] = &Instance{
		Major: major, Minor: minor, Description: description,
		BlockSize: blockSize, Capacity: capacity,
	}
	return defs.OK
}

// UnregisterInstance removes a device instance, failing with Busy if any
// caller currently holds a reference via getInstance.
func UnregisterInstance(major, minor int) defs.Err_t {
	if major < 0 || major >= maxMajor {
		return defs.InvalidArg
	}
	g := hwint.Off()
	defer g.Restore()

	c := classes[major]
	if c == nil {
		return defs.InvalidArg
	}
	dev, ok := c.instances[minor]
	if !ok {
		return defs.InvalidArg
	}
	if dev.refcnt > 0 {
		return defs.Busy
	}
	delete(c.instances, minor)
	return defs.OK
}

func getInstance(major, minor int) (*class, *Instance, defs.Err_t) {
	if major < 0 || major >= maxMajor {
		return nil, nil, defs.InvalidArg
	}
	g := hwint.Off()
	defer g.Restore()

	c := classes[major]
	if c == nil {
		return nil, nil, defs.InvalidArg
	}
	dev, ok := c.instances[minor]
	if !ok {
		return nil, nil, defs.InvalidArg
	}
	dev.refcnt++
	return c, dev, defs.OK
}

func releaseInstance(dev *Instance) {
	g := hwint.Off()
	defer g.Restore()
	if dev.refcnt <= 0 {
		panic("blkdev: release of instance with refcnt <= 0")
	}
	dev.refcnt--
}

// Read reads len(buffer) bytes starting at byte offset off from the
// device (major, minor) into buffer. An offset or length not aligned to
// the device's block size is serviced by a read-modify partial transfer
// of the boundary blocks, each through a temporary kmem-backed buffer.
func Read(major, minor int, off uint64, buffer []byte) defs.Err_t {
	c, dev, err := getInstance(major, minor)
	if err != defs.OK {
		return err
	}
	defer releaseInstance(dev)
	kstats.Kernel.BlkReads.Inc()
	return transfer(c, dev, minor, off, buffer, false)
}

// Write writes buffer to the device (major, minor) at byte offset off,
// partitioning into a head/middle/tail the same way Read does; a partial
// boundary block is serviced with a read-modify-write through a temporary
// buffer so the untouched portion of that block survives.
func Write(major, minor int, off uint64, buffer []byte) defs.Err_t {
	c, dev, err := getInstance(major, minor)
	if err != defs.OK {
		return err
	}
	defer releaseInstance(dev)
	kstats.Kernel.BlkWrites.Inc()
	return transfer(c, dev, minor, off, buffer, true)
}

func transfer(c *class, dev *Instance, minor int, off uint64, buffer []byte, write bool) defs.Err_t {
	bs := uint64(dev.BlockSize)
	block := off / bs
	delta := off % bs

	buf := buffer
	if delta != 0 {
		tmp := kmem.Global.Alloc(dev.BlockSize)
		if tmp == nil {
			return defs.NoMemory
		}
		n, err := c.driver.ReadBlocks(minor, block, 1, tmp.Bytes)
		if err != nil || n != 1 {
			kmem.Global.Free(tmp)
			return defs.Fail
		}
		headLen := bs - delta
		if uint64(len(buf)) < headLen {
			headLen = uint64(len(buf))
		}
		if write {
			copy(tmp.Bytes[delta:delta+headLen], buf[:headLen])
			n, err = c.driver.WriteBlocks(minor, block, 1, tmp.Bytes)
			if err != nil || n != 1 {
				kmem.Global.Free(tmp)
				return defs.Fail
			}
		} else {
			copy(buf[:headLen], tmp.Bytes[delta:delta+headLen])
		}
		kmem.Global.Free(tmp)
		buf = buf[headLen:]
		block++
		if len(buf) == 0 {
			return defs.OK
		}
	}

	nblocks := uint64(len(buf)) / bs
	tailDelta := uint64(len(buf)) % bs

	for nblocks > 0 {
		var n int
		var err error
		if write {
			n, err = c.driver.WriteBlocks(minor, block, int(nblocks), buf)
		} else {
			n, err = c.driver.ReadBlocks(minor, block, int(nblocks), buf)
		}
		if err != nil || n <= 0 {
			return defs.Fail
		}
		buf = buf[uint64(n)*bs:]
		nblocks -= uint64(n)
		block += uint64(n)
	}

	if tailDelta != 0 {
		tmp := kmem.Global.Alloc(dev.BlockSize)
		if tmp == nil {
			return defs.NoMemory
		}
		n, err := c.driver.ReadBlocks(minor, block, 1, tmp.Bytes)
		if err != nil || n != 1 {
			kmem.Global.Free(tmp)
			return defs.Fail
		}
		if write {
			copy(tmp.Bytes[:tailDelta], buf[:tailDelta])
			n, err = c.driver.WriteBlocks(minor, block, 1, tmp.Bytes)
			if err != nil || n != 1 {
				kmem.Global.Free(tmp)
				return defs.Fail
			}
		} else {
			copy(buf[:tailDelta], tmp.Bytes[:tailDelta])
		}
		kmem.Global.Free(tmp)
	}

	return defs.OK
}

// Describe formats a device instance for diagnostic printing.
func (i *Instance) Describe() string {
	return fmt.Sprintf("%s (major=%d minor=%d blocksize=%d capacity=%d)", i.Description, i.Major, i.Minor, i.BlockSize, i.Capacity)
}
