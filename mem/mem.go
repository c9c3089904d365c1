// Package mem is the physical memory manager (PMM): a first-fit allocator
// over page-aligned contiguous regions, with coalescing and in-place
// resize. Every mutation runs under the hwint guard, the kernel's one
// locking discipline.
//
// There is no patched runtime here to hand out real hardware pages, so
// physical memory is modeled as one arena []byte allocated at Init; a Pa_t
// is a byte offset into that arena. Bytes(addr, n) returns a real, GC-safe
// slice view directly into it — the Go-native substitute for mapping
// physical pages into addressable memory.
package mem

import (
	"fmt"

	"simplix/hwint"
	"simplix/kstats"
	"simplix/util"
)

const (
	PGSHIFT  = 12
	PGSIZE   = 1 << PGSHIFT
	PGOFFSET = PGSIZE - 1
)

// Pa_t is a physical address: a byte offset into the simulated RAM arena.
type Pa_t uint32

// Boundaries from the boot memory map (see SPEC_FULL.md §4.1).
const (
	biosVideoStart Pa_t = 0x0A0000
	biosVideoEnd   Pa_t = 0x100000
)

// nominal sizes used only to decide where the descriptor array is carved
// out of address space at boot; the array itself is an ordinary Go slice,
// not arena-resident.
const descriptorBytes = 16

// block_t is a physical-block descriptor. Descriptors live in an array
// indexed by page number (invariant iii): the descriptor for any
// block-start address is found in O(1) via blocks[pageOf(addr)].
type block_t struct {
	valid     bool
	pages     int
	available bool
	prev      int32 // page number of the previous block's start, -1 if none
	next      int32 // page number of the next block's start, -1 if none
}

// Physmem_t is the PMM singleton container (Design Notes §9: "bundle each
// [piece of global mutable state] into a typed module-scoped container").
type Physmem_t struct {
	arena     []byte
	blocks    []block_t
	headPage  int32
	npages    int
	totalSize Pa_t
}

// Pmm is the kernel's one physical memory manager, initialized once at
// boot by Init.
var Pmm = &Physmem_t{}

type region struct {
	pages     int
	available bool
}

// Init carves out the boot memory map and returns the PMM ready for use.
// kernelEnd is the first free physical address above the kernel image.
// Placement of the block-descriptor bookkeeping is chosen to mirror the
// real boot carve-out (low memory first, extended memory otherwise);
// failing to place it is fatal, matching SPEC_FULL.md §7.
func Init(memBytes int, kernelEnd Pa_t) *Physmem_t {
	if memBytes <= 0 || memBytes%PGSIZE != 0 {
		panic("mem: memBytes must be a positive multiple of PGSIZE")
	}
	total := Pa_t(memBytes)
	if total <= biosVideoEnd {
		panic("mem: memBytes must exceed the BIOS/video hole")
	}
	kernelEnd = util.Roundup(kernelEnd, Pa_t(PGSIZE))
	if kernelEnd >= biosVideoStart {
		panic("mem: kernel image overruns the low-memory hole")
	}

	npages := int(total) / PGSIZE
	arraySize := util.Roundup(Pa_t(npages*descriptorBytes), Pa_t(PGSIZE))

	lowHole := biosVideoStart - kernelEnd
	extHole := total - biosVideoEnd

	var regions []region
	switch {
	case arraySize <= lowHole:
		// descriptor array placed in low memory, right after the kernel image
		regions = []region{
			{int(kernelEnd+arraySize) / PGSIZE, false}, // [0, kernelEnd+arraySize) reserved
			{int(biosVideoStart-(kernelEnd+arraySize)) / PGSIZE, true},
			{int(biosVideoEnd-biosVideoStart) / PGSIZE, false},
			{int(total-biosVideoEnd) / PGSIZE, true},
		}
	case arraySize <= extHole:
		// descriptor array placed in extended memory, right after the BIOS/video hole
		regions = []region{
			{int(kernelEnd) / PGSIZE, false},
			{int(biosVideoStart-kernelEnd) / PGSIZE, true},
			{int(biosVideoEnd-biosVideoStart+arraySize) / PGSIZE, false},
			{int(total-biosVideoEnd-arraySize) / PGSIZE, true},
		}
	default:
		panic("mem: no room to place the physical-block descriptor array")
	}

	p := &Physmem_t{
		arena:     make([]byte, memBytes),
		blocks:    make([]block_t, npages),
		npages:    npages,
		totalSize: total,
	}

	page := 0
	var prev int32 = -1
	var firstPage int32 = -1
	for _, r := range regions {
		if r.pages == 0 {
			continue
		}
		p.blocks[page] = block_t{valid: true, pages: r.pages, available: r.available, prev: prev, next: -1}
		if prev != -1 {
			p.blocks[prev].next = int32(page)
		}
		if firstPage == -1 {
			firstPage = int32(page)
		}
		prev = int32(page)
		page += r.pages
	}
	p.headPage = firstPage

	*Pmm = *p
	return Pmm
}

func (p *Physmem_t) pageOf(addr Pa_t) int {
	return int(addr) / PGSIZE
}

// AllocRaw allocates pages contiguous physical pages without zeroing them.
func (p *Physmem_t) AllocRaw(pages int) (Pa_t, bool) {
	if pages <= 0 {
		panic("mem: AllocRaw with non-positive page count")
	}
	g := hwint.Off()
	defer g.Restore()

	cur := p.headPage
	for cur != -1 {
		b := &p.blocks[cur]
		if b.available && b.pages >= pages {
			if b.pages > pages {
				p.splitLocked(cur, pages)
			}
			b.available = false
			kstats.Kernel.PmmAllocs.Inc()
			return Pa_t(cur) * PGSIZE, true
		}
		cur = b.next
	}
	return 0, false
}

// Alloc allocates pages contiguous physical pages and zeroes them.
func (p *Physmem_t) Alloc(pages int) (Pa_t, bool) {
	addr, ok := p.AllocRaw(pages)
	if !ok {
		return 0, false
	}
	clear(p.Bytes(addr, pages*PGSIZE))
	return addr, true
}

// splitLocked splits the block starting at page cur (which has more than
// pages pages) into an allocated-sized prefix and an available remainder.
// Caller must hold hwint.L.
func (p *Physmem_t) splitLocked(cur int32, pages int) {
	b := &p.blocks[cur]
	remPage := cur + int32(pages)
	remPages := b.pages - pages
	oldNext := b.next

	p.blocks[remPage] = block_t{valid: true, pages: remPages, available: true, prev: cur, next: oldNext}
	if oldNext != -1 {
		p.blocks[oldNext].prev = remPage
	}
	b.pages = pages
	b.next = remPage
}

// Free releases the block starting at addr, coalescing with adjacent
// available blocks. Freeing an address with no allocated descriptor, or
// that lies outside the arena, is fatal.
func (p *Physmem_t) Free(addr Pa_t) {
	g := hwint.Off()
	defer g.Restore()

	page := p.pageOf(addr)
	if addr%PGSIZE != 0 || page < 0 || page >= p.npages {
		panic(fmt.Sprintf("mem: Free of out-of-range address %#x", addr))
	}
	b := &p.blocks[page]
	if !b.valid || b.available {
		panic(fmt.Sprintf("mem: Free of address %#x with no allocated descriptor", addr))
	}
	b.available = true
	kstats.Kernel.PmmFrees.Inc()

	if b.next != -1 && p.blocks[b.next].available {
		p.mergeLocked(int32(page), b.next)
	}
	if b.prev != -1 && p.blocks[b.prev].available {
		p.mergeLocked(b.prev, int32(page))
	}
}

// mergeLocked folds the block at nextPage into the block at page (both
// must currently be available). Caller must hold hwint.L.
func (p *Physmem_t) mergeLocked(page, nextPage int32) {
	a := &p.blocks[page]
	b := &p.blocks[nextPage]
	a.pages += b.pages
	a.next = b.next
	if b.next != -1 {
		p.blocks[b.next].prev = page
	}
	*b = block_t{}
}

// Realloc resizes the block at addr to pages pages in place when possible,
// otherwise allocates fresh, copies, and frees the old block.
func (p *Physmem_t) Realloc(addr Pa_t, pages int) (Pa_t, bool) {
	g := hwint.Off()
	page := int32(p.pageOf(addr))
	if addr%PGSIZE != 0 || page < 0 || int(page) >= p.npages {
		g.Restore()
		panic(fmt.Sprintf("mem: Realloc of out-of-range address %#x", addr))
	}
	b := &p.blocks[page]
	if !b.valid || b.available {
		g.Restore()
		panic(fmt.Sprintf("mem: Realloc of address %#x with no allocated descriptor", addr))
	}

	switch {
	case pages == b.pages:
		g.Restore()
		return addr, true

	case pages < b.pages:
		shrinkBy := b.pages - pages
		freedPage := page + int32(pages)
		oldNext := b.next
		b.pages = pages

		if oldNext != -1 && p.blocks[oldNext].available {
			// widen the following hole
			nb := &p.blocks[oldNext]
			p.blocks[freedPage] = block_t{valid: true, pages: shrinkBy + nb.pages, available: true, prev: page, next: nb.next}
			if nb.next != -1 {
				p.blocks[nb.next].prev = freedPage
			}
			*nb = block_t{}
			b.next = freedPage
		} else {
			p.blocks[freedPage] = block_t{valid: true, pages: shrinkBy, available: true, prev: page, next: oldNext}
			if oldNext != -1 {
				p.blocks[oldNext].prev = freedPage
			}
			b.next = freedPage
		}
		g.Restore()
		return addr, true

	default:
		grow := pages - b.pages
		if b.next != -1 && p.blocks[b.next].available && p.blocks[b.next].pages >= grow {
			nb := &p.blocks[b.next]
			if nb.pages == grow {
				p.mergeLocked(page, b.next)
			} else {
				consumedPage := page + int32(b.pages)
				remPage := consumedPage + int32(grow)
				remPages := nb.pages - grow
				oldNext := nb.next
				p.blocks[remPage] = block_t{valid: true, pages: remPages, available: true, prev: page, next: oldNext}
				if oldNext != -1 {
					p.blocks[oldNext].prev = remPage
				}
				*nb = block_t{}
				b.pages = pages
				b.next = remPage
			}
			g.Restore()
			return addr, true
		}

		g.Restore()
		newAddr, ok := p.AllocRaw(pages)
		if !ok {
			return 0, false
		}
		copy(p.Bytes(newAddr, b.pages*PGSIZE), p.Bytes(addr, b.pages*PGSIZE))
		clear(p.Bytes(newAddr+Pa_t(b.pages*PGSIZE), (pages-b.pages)*PGSIZE))
		p.Free(addr)
		return newAddr, true
	}
}

// Bytes returns a slice view of n bytes of arena memory starting at addr.
func (p *Physmem_t) Bytes(addr Pa_t, n int) []byte {
	return p.arena[addr : int(addr)+n]
}

// Pages returns the total number of pages of physical memory managed.
func (p *Physmem_t) Pages() int {
	return p.npages
}

// TotalPagesAccounted sums the page counts of every block descriptor,
// exercised directly by the PMM-conservation test (SPEC_FULL.md §8.2).
func (p *Physmem_t) TotalPagesAccounted() int {
	g := hwint.Off()
	defer g.Restore()
	sum := 0
	cur := p.headPage
	for cur != -1 {
		b := &p.blocks[cur]
		sum += b.pages
		cur = b.next
	}
	return sum
}

// Blocks returns a snapshot of (pages, available) for every block
// currently in the list, in ascending address order. Exercised by tests
// that need to inspect the coalescing/split invariants directly.
func (p *Physmem_t) Blocks() []struct {
	Pages     int
	Available bool
} {
	g := hwint.Off()
	defer g.Restore()
	var out []struct {
		Pages     int
		Available bool
	}
	cur := p.headPage
	for cur != -1 {
		b := &p.blocks[cur]
		out = append(out, struct {
			Pages     int
			Available bool
		}{b.pages, b.available})
		cur = b.next
	}
	return out
}
