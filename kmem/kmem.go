// Package kmem is the slab/cache object allocator layered over the
// physical page allocator (mem), for small kernel objects.
//
// A slab is a size class, indexed by (size-1)>>3, covering 8 to 1024 bytes
// in 8-byte steps. A cache is an 8-page region carved into fixed-size
// objects. The original design prefixes each object with a header holding
// a back-pointer to its owning cache; Go's garbage collector does not scan
// a []byte for live pointers, so embedding a real *cache_t inside the PMM
// arena via unsafe would let the cache be collected out from under a live
// object. This package keeps the same relationship with an explicit Go
// struct instead: Obj is itself the header (it is heap-allocated and holds
// the cache back-pointer), and Obj.Bytes is the payload slice, a view into
// the cache's PMM-backed storage.
package kmem

import (
	"simplix/hwint"
	"simplix/kstats"
	"simplix/mem"
)

const (
	Granularity  = 3 // 1<<3 == 8-byte steps
	MinObjSize   = 8
	MaxObjSize   = 1024
	SlabCount    = MaxObjSize >> Granularity
	PagesPerCache = 8

	// nominal struct sizes, used only to reproduce the original capacity
	// formula; this package does not embed real headers in the arena.
	cacheHeaderSize  = 24
	objectHeaderSize = 16
)

// Obj is a live allocation: the Go-native stand-in for "the object header
// immediately before the payload". Free(o) is the only way to release it.
type Obj struct {
	cache *cache_t
	Bytes []byte
}

type cache_t struct {
	slab     *slab_t
	store    []byte
	free     []*Obj
	total    int
	next     *cache_t
}

func (c *cache_t) hasFree() bool { return len(c.free) > 0 }

func (c *cache_t) pop() *Obj {
	n := len(c.free)
	o := c.free[n-1]
	c.free = c.free[:n-1]
	return o
}

func (c *cache_t) push(o *Obj) {
	c.free = append(c.free, o)
}

type slab_t struct {
	classSize int
	head      *cache_t
}

// Kmem is a slab allocator instance bound to a physical memory manager.
type Kmem struct {
	pmm   *mem.Physmem_t
	slabs [SlabCount]slab_t
}

// Global is the kernel's one object allocator, initialized once at boot by
// Init (Design Notes §9: module-scoped singleton container).
var Global = &Kmem{}

func Init(pmm *mem.Physmem_t) *Kmem {
	k := &Kmem{pmm: pmm}
	for i := range k.slabs {
		k.slabs[i].classSize = classSize(i)
	}
	*Global = *k
	return Global
}

func classSize(idx int) int {
	return (idx + 1) << Granularity
}

func classIndex(size int) int {
	return (size - 1) >> Granularity
}

func newCache(store []byte, slab *slab_t) *cache_t {
	capacityBytes := len(store) - cacheHeaderSize
	perObject := objectHeaderSize + slab.classSize
	n := capacityBytes / perObject
	if n <= 0 {
		panic("kmem: cache region too small for its size class")
	}
	c := &cache_t{slab: slab, store: store, total: n}
	off := cacheHeaderSize
	for i := 0; i < n; i++ {
		c.free = append(c.free, &Obj{cache: c, Bytes: store[off : off+slab.classSize]})
		off += slab.classSize
	}
	return c
}

// Alloc allocates size bytes, 0 < size <= MaxObjSize, without zeroing them.
// Returns nil on exhaustion of the backing physical memory manager.
func (k *Kmem) Alloc(size int) *Obj {
	if size <= 0 || size > MaxObjSize {
		panic("kmem: Alloc with invalid size")
	}
	idx := classIndex(size)

	g := hwint.Off()
	slab := &k.slabs[idx]
	if slab.head != nil && slab.head.hasFree() {
		o := slab.head.pop()
		g.Restore()
		kstats.Kernel.KmemAllocs.Inc()
		return o
	}
	g.Restore()

	addr, ok := k.pmm.AllocRaw(PagesPerCache)
	if !ok {
		return nil
	}
	store := k.pmm.Bytes(addr, PagesPerCache*mem.PGSIZE)
	c := newCache(store, slab)

	g = hwint.Off()
	c.next = slab.head
	slab.head = c
	o := c.pop()
	g.Restore()
	kstats.Kernel.KmemAllocs.Inc()
	return o
}

// AllocZero allocates size bytes and zeroes them.
func (k *Kmem) AllocZero(size int) *Obj {
	o := k.Alloc(size)
	if o == nil {
		return nil
	}
	clear(o.Bytes)
	return o
}

// Free returns o's storage to its owning cache's free list and promotes
// that cache to the head of its slab, so the next Alloc of the same size
// class prefers it. Double-free is undefined behavior, as in the original.
func (k *Kmem) Free(o *Obj) {
	g := hwint.Off()
	defer g.Restore()

	c := o.cache
	c.push(o)
	kstats.Kernel.KmemFrees.Inc()

	slab := c.slab
	if slab.head == c {
		return
	}
	prev := slab.head
	for prev != nil && prev.next != c {
		prev = prev.next
	}
	if prev != nil {
		prev.next = c.next
	}
	c.next = slab.head
	slab.head = c
}

// FreeCount reports the free-list length of the cache owning o, for tests.
func (o *Obj) FreeCount() int {
	g := hwint.Off()
	defer g.Restore()
	return len(o.cache.free)
}

// headCacheTotal reports the total object count of the cache currently at
// the head of the size class serving size-byte objects (S2: "nr_free_objects
// equals the original capacity" after a full free cycle).
func (k *Kmem) headCacheTotal(size int) int {
	idx := classIndex(size)
	g := hwint.Off()
	defer g.Restore()
	if k.slabs[idx].head == nil {
		return 0
	}
	return k.slabs[idx].head.total
}
