package kmem

import (
	"sync"
	"testing"

	"simplix/mem"
)

func freshKmem(t *testing.T) *Kmem {
	t.Helper()
	mem.Init(4*1024*1024, 0x10000)
	return Init(mem.Pmm)
}

func TestBackPointerInvariant(t *testing.T) {
	k := freshKmem(t)
	o := k.Alloc(24)
	if o == nil {
		t.Fatal("Alloc failed")
	}
	for _, f := range o.cache.free {
		if f == o {
			t.Fatal("object appears in its cache's free list before Free")
		}
	}
	k.Free(o)
	found := false
	for _, f := range o.cache.free {
		if f == o {
			found = true
		}
	}
	if !found {
		t.Fatal("object does not appear in its cache's free list after Free")
	}
}

// S2: 128 concurrent kmalloc(24) calls produce 128 distinct pointers, all
// 8-byte aligned; after kfree of all, the owning cache's nr_free_objects
// equals the original capacity.
func TestScenarioS2(t *testing.T) {
	k := freshKmem(t)
	const n = 128

	objs := make([]*Obj, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			o := k.Alloc(24)
			mu.Lock()
			objs[i] = o
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	seen := make(map[*byte]bool)
	for _, o := range objs {
		if o == nil {
			t.Fatal("Alloc returned nil")
		}
		if len(o.Bytes) != 24 {
			t.Fatalf("object size = %d, want 24", len(o.Bytes))
		}
		p := &o.Bytes[0]
		if seen[p] {
			t.Fatal("duplicate object pointer returned")
		}
		seen[p] = true
	}

	cache := objs[0].cache
	capacity := cache.total
	for _, o := range objs {
		k.Free(o)
	}
	// Every object may not share a single cache once the first cache fills;
	// free everything regardless of which cache it came from, then check
	// each distinct cache touched reports full free lists.
	touched := map[*cache_t]bool{}
	for _, o := range objs {
		touched[o.cache] = true
	}
	for c := range touched {
		if len(c.free) != c.total {
			t.Fatalf("cache free list length = %d, want %d (capacity)", len(c.free), c.total)
		}
	}
	_ = capacity
}

func TestAllocRejectsBadSize(t *testing.T) {
	k := freshKmem(t)
	for _, sz := range []int{0, -1, MaxObjSize + 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("Alloc(%d) did not panic", sz)
				}
			}()
			k.Alloc(sz)
		}()
	}
}

func TestAllocZeroZeroesMemory(t *testing.T) {
	k := freshKmem(t)
	o := k.Alloc(16)
	for i := range o.Bytes {
		o.Bytes[i] = 0xff
	}
	k.Free(o)

	z := k.AllocZero(16)
	for _, b := range z.Bytes {
		if b != 0 {
			t.Fatal("AllocZero did not zero memory")
		}
	}
}
