package paged

import "testing"

func TestAllocatorBasicLifecycle(t *testing.T) {
	a := NewAllocator(128, 32)

	if got := a.Total(); got != 4 {
		t.Fatalf("Total() = %v, want 4", got)
	}
	if got := a.NumFree(); got != 4 {
		t.Fatalf("NumFree() = %v, want 4", got)
	}

	ids := make(map[BlockID]bool)
	for i := 0; i < 4; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		ids[id] = true
	}
	if len(ids) != 4 {
		t.Fatalf("allocated ids not distinct: %v", ids)
	}
	if got := a.NumFree(); got != 0 {
		t.Fatalf("NumFree() = %v, want 0", got)
	}
	if a.CanAllocate(1) {
		t.Fatalf("CanAllocate(1) = true, want false when exhausted")
	}

	a.FreeBlock(2)
	if got := a.NumFree(); got != 1 {
		t.Fatalf("NumFree() after free = %v, want 1", got)
	}
	if got := a.RefCount(2); got != 0 {
		t.Fatalf("RefCount(2) = %v, want 0", got)
	}

	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if got != 2 {
		t.Fatalf("Allocate() after free = %v, want 2 (LIFO)", got)
	}
}

func TestAllocatorRefCounting(t *testing.T) {
	a := NewAllocator(64, 32) // 2 blocks

	b0, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if got := a.RefCount(b0); got != 1 {
		t.Fatalf("RefCount = %v, want 1", got)
	}

	a.IncRef(b0)
	if got := a.RefCount(b0); got != 2 {
		t.Fatalf("RefCount after IncRef = %v, want 2", got)
	}

	a.FreeBlock(b0)
	if got := a.RefCount(b0); got != 1 {
		t.Fatalf("RefCount after first FreeBlock = %v, want 1", got)
	}
	if got := a.NumFree(); got != 1 {
		t.Fatalf("NumFree after first FreeBlock = %v, want 1", got)
	}

	a.FreeBlock(b0)
	if got := a.RefCount(b0); got != 0 {
		t.Fatalf("RefCount after second FreeBlock = %v, want 0", got)
	}
	if got := a.NumFree(); got != 2 {
		t.Fatalf("NumFree after second FreeBlock = %v, want 2", got)
	}
}

func TestAllocatorCanAllocate(t *testing.T) {
	a := NewAllocator(96, 32) // 3 blocks

	if !a.CanAllocate(1) || !a.CanAllocate(3) {
		t.Fatalf("CanAllocate(1)/(3) should be true with 3 free blocks")
	}
	if a.CanAllocate(4) {
		t.Fatalf("CanAllocate(4) should be false with only 3 blocks total")
	}

	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}

	if !a.CanAllocate(1) {
		t.Fatalf("CanAllocate(1) should be true with 1 free block")
	}
	if a.CanAllocate(2) {
		t.Fatalf("CanAllocate(2) should be false with 1 free block")
	}
}

func TestAllocatorFreeAll(t *testing.T) {
	a := NewAllocator(128, 32) // 4 blocks

	var ids []BlockID
	for i := 0; i < 4; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if got := a.NumFree(); got != 0 {
		t.Fatalf("NumFree() = %v, want 0", got)
	}

	for _, id := range ids {
		a.FreeBlock(id)
	}
	if got := a.NumFree(); got != 4 {
		t.Fatalf("NumFree() after freeing all = %v, want 4", got)
	}
}

func TestAllocatorAllocateExhausted(t *testing.T) {
	a := NewAllocator(32, 32) // 1 block

	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Allocate(); err != ErrNoFreeBlocks {
		t.Fatalf("Allocate() on exhausted pool = %v, want ErrNoFreeBlocks", err)
	}
}

func TestAllocatorIntegerDivisionDiscardsRemainder(t *testing.T) {
	// 100 cells / 32 per block = 3 blocks (4 remainder cells unreachable).
	a := NewAllocator(100, 32)
	if got := a.Total(); got != 3 {
		t.Fatalf("Total() = %v, want 3 (integer division discards remainder)", got)
	}
}

func TestAllocatorPreconditionPanics(t *testing.T) {
	mustPanic := func(name string, f func()) {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: expected panic", name)
				}
			}()
			f()
		})
	}

	mustPanic("block size zero", func() { NewAllocator(128, 0) })
	mustPanic("total cells less than block size", func() { NewAllocator(16, 32) })

	mustPanic("free below zero", func() {
		a := NewAllocator(32, 32)
		id, _ := a.Allocate()
		a.FreeBlock(id)
		a.FreeBlock(id) // already zero
	})

	mustPanic("inc_ref on free block", func() {
		a := NewAllocator(32, 32)
		a.IncRef(0)
	})

	mustPanic("ref count out of range", func() {
		a := NewAllocator(32, 32)
		a.RefCount(5)
	})
}
