// Package paged implements a paged KV-cache memory manager: a block
// allocator and a per-sequence block table that translate a logical
// per-sequence token stream into physical cell indices within a fixed-size
// pool, using fixed-size, reference-counted, copy-on-write blocks.
//
// The package has two collaborators. Allocator owns the physical pool and
// knows nothing about sequences. Table owns the per-sequence block lists
// and is the sole authority on logical-to-physical translation; it holds no
// Allocator of its own (one is passed explicitly to every mutating method
// that needs to touch refcounts), so that ownership of the pool stays with
// whatever embeds both.
package paged

import (
	"github.com/emirpasic/gods/v2/stacks/arraystack"
)

// BlockID names one physical block of BlockSize contiguous KV cache cells.
// It is dense: valid IDs are in [0, Allocator.Total()).
type BlockID uint32

// Allocator owns a fixed pool of physical blocks, dispensing them from a
// free list and reference-counting them so blocks can be shared
// copy-on-write between sequences. Allocator has no notion of sequences or
// logical position; Table is the layer that adds that.
//
// Allocator is not internally synchronized; see spec.md §5 for the
// concurrency model this was built against.
type Allocator struct {
	blockSize uint32
	numBlocks uint32

	freeList *arraystack.Stack[BlockID]
	refCount []uint32
}

// NewAllocator creates an allocator over a pool of totalCells cells, split
// into fixed-size blocks of blockSize cells each.
//
// numBlocks = totalCells / blockSize using integer division: any remainder
// cells are unreachable. This mirrors the original C++ source
// (llama_block_allocator) exactly and is intentional, not a bug — the
// surrounding engine is expected to size totalCells as a multiple of
// blockSize.
//
// Panics (PreconditionError) if blockSize == 0 or totalCells < blockSize.
func NewAllocator(totalCells, blockSize uint32) *Allocator {
	if blockSize == 0 {
		precondition("NewAllocator", "block_size must be > 0")
	}
	if totalCells < blockSize {
		precondition("NewAllocator", "total_cells must be >= block_size")
	}

	numBlocks := totalCells / blockSize

	a := &Allocator{
		blockSize: blockSize,
		numBlocks: numBlocks,
		freeList:  arraystack.New[BlockID](),
		refCount:  make([]uint32, numBlocks),
	}

	// Push in descending order so block 0 is on top of the stack and is
	// the first one handed out by Allocate (spec: "LIFO... id 0 returned
	// first").
	for i := numBlocks; i > 0; i-- {
		a.freeList.Push(BlockID(i - 1))
	}

	return a
}

// BlockSize returns the number of cells per block.
func (a *Allocator) BlockSize() uint32 { return a.blockSize }

// Allocate pops a block off the free list, sets its ref count to 1, and
// returns it. Returns ErrNoFreeBlocks if the free list is empty; callers
// that want to check for exhaustion up front should call CanAllocate(1)
// first.
func (a *Allocator) Allocate() (BlockID, error) {
	id, ok := a.freeList.Pop()
	if !ok {
		return 0, ErrNoFreeBlocks
	}

	if a.refCount[id] != 0 {
		precondition("Allocate", "popped a block with a nonzero ref count")
	}
	a.refCount[id] = 1

	return id, nil
}

// FreeBlock decrements id's ref count. If it reaches zero, the block is
// returned to the free list. Panics if id is out of range or already has a
// ref count of zero (double-free is a precondition violation, not a no-op).
func (a *Allocator) FreeBlock(id BlockID) {
	a.checkID("FreeBlock", id)
	if a.refCount[id] == 0 {
		precondition("FreeBlock", "block is already free")
	}

	a.refCount[id]--
	if a.refCount[id] == 0 {
		a.freeList.Push(id)
	}
}

// IncRef increments id's ref count, used to share a block copy-on-write.
// Panics if id is out of range or currently free — a free block cannot be
// revived by IncRef, only by Allocate.
func (a *Allocator) IncRef(id BlockID) {
	a.checkID("IncRef", id)
	if a.refCount[id] == 0 {
		precondition("IncRef", "cannot inc_ref a free block")
	}

	a.refCount[id]++
}

// RefCount returns id's current reference count. Pure query; 0 means free.
func (a *Allocator) RefCount(id BlockID) uint32 {
	a.checkID("RefCount", id)
	return a.refCount[id]
}

// CanAllocate reports whether n blocks are currently free. This is the
// recoverable-failure pre-query: callers should check this before
// Allocate instead of handling ErrNoFreeBlocks reactively.
func (a *Allocator) CanAllocate(n uint32) bool {
	return uint32(a.freeList.Size()) >= n
}

// NumFree returns the number of blocks currently on the free list.
func (a *Allocator) NumFree() uint32 {
	return uint32(a.freeList.Size())
}

// Total returns the total number of physical blocks in the pool.
func (a *Allocator) Total() uint32 {
	return a.numBlocks
}

func (a *Allocator) checkID(op string, id BlockID) {
	if uint32(id) >= a.numBlocks {
		precondition(op, "block id out of range")
	}
}
