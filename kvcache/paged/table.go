package paged

// SeqID is an opaque, caller-supplied sequence identifier. The table
// treats it only as a map key; it carries no meaning of its own.
type SeqID int64

// Table maps each sequence to an ordered list of physical block ids and
// performs the logical-position-to-physical-cell-index translation that
// attention kernels depend on bit-exactly (spec.md §4.2, §6).
//
// Table holds only integer block ids, never pointers into an Allocator's
// arrays ("arena + index", spec.md §9): every mutating method that affects
// a block's ref count takes the Allocator as an explicit parameter rather
// than Table owning one, so ownership of the pool stays with whoever wires
// Table and Allocator together.
type Table struct {
	blockSize uint32
	blocks    map[SeqID][]BlockID
}

// NewTable creates an empty block table for a pool using the given block
// size, which must match the Allocator it will be used with.
func NewTable(blockSize uint32) *Table {
	return &Table{
		blockSize: blockSize,
		blocks:    make(map[SeqID][]BlockID),
	}
}

// BlockSize returns the block size this table was constructed with.
func (t *Table) BlockSize() uint32 { return t.blockSize }

// LogicalToPhysical translates a logical token position for seq into a
// physical cell index within the external KV pool:
//
//	cell = blocks[pos/blockSize] * blockSize + (pos % blockSize)
//
// This formula is a contract: external attention kernels depend on it
// bit-exactly. Panics if seq is absent or pos falls beyond the sequence's
// allocated blocks.
func (t *Table) LogicalToPhysical(seq SeqID, pos int64) uint32 {
	return uint32(t.getBlockID("LogicalToPhysical", seq, pos))*t.blockSize + uint32(pos)%t.blockSize
}

// AppendBlock appends id to the end of seq's block list, creating the
// sequence entry if this is its first block. The caller must have already
// obtained id with a ref count of at least 1 (via Allocator.Allocate or a
// prior Share) — AppendBlock does not touch ref counts.
func (t *Table) AppendBlock(seq SeqID, id BlockID) {
	t.blocks[seq] = append(t.blocks[seq], id)
}

// NeedsNewBlock reports whether seq requires another block to hold a total
// of newTotalTokens tokens.
func (t *Table) NeedsNewBlock(seq SeqID, newTotalTokens uint32) bool {
	return newTotalTokens > t.Capacity(seq)
}

// Capacity returns the token capacity currently allocated to seq
// (numBlocksFor(seq) * blockSize), or 0 if seq is absent.
func (t *Table) Capacity(seq SeqID) uint32 {
	return t.NumBlocksFor(seq) * t.blockSize
}

// NumBlocksFor returns the number of blocks allocated to seq, or 0 if seq
// is absent.
func (t *Table) NumBlocksFor(seq SeqID) uint32 {
	return uint32(len(t.blocks[seq]))
}

// HasSeq reports whether seq has an entry in the table.
func (t *Table) HasSeq(seq SeqID) bool {
	_, ok := t.blocks[seq]
	return ok
}

// GetBlockID returns the physical block id backing pos in seq.
// Panics under the same preconditions as LogicalToPhysical.
func (t *Table) GetBlockID(seq SeqID, pos int64) BlockID {
	return t.getBlockID("GetBlockID", seq, pos)
}

func (t *Table) getBlockID(op string, seq SeqID, pos int64) BlockID {
	if pos < 0 {
		precondition(op, "pos must be >= 0")
	}

	ids, ok := t.blocks[seq]
	if !ok {
		precondition(op, "sequence not found")
	}

	logicalBlock := uint64(pos) / uint64(t.blockSize)
	if logicalBlock >= uint64(len(ids)) {
		precondition(op, "position exceeds allocated blocks")
	}

	return ids[logicalBlock]
}

// ReplaceBlock overwrites the block id at logicalIdx in seq's list. Used
// for copy-on-write: when about to mutate a shared block, the caller
// allocates a new block, copies the KV data externally, calls
// ReplaceBlock, and must separately FreeBlock the old id.
func (t *Table) ReplaceBlock(seq SeqID, logicalIdx uint32, newID BlockID) {
	ids, ok := t.blocks[seq]
	if !ok {
		precondition("ReplaceBlock", "sequence not found")
	}
	if logicalIdx >= uint32(len(ids)) {
		precondition("ReplaceBlock", "logical_idx out of range")
	}

	ids[logicalIdx] = newID
}

// Share copies src's block list into dst and bumps the ref count of every
// shared block via alloc. After Share, src and dst see identical
// translations for every position within src's capacity.
//
// Share overwrites any prior dst entry outright — it does not free dst's
// previously-owned blocks first. If dst held blocks of its own, the caller
// must FreeSeq(dst, alloc) before calling Share or those blocks' ref
// counts leak. This is a deliberate, documented contract (spec.md §9), not
// guarded against here.
//
// Panics if src is absent.
func (t *Table) Share(src, dst SeqID, alloc *Allocator) {
	srcIDs, ok := t.blocks[src]
	if !ok {
		precondition("Share", "source sequence not found")
	}

	dstIDs := make([]BlockID, len(srcIDs))
	copy(dstIDs, srcIDs)
	t.blocks[dst] = dstIDs

	for _, id := range dstIDs {
		alloc.IncRef(id)
	}
}

// FreeSeq releases every block held by seq back through alloc and removes
// seq from the table. A no-op, idempotent, if seq is absent.
func (t *Table) FreeSeq(seq SeqID, alloc *Allocator) {
	ids, ok := t.blocks[seq]
	if !ok {
		return
	}

	for _, id := range ids {
		alloc.FreeBlock(id)
	}

	delete(t.blocks, seq)
}

// RemoveBlocksRange frees the blocks of seq that cover the logical
// position range [posStart, posEnd) and removes them from seq's block
// list, shifting later blocks left to close the gap. Surviving blocks
// keep their original identity and order; only the logical index mapping
// to them changes — this is what makes context shift O(blocks removed)
// rather than O(tokens moved).
//
// Block coverage is computed at block granularity:
//
//	blockStart = posStart / blockSize           (floor)
//	blockEnd   = ceil(posEnd / blockSize)        (round up), clamped to len(blocks)
//
// Both ends round outward: a block only partly inside the range is freed
// in full, whether it straddles posStart (when posStart isn't
// block-aligned) or posEnd (when posEnd isn't block-aligned). This
// matches the original source's behavior exactly (spec.md §9) and is
// preserved as-is; callers needing sub-block truncation must handle it
// externally.
//
// A no-op if seq is absent or blockStart >= blockEnd after clamping (for
// example posStart at or past the end of seq's blocks, or an empty range
// at a block boundary).
//
// If the range removes every block seq has, seq is left with a present but
// empty entry ("erase(begin,end)" on the whole list, not erase-the-key) —
// HasSeq still reports true and Capacity reports 0. This matches the
// original C++ source exactly but is a narrow exception to spec.md §4.2's
// "empty sequences never appear in the map"; callers that need the entry
// gone too must call FreeSeq.
func (t *Table) RemoveBlocksRange(seq SeqID, posStart, posEnd uint64, alloc *Allocator) {
	ids, ok := t.blocks[seq]
	if !ok {
		return
	}

	blockStart := posStart / uint64(t.blockSize)
	blockEnd := (posEnd + uint64(t.blockSize) - 1) / uint64(t.blockSize)
	if blockEnd > uint64(len(ids)) {
		blockEnd = uint64(len(ids))
	}

	if blockStart >= blockEnd {
		return
	}

	for i := blockStart; i < blockEnd; i++ {
		alloc.FreeBlock(ids[i])
	}

	t.blocks[seq] = append(ids[:blockStart], ids[blockEnd:]...)
}

// Clear frees every sequence's blocks through alloc and empties the table.
func (t *Table) Clear(alloc *Allocator) {
	for seq := range t.blocks {
		t.FreeSeq(seq, alloc)
	}
}
