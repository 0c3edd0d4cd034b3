// Package cachemgr implements a scheduler layered above kvcache/paged: the
// "smart eviction policies" spec.md §1 names as a collaborator of the core
// but explicitly keeps out of it. It supplements the distilled spec with
// behavior the original system had and the distillation dropped, modeled
// directly on runner/llamarunner/cache.go's InputCache/InputCacheSlot.
package cachemgr

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ollama/paged-kvcache/internal/logutil"
	"github.com/ollama/paged-kvcache/kvcache/paged"
)

// ErrNoAvailableSlot is returned when every slot is in use and none can be
// evicted to make room for a new sequence.
var ErrNoAvailableSlot = errors.New("cachemgr: no available cache slot")

// Slot tracks the scheduling metadata for one sequence's share of the
// paged cache, mirroring runner/llamarunner/cache.go's InputCacheSlot.
type Slot struct {
	Seq paged.SeqID

	// InUse reports whether this slot is actively being processed.
	InUse bool

	// lastUsed records when this slot was last handed to a caller, used
	// to pick an eviction victim when the pool is exhausted.
	lastUsed time.Time
}

// Manager owns one Allocator, one Table, and a fixed set of scheduling
// slots, and decides how to satisfy capacity requests: grow the
// requesting sequence if room allows, otherwise evict an idle sequence
// and retry. Which sequence it evicts depends on multiUserCache, mirroring
// runner/llamarunner/cache.go's InputCache.multiUserCache switch between
// findBestCacheSlot (true LRU) and findLongestCacheSlot (protect the
// slot with the most accumulated state).
//
// Manager is not internally synchronized, for the same reason paged.Table
// isn't: the cooperative single-writer model of spec.md §5 extends to
// this layer too. Callers serialize their own access.
type Manager struct {
	alloc *paged.Allocator
	table *paged.Table

	numCtx int // per-slot token capacity budget used by ShiftContext
	slots  []Slot

	multiUserCache bool

	log *slog.Logger
}

// NewManager creates a Manager over a pool of totalCells cells split into
// numSlots scheduling slots, each with token budget numCtx =
// totalCells/blockSize/numSlots worth of blocks (callers reserve blocks
// lazily via Reserve, same as the teacher's lazy KV cache fill).
//
// multiUserCache selects the eviction-victim policy, matching the
// teacher's NewInputCache(lc, kvSize, numSlots, multiUserCache) signature
// and threaded the same way: the caller decides the value (typically from
// envconfig.PagedMultiUserCache) and passes it in explicitly rather than
// Manager reading configuration itself.
func NewManager(totalCells, blockSize uint32, numSlots int, multiUserCache bool, log *slog.Logger) (*Manager, error) {
	if numSlots <= 0 {
		return nil, fmt.Errorf("cachemgr: numSlots must be > 0, got %d", numSlots)
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		alloc:          paged.NewAllocator(totalCells, blockSize),
		table:          paged.NewTable(blockSize),
		slots:          make([]Slot, numSlots),
		multiUserCache: multiUserCache,
		log:            log,
	}
	for i := range m.slots {
		m.slots[i].Seq = paged.SeqID(i)
	}
	m.numCtx = int(m.alloc.Total()) / numSlots * int(blockSize)

	return m, nil
}

// Allocator exposes the underlying allocator for read-only inspection
// (e.g. by cmd/pagedctl).
func (m *Manager) Allocator() *paged.Allocator { return m.alloc }

// Table exposes the underlying table for read-only inspection.
func (m *Manager) Table() *paged.Table { return m.table }

// Reserve ensures seq has enough blocks to hold wantTokens total tokens,
// allocating new blocks as needed. If the pool is exhausted it picks an
// eviction victim via pickEvictionVictim and retries once per freed block.
// Marks seq InUse and updates lastUsed.
func (m *Manager) Reserve(seq paged.SeqID, wantTokens uint32) error {
	slot := m.slotFor(seq)
	slot.InUse = true
	slot.lastUsed = time.Now()

	for m.table.NeedsNewBlock(seq, wantTokens) {
		if !m.alloc.CanAllocate(1) {
			victim, ok := m.pickEvictionVictim(seq)
			if !ok {
				return ErrNoAvailableSlot
			}

			m.log.Debug("evicting cache slot",
				"victim", victim.Seq, "blocks", m.table.NumBlocksFor(victim.Seq))
			m.table.FreeSeq(victim.Seq, m.alloc)
		}

		id, err := m.alloc.Allocate()
		if err != nil {
			return fmt.Errorf("cachemgr: reserve seq %v: %w", seq, err)
		}
		m.table.AppendBlock(seq, id)
		logutil.Trace("reserved block", "seq", seq, "block", id, "num_free", m.alloc.NumFree())
	}

	return nil
}

// pickEvictionVictim chooses an idle slot (not seq itself, not InUse) to
// free up for seq. The policy depends on multiUserCache, mirroring the
// teacher's split between findBestCacheSlot and findLongestCacheSlot:
//
//   - multiUserCache true: true LRU, oldest lastUsed first
//     (findBestCacheSlot) — fair across many short-lived sequences.
//   - multiUserCache false: evict the idle slot with the fewest blocks
//     first, protecting the slot with the most accumulated state from
//     eviction (findLongestCacheSlot's single-user intent of reusing the
//     same slot's cache hit rate over and over, expressed in block count
//     rather than token-content overlap since Table carries no token
//     content).
func (m *Manager) pickEvictionVictim(except paged.SeqID) (*Slot, bool) {
	var victim *Slot
	for i := range m.slots {
		s := &m.slots[i]
		if s.Seq == except || s.InUse || !m.table.HasSeq(s.Seq) {
			continue
		}
		if victim == nil || m.isBetterVictim(s, victim) {
			victim = s
		}
	}
	return victim, victim != nil
}

// isBetterVictim reports whether candidate should be preferred over current
// as the eviction victim, per the policy pickEvictionVictim documents.
func (m *Manager) isBetterVictim(candidate, current *Slot) bool {
	if m.multiUserCache {
		return candidate.lastUsed.Before(current.lastUsed)
	}
	return m.table.NumBlocksFor(candidate.Seq) < m.table.NumBlocksFor(current.Seq)
}

func (m *Manager) slotFor(seq paged.SeqID) *Slot {
	for i := range m.slots {
		if m.slots[i].Seq == seq {
			return &m.slots[i]
		}
	}
	// Sequences beyond the preconfigured slot set get a slot appended on
	// first use and take part in eviction selection like the others.
	m.slots = append(m.slots, Slot{Seq: seq})
	return &m.slots[len(m.slots)-1]
}

// Release marks seq as no longer actively being processed, making it
// eligible as an eviction victim, without freeing its blocks.
func (m *Manager) Release(seq paged.SeqID) {
	m.slotFor(seq).InUse = false
}

// ShiftContext frees the oldest half of seq's context to make room for
// further generation, preserving the first numKeep tokens, mirroring
// runner/llamarunner/cache.go's ShiftCacheSlot discard-half heuristic
// expressed in blocks instead of raw KV tensor shifting (this package's
// equivalent has O(blocks) rather than O(tokens) cost, per spec.md §5).
func (m *Manager) ShiftContext(seq paged.SeqID, numKeep, currentLen int) error {
	if numKeep >= m.numCtx {
		return fmt.Errorf("cachemgr: shift context - keep (%d) exceeds context (%d)", numKeep, m.numCtx)
	}

	targetFree := max((m.numCtx-numKeep)/2, 1)
	currentFree := m.numCtx - currentLen
	discard := max(targetFree-currentFree, 0)
	if discard <= 0 {
		return nil
	}

	m.log.Debug("context limit hit - shifting",
		"seq", seq, "limit", m.numCtx, "input", currentLen, "keep", numKeep, "discard", discard)

	// RemoveBlocksRange floors its start to a block boundary, so round
	// numKeep up first to keep the block holding the last kept token.
	bs := uint64(m.table.BlockSize())
	start := (uint64(numKeep) + bs - 1) / bs * bs
	m.table.RemoveBlocksRange(seq, start, uint64(numKeep+discard), m.alloc)
	return nil
}

// Fork shares src's blocks with dst copy-on-write and carries over dst's
// scheduling bookkeeping, mirroring findBestCacheSlot's forking branch
// ("forking cache slot").
func (m *Manager) Fork(src, dst paged.SeqID) {
	m.log.Debug("forking cache slot", "src", src, "dst", dst, "blocks", m.table.NumBlocksFor(src))

	m.table.Share(src, dst, m.alloc)

	dstSlot := m.slotFor(dst)
	dstSlot.InUse = true
	dstSlot.lastUsed = time.Now()
}

// Evict frees seq's blocks unconditionally and marks its slot idle; the
// slot itself and its lastUsed time are kept.
func (m *Manager) Evict(seq paged.SeqID) {
	m.table.FreeSeq(seq, m.alloc)
	m.slotFor(seq).InUse = false
}
