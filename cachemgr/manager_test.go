package cachemgr

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerReserveGrowsBlocks(t *testing.T) {
	m, err := NewManager(256, 32, 4, true, discardLogger()) // 8 blocks, 4 slots -> numCtx 64
	require.NoError(t, err)

	require.NoError(t, m.Reserve(0, 1))
	require.Equal(t, uint32(1), m.Table().NumBlocksFor(0))

	require.NoError(t, m.Reserve(0, 64))
	require.Equal(t, uint32(2), m.Table().NumBlocksFor(0))
}

func TestManagerReserveEvictsIdleSlot(t *testing.T) {
	m, err := NewManager(256, 32, 2, true, discardLogger()) // 8 blocks, 2 slots -> numCtx 128
	require.NoError(t, err)

	require.NoError(t, m.Reserve(0, 256)) // consumes all 8 blocks in the pool
	m.Release(0)

	require.NoError(t, m.Reserve(1, 32))
	require.True(t, m.Table().HasSeq(1))
	require.False(t, m.Table().HasSeq(0), "idle seq 0 should have been evicted to make room")
}

func TestManagerReserveFailsWhenNoVictim(t *testing.T) {
	m, err := NewManager(256, 32, 2, true, discardLogger()) // 8 blocks
	require.NoError(t, err)

	require.NoError(t, m.Reserve(0, 128))
	require.NoError(t, m.Reserve(1, 128))
	// both seq 0 and seq 1 remain InUse (Reserve marks InUse=true), so no
	// eviction candidate exists for a third sequence.
	err = m.Reserve(2, 32)
	require.ErrorIs(t, err, ErrNoAvailableSlot)
}

// TestManagerReserveMultiUserEvictsOldest checks that with multiUserCache
// true, Reserve evicts the truly-oldest idle slot regardless of how many
// blocks it holds, matching findBestCacheSlot's LRU policy.
func TestManagerReserveMultiUserEvictsOldest(t *testing.T) {
	m, err := NewManager(256, 32, 3, true, discardLogger()) // 8 blocks

	require.NoError(t, err)
	require.NoError(t, m.Reserve(0, 160)) // 5 blocks, oldest once released
	require.NoError(t, m.Reserve(1, 64))  // 2 blocks, newer; 1 block left free
	m.Release(0)
	m.Release(1)

	require.NoError(t, m.Reserve(2, 64)) // needs 2 blocks, only 1 free: must evict

	require.False(t, m.Table().HasSeq(0), "oldest idle slot (seq 0) should be evicted under LRU")
	require.True(t, m.Table().HasSeq(1), "newer idle slot (seq 1) should survive under LRU")
}

// TestManagerReserveSingleUserProtectsLargestSlot checks that with
// multiUserCache false, Reserve protects the idle slot with the most
// accumulated blocks and evicts the smallest one instead, even when it is
// the more recently used of the two — mirroring findLongestCacheSlot's
// intent of reusing the slot with the best cache hit rate.
func TestManagerReserveSingleUserProtectsLargestSlot(t *testing.T) {
	m, err := NewManager(256, 32, 3, false, discardLogger()) // 8 blocks

	require.NoError(t, err)
	require.NoError(t, m.Reserve(0, 160)) // 5 blocks, oldest once released
	require.NoError(t, m.Reserve(1, 64))  // 2 blocks, newer; 1 block left free
	m.Release(0)
	m.Release(1)

	require.NoError(t, m.Reserve(2, 64)) // needs 2 blocks, only 1 free: must evict

	require.True(t, m.Table().HasSeq(0), "largest idle slot (seq 0) should survive under the single-user policy")
	require.False(t, m.Table().HasSeq(1), "smallest idle slot (seq 1) should be evicted under the single-user policy")
}

func TestManagerShiftContext(t *testing.T) {
	m, err := NewManager(256, 32, 1, true, discardLogger()) // 8 blocks, numCtx=256
	require.NoError(t, err)

	require.NoError(t, m.Reserve(0, 256))
	require.Equal(t, uint32(8), m.Table().NumBlocksFor(0))

	err = m.ShiftContext(0, 0, 256)
	require.NoError(t, err)
	require.Less(t, m.Table().NumBlocksFor(0), uint32(8))
}

func TestManagerFork(t *testing.T) {
	m, err := NewManager(256, 32, 4, true, discardLogger())
	require.NoError(t, err)

	require.NoError(t, m.Reserve(0, 64))
	m.Fork(0, 1)

	require.Equal(t, m.Table().LogicalToPhysical(0, 0), m.Table().LogicalToPhysical(1, 0))
	require.Equal(t, uint32(2), m.Allocator().RefCount(m.Table().GetBlockID(0, 0)))
}

func TestManagerEvict(t *testing.T) {
	m, err := NewManager(256, 32, 2, true, discardLogger())
	require.NoError(t, err)

	require.NoError(t, m.Reserve(0, 32))
	m.Evict(0)
	require.False(t, m.Table().HasSeq(0))
}

func TestNewManagerRejectsZeroSlots(t *testing.T) {
	_, err := NewManager(256, 32, 0, true, discardLogger())
	require.Error(t, err)
}
