package oid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssndb/internal/tuple"
)

func TestWindowAllocatesDenseOIDs(t *testing.T) {
	a := NewAllocator(4)
	w := a.NewWindow()

	var got []OID
	for i := 0; i < 10; i++ {
		got = append(got, w.Next())
	}
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i], "a single window's OIDs must be dense")
	}
	assert.NotEqual(t, Invalid, got[0])
}

func TestConcurrentWindowsNeverCollide(t *testing.T) {
	a := NewAllocator(8)
	const workers = 8
	const perWorker = 200

	seen := make([][]OID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := a.NewWindow()
			for j := 0; j < perWorker; j++ {
				seen[i] = append(seen[i], w.Next())
			}
		}()
	}
	wg.Wait()

	all := make(map[OID]bool)
	for _, ids := range seen {
		for _, id := range ids {
			require.False(t, all[id], "OID %d allocated twice", id)
			all[id] = true
		}
	}
	assert.Len(t, all, workers*perWorker)
}

func TestInstallHeadOnlySucceedsOnce(t *testing.T) {
	v := NewVector()
	o := OID(1)
	first := tuple.NewRecord(1, nil, []byte("a"))
	second := tuple.NewRecord(2, nil, []byte("b"))

	assert.True(t, v.InstallHead(o, first))
	assert.False(t, v.InstallHead(o, second))
	assert.Same(t, first, v.Load(o))
}

func TestUpdateHeadChainsOnSuccessor(t *testing.T) {
	v := NewVector()
	o := OID(2)
	v1 := tuple.NewRecord(1, nil, []byte("v1"))
	require.True(t, v.InstallHead(o, v1))

	v2 := tuple.NewRecord(2, v1, []byte("v2"))
	assert.True(t, v.UpdateHead(o, v1, v2))
	assert.Same(t, v2, v.Load(o))
	assert.Same(t, v1, v.Load(o).Next)

	stale := tuple.NewRecord(3, v1, []byte("stale"))
	assert.False(t, v.UpdateHead(o, v1, stale), "stale CAS against superseded head must fail")
}

func TestUnlinkHeadRestoresPredecessor(t *testing.T) {
	v := NewVector()
	o := OID(3)
	v1 := tuple.NewRecord(1, nil, []byte("v1"))
	require.True(t, v.InstallHead(o, v1))
	v2 := tuple.NewRecord(2, v1, []byte("v2"))
	require.True(t, v.UpdateHead(o, v1, v2))

	assert.True(t, v.UnlinkHead(o, v2, v1))
	assert.Same(t, v1, v.Load(o))
}

func TestCollapseSelfOverwriteReplacesHeadDirectly(t *testing.T) {
	v := NewVector()
	o := OID(4)
	v1 := tuple.NewRecord(1, nil, []byte("v1"))
	require.True(t, v.InstallHead(o, v1))

	v1b := tuple.NewRecord(1, v1.Next, []byte("v1b"))
	v.CollapseSelfOverwrite(o, v1b)
	assert.Same(t, v1b, v.Load(o))
}

func TestVectorGrowsPastFirstBlock(t *testing.T) {
	v := NewVector()
	far := OID(blockSize + 10) // forces a second-level block allocation
	r := tuple.NewRecord(1, nil, nil)
	assert.True(t, v.InstallHead(far, r))
	assert.Same(t, r, v.Load(far))
}

func TestConcurrentSlotAllocationNeverLosesAWrite(t *testing.T) {
	v := NewVector()
	// Many goroutines race to install into OIDs that all land in the same
	// not-yet-allocated block, so their first slot() calls race on the
	// block-install CAS itself; every install must still be visible
	// through whichever block pointer wins.
	const workers = 64
	base := OID(5 * blockSize)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := base + OID(i)
			r := tuple.NewRecord(uint64(i), nil, nil)
			require.True(t, v.InstallHead(o, r))
		}()
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		assert.NotNil(t, v.Load(base+OID(i)), "install from worker %d must be visible", i)
	}
}
