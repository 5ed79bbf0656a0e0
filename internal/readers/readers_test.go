package readers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssndb/internal/xid"
)

func TestRegisterSetsBitAndXID(t *testing.T) {
	table := NewSlotTable(4)
	slot := table.AllocateSlot()
	var bm Bitmap

	require.True(t, bm.Register(slot, xid.New(1, 1)))

	seen := []xid.XID(nil)
	table.Enumerate(&bm, func(x xid.XID) { seen = append(seen, x) })
	require.Len(t, seen, 1)
	assert.Equal(t, xid.New(1, 1), seen[0])
}

func TestDeregisterClearsBit(t *testing.T) {
	table := NewSlotTable(4)
	slot := table.AllocateSlot()
	var bm Bitmap

	bm.Register(slot, xid.New(2, 1))
	bm.Deregister(slot)

	count := 0
	table.Enumerate(&bm, func(xid.XID) { count++ })
	assert.Equal(t, 0, count)
}

func TestEnumerateVisitsEveryRegisteredSlot(t *testing.T) {
	table := NewSlotTable(DefaultWidth)
	var bm Bitmap

	slots := make([]*Slot, 0, 3)
	for i := 0; i < 3; i++ {
		s := table.AllocateSlot()
		slots = append(slots, s)
		bm.Register(s, xid.New(s.Index(), 1))
	}

	found := map[uint32]bool{}
	table.Enumerate(&bm, func(x xid.XID) { found[x.Slot()] = true })
	assert.Len(t, found, 3)
	for _, s := range slots {
		assert.True(t, found[s.Index()])
	}
}

func TestAllocateSlotWrapsAtWidth(t *testing.T) {
	table := NewSlotTable(2)
	a := table.AllocateSlot()
	b := table.AllocateSlot()
	c := table.AllocateSlot()
	assert.NotEqual(t, a.Index(), b.Index())
	assert.Equal(t, a.Index(), c.Index())
}

func TestPessimisticFlag(t *testing.T) {
	var bm Bitmap
	assert.False(t, bm.IsPessimistic())
	bm.MarkPessimistic()
	assert.True(t, bm.IsPessimistic())
}

func TestRegisterOverflowMarksPessimistic(t *testing.T) {
	table := NewSlotTable(2)
	var bm Bitmap

	s1 := table.AllocateSlot()
	s2 := table.AllocateSlot()
	s3 := table.AllocateSlot()

	require.True(t, bm.Register(s1, xid.New(1, 1)))
	require.True(t, bm.Register(s2, xid.New(2, 1)))
	assert.False(t, bm.IsPessimistic())

	ok := bm.Register(s3, xid.New(3, 1))
	assert.False(t, ok, "a third distinct reader must overflow a width-2 table")
	assert.True(t, bm.IsPessimistic())
}

func TestRegisterIsIdempotentForSameSlot(t *testing.T) {
	table := NewSlotTable(1)
	var bm Bitmap
	s := table.AllocateSlot()

	require.True(t, bm.Register(s, xid.New(1, 1)))
	require.True(t, bm.Register(s, xid.New(1, 2)), "re-registering the same slot must not count as overflow")
	assert.False(t, bm.IsPessimistic())
}

func TestNewSlotTableClampsWidth(t *testing.T) {
	table := NewSlotTable(64)
	assert.Equal(t, 32, table.Width())

	table = NewSlotTable(0)
	assert.Equal(t, DefaultWidth, table.Width())
}
