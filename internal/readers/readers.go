// Package readers implements a bounded per-tuple reader list: a small
// bitmap embedded in each version (see internal/tuple) whose set bits
// index a process-wide table of reader XIDs. Slot allocation is
// "core-sticky" — each logical worker claims one slot from the SlotTable
// once and reuses it for the rest of its life, the same per-core
// reservation style as internal/oid's extent allocator.
package readers

import (
	"math/bits"
	"sync/atomic"

	"ssndb/internal/xid"
)

// DefaultWidth is the default reader bitmap width.
const DefaultWidth = 24

// SlotTable is the process-wide table of reader XIDs that tuple bitmaps
// index into. One SlotTable is shared by every tuple in the engine.
type SlotTable struct {
	width int
	xids  []atomic.Uint64 // xid.XID stored as uint64; 0 == xid.Invalid
	next  atomic.Uint32   // round-robin slot assignment counter
}

// NewSlotTable creates a table with the given width (number of reader
// slots / bitmap bits). width must be <= 32 since Bitmap is a uint32.
func NewSlotTable(width int) *SlotTable {
	if width <= 0 {
		width = DefaultWidth
	}
	if width > 32 {
		width = 32
	}
	return &SlotTable{width: width, xids: make([]atomic.Uint64, width)}
}

// Width reports the number of slots.
func (t *SlotTable) Width() int { return t.width }

// Slot is a core-sticky handle into a SlotTable, obtained once per logical
// worker (goroutine) and reused across every transaction that worker runs.
type Slot struct {
	table *SlotTable
	index uint32
}

// AllocateSlot assigns the next slot in round-robin order. Workers call this
// once at startup, not per transaction.
func (t *SlotTable) AllocateSlot() *Slot {
	idx := t.next.Add(1) - 1
	return &Slot{table: t, index: idx % uint32(t.width)}
}

// Index returns the slot's bit position / table index.
func (s *Slot) Index() uint32 { return s.index }

// SetXID publishes the XID that now owns this slot, as part of
// registration.
func (s *Slot) SetXID(x xid.XID) {
	s.table.xids[s.index].Store(uint64(x))
}

// xidAt reads the XID currently occupying a slot index, for use during
// enumeration.
func (t *SlotTable) xidAt(i uint32) xid.XID {
	return xid.XID(t.xids[i].Load())
}

// Bitmap is the per-tuple reader bitmap, embedded directly in each
// version's header (internal/tuple.Record) so that it is indexed by the
// tuple address for free — it lives at that address.
type Bitmap struct {
	bits atomic.Uint32
	// pessimistic marks a tuple whose reader set overflowed the bitmap's
	// capacity at some point.
	pessimistic atomic.Bool
}

// Register sets bit slot.Index() in the bitmap and stores xid at that slot
// in the table. Returns false if the tuple's reader set already occupies
// every bit the table can offer (width distinct live readers already
// registered) and slot.Index() is not already one of them — registration
// capacity overflow. On overflow the tuple is marked pessimistic and the
// caller should record the read without a precise pstamp contribution,
// per the reader-list capacity-overflow handling.
func (b *Bitmap) Register(slot *Slot, x xid.XID) bool {
	slot.SetXID(x)
	bit := uint32(1) << slot.Index()
	for {
		old := b.bits.Load()
		if old&bit != 0 {
			return true
		}
		if bits.OnesCount32(old) >= slot.table.width {
			b.MarkPessimistic()
			return false
		}
		if b.bits.CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// Deregister clears slot.Index() in the bitmap.
func (b *Bitmap) Deregister(slot *Slot) {
	mask := ^uint32(1 << slot.Index())
	for {
		old := b.bits.Load()
		new := old & mask
		if old == new {
			return
		}
		if b.bits.CompareAndSwap(old, new) {
			return
		}
	}
}

// IsPessimistic reports whether this tuple has ever overflowed reader-list
// capacity; writers assume pstamp := cstamp-1 immediately for such tuples.
func (b *Bitmap) IsPessimistic() bool { return b.pessimistic.Load() }

// MarkPessimistic flags the tuple as pessimistic.
func (b *Bitmap) MarkPessimistic() { b.pessimistic.Store(true) }

// Enumerate calls fn once for every reader XID currently indicated by the
// bitmap, re-reading each slot's XID at call time (since a slot may have
// been recycled by another reader between registration and enumeration —
// the owner-check pattern at the context-table layer, not here, is what
// protects correctness).
func (t *SlotTable) Enumerate(b *Bitmap, fn func(xid.XID)) {
	mask := b.bits.Load()
	for mask != 0 {
		i := bits.TrailingZeros32(mask)
		fn(t.xidAt(uint32(i)))
		mask &^= 1 << uint(i)
	}
}
