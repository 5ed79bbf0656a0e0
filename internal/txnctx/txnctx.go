// Package txnctx implements the transaction context table: a fixed-size
// array of per-transaction state slots, allocated with a generation
// counter baked into the returned XID so that any remote reader of a
// slot can detect recycling before trusting what it read.
package txnctx

import (
	"math"
	"sync"
	"sync/atomic"

	"ssndb/internal/lsn"
	"ssndb/internal/xid"
)

// State is a transaction's lifecycle stage.
type State uint32

const (
	// Embryo is a freshly allocated transaction that has not yet read or
	// written.
	Embryo State = iota
	// Active is a transaction that has begun reading/writing.
	Active
	// Committing means an end LSN has been claimed but post-commit (stamp
	// installation) is still in progress.
	Committing
	// Cmmtd is a committed transaction.
	Cmmtd
	// Abrtd is an aborted transaction.
	Abrtd
)

func (s State) String() string {
	switch s {
	case Embryo:
		return "EMBRYO"
	case Active:
		return "ACTIVE"
	case Committing:
		return "COMMITTING"
	case Cmmtd:
		return "CMMTD"
	case Abrtd:
		return "ABRTD"
	default:
		return "UNKNOWN"
	}
}

// InfinitySStamp is the sentinel sstamp value a context starts with,
// standing in for "∞" until some writer or reader scan narrows it.
const InfinitySStamp = math.MaxUint64

// Context is one transaction's slot: { owner, begin, end, state, pstamp,
// sstamp }. Every field is independently atomic because remote readers
// inspect a live context without holding any lock, using the owner-check
// pattern in Table.Snapshot.
type Context struct {
	owner atomic.Uint64 // xid.XID; Invalid (0) when the slot is free

	begin atomic.Uint64 // lsn.LSN
	end   atomic.Uint64 // lsn.LSN; Invalid (0) until pre_commit

	state atomic.Uint32

	pstamp atomic.Uint64
	sstamp atomic.Uint64
}

// Snapshot is a consistent-enough read of a Context, validated by
// re-reading owner after collecting every field (the context-table
// owner-check pattern mandatory on every cross-transaction inspection).
type Snapshot struct {
	Owner  xid.XID
	Begin  lsn.LSN
	End    lsn.LSN
	State  State
	PStamp uint64
	SStamp uint64
}

// Table is the fixed-size slot array. Allocation and free both touch the
// free list, guarded by a mutex since the free list sits off the
// per-operation read/write hot path; every other access to a Context is
// lock-free.
type Table struct {
	mu         sync.Mutex
	slots      []Context
	generation []uint32
	free       []uint32
}

// NewTable creates a table with size slots, all initially free.
func NewTable(size int) *Table {
	t := &Table{
		slots:      make([]Context, size),
		generation: make([]uint32, size),
		free:       make([]uint32, size),
	}
	for i := 0; i < size; i++ {
		t.free[i] = uint32(size - 1 - i)
	}
	return t
}

// Alloc acquires a free slot, bumps its generation, and publishes a new
// owner XID encoding (slot, generation). The returned Context starts in
// Embryo with begin set by the caller (txn.Begin knows the current LSN;
// the table does not depend on a logmgr import).
func (t *Table) Alloc() (xid.XID, *Context) {
	t.mu.Lock()
	n := len(t.free)
	if n == 0 {
		t.mu.Unlock()
		panic("txnctx: context table exhausted")
	}
	slot := t.free[n-1]
	t.free = t.free[:n-1]
	t.generation[slot]++
	gen := t.generation[slot]
	t.mu.Unlock()

	x := xid.New(slot, gen)
	ctx := &t.slots[slot]
	ctx.begin.Store(0)
	ctx.end.Store(0)
	ctx.state.Store(uint32(Embryo))
	ctx.pstamp.Store(0)
	ctx.sstamp.Store(InfinitySStamp)
	ctx.owner.Store(uint64(x))
	return x, ctx
}

// Free releases x's slot back to the free list. The caller must have
// already transitioned the context to Cmmtd or Abrtd; Free does not check
// state.
func (t *Table) Free(x xid.XID) {
	slot := x.Slot()
	ctx := &t.slots[slot]
	ctx.owner.Store(uint64(xid.Invalid))

	t.mu.Lock()
	t.free = append(t.free, slot)
	t.mu.Unlock()
}

// Context returns the raw slot for x without any owner check, for use by
// the owning transaction itself (which never races with its own
// recycling).
func (t *Table) Context(x xid.XID) *Context {
	return &t.slots[x.Slot()]
}

// Snapshot performs the mandatory owner-check read pattern: collect every
// field of interest into locals, then re-read owner; if it no longer
// matches x, the slot was recycled mid-read and the snapshot is discarded.
func (t *Table) Snapshot(x xid.XID) (Snapshot, bool) {
	ctx := &t.slots[x.Slot()]
	if ctx.owner.Load() != uint64(x) {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Owner:  x,
		Begin:  lsn.LSN(ctx.begin.Load()),
		End:    lsn.LSN(ctx.end.Load()),
		State:  State(ctx.state.Load()),
		PStamp: ctx.pstamp.Load(),
		SStamp: ctx.sstamp.Load(),
	}
	if ctx.owner.Load() != uint64(x) {
		return Snapshot{}, false
	}
	return snap, true
}

// SetBegin, SetState, SetEnd, SetPStamp, SetSStamp are writers used only
// by the owning transaction (never racing a remote inspector for the same
// field, per the sharing discipline: each writer is the owning thread).

func (c *Context) SetBegin(l lsn.LSN) { c.begin.Store(uint64(l)) }
func (c *Context) SetEnd(l lsn.LSN)   { c.end.Store(uint64(l)) }
func (c *Context) SetState(s State)   { c.state.Store(uint32(s)) }
func (c *Context) SetPStamp(v uint64) { c.pstamp.Store(v) }
func (c *Context) SetSStamp(v uint64) { c.sstamp.Store(v) }

func (c *Context) Begin() lsn.LSN  { return lsn.LSN(c.begin.Load()) }
func (c *Context) End() lsn.LSN    { return lsn.LSN(c.end.Load()) }
func (c *Context) State() State    { return State(c.state.Load()) }
func (c *Context) PStamp() uint64  { return c.pstamp.Load() }
func (c *Context) SStamp() uint64  { return c.sstamp.Load() }
func (c *Context) Owner() xid.XID  { return xid.XID(c.owner.Load()) }

// BumpPStamp performs the monotonic-max update used by both the owning
// transaction and, in the SSN writer scan, logic running on its behalf.
func (c *Context) BumpPStamp(v uint64) {
	for {
		old := c.pstamp.Load()
		if v <= old {
			return
		}
		if c.pstamp.CompareAndSwap(old, v) {
			return
		}
	}
}

// LowerSStamp performs the monotonic-min update (sstamp only ever
// shrinks from its ∞ starting value).
func (c *Context) LowerSStamp(v uint64) {
	for {
		old := c.sstamp.Load()
		if v >= old {
			return
		}
		if c.sstamp.CompareAndSwap(old, v) {
			return
		}
	}
}
